// Package marketdata fetches the supplementary price series cached on each
// conversation and keeps it fresh on a cron schedule.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dohr-michael/fintellix/internal/subjects"
)

// ErrNoSource is returned when no source URL is configured.
var ErrNoSource = errors.New("no market data source configured")

// maxBody bounds a single history response.
const maxBody = 4 << 20

// Source returns a JSON price series for a subject.
type Source interface {
	History(ctx context.Context, subject subjects.Key, limit int) (json.RawMessage, error)
}

// HTTPSource fetches history from a URL template. {symbol} and {limit} are
// substituted before the request.
type HTTPSource struct {
	template string
	client   *http.Client
}

// NewHTTPSource creates a source for template. An empty template yields a nil
// source.
func NewHTTPSource(template string, timeout time.Duration) *HTTPSource {
	if template == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{template: template, client: &http.Client{Timeout: timeout}}
}

// URL returns the request URL for subject.
func (s *HTTPSource) URL(subject subjects.Key, limit int) string {
	return strings.NewReplacer(
		"{symbol}", url.PathEscape(string(subject)),
		"{limit}", strconv.Itoa(limit),
	).Replace(s.template)
}

func (s *HTTPSource) History(ctx context.Context, subject subjects.Key, limit int) (json.RawMessage, error) {
	if s == nil {
		return nil, ErrNoSource
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(subject, limit), nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", subject, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", subject, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch history for %s: status %d", subject, resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("history for %s is not valid json", subject)
	}
	return json.RawMessage(body), nil
}
