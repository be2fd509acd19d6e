package providers

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an unknown provider or model. It is raised at
// selection time, before anything is scheduled.
type ConfigurationError struct {
	Provider string
	Model    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("provider %q model %q: %s", e.Provider, e.Model, e.Reason)
	}
	return fmt.Sprintf("provider %q: %s", e.Provider, e.Reason)
}

// ProviderError is a backend failure during a query.
type ProviderError struct {
	Provider string
	Body     string // raw response body when the backend answered with garbage
	Cause    error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Cause != nil && e.Body != "":
		return fmt.Sprintf("%s: %v: %s", e.Provider, e.Cause, e.Body)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Cause)
	case e.Body != "":
		return fmt.Sprintf("%s unavailable: %s", e.Provider, e.Body)
	default:
		return e.Provider + " unavailable"
	}
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// ClassifyError prefixes common SDK errors with a readable category.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, "401", "403", "unauthorized", "invalid api key", "api key", "forbidden") {
		return fmt.Errorf("authentication failed: %w", err)
	}

	if containsAny(errStr, "429", "rate limit", "quota", "too many requests") {
		return fmt.Errorf("rate limited: %w", err)
	}

	if containsAny(errStr, "context length", "too many tokens", "max tokens", "token limit") {
		return fmt.Errorf("context too long: %w", err)
	}

	if containsAny(errStr, "model not found", "404", "not found") {
		return fmt.Errorf("model not found: %w", err)
	}

	if containsAny(errStr, "connection", "eof", "timeout", "dial", "refused", "deadline exceeded") {
		return fmt.Errorf("connection error: %w", err)
	}

	return err
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
