package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/bingsearch"
	duckduckgo "github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/fintellix/internal/config"
)

// Toolset assembles the auxiliary tools offered to the backend on each query.
type Toolset struct {
	web   config.WebSearchConfig
	extra []tool.InvokableTool
	now   func() time.Time
}

// NewToolset creates a toolset. extra tools (a price history lookup, for
// instance) are offered on every query.
func NewToolset(web config.WebSearchConfig, extra ...tool.InvokableTool) *Toolset {
	return &Toolset{web: web, extra: extra, now: time.Now}
}

// For returns the tools for q. A web search tool that fails to build is
// logged and left out rather than failing the query.
func (ts *Toolset) For(ctx context.Context, q Query) []tool.InvokableTool {
	if ts == nil {
		return nil
	}
	tools := []tool.InvokableTool{&currentDateTool{now: ts.now}}
	tools = append(tools, ts.extra...)

	if q.WebSearch && ts.web.IsEnabled() {
		search, err := newWebSearchTool(ctx, ts.web)
		if err != nil {
			slog.Warn("web_search unavailable", "error", err)
		} else {
			tools = append(tools, search)
		}
	}
	return tools
}

const (
	webSearchName = "web_search"
	webSearchDesc = "Search the web for news, articles and market information about stocks and companies."
)

// newWebSearchTool builds web_search on the configured engine. Bing and
// Google need credentials; without them the tool is not offered.
func newWebSearchTool(ctx context.Context, cfg config.WebSearchConfig) (tool.InvokableTool, error) {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch cfg.Engine {
	case "", config.EngineDuckDuckGo:
		return duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
			ToolName:   webSearchName,
			ToolDesc:   webSearchDesc,
			MaxResults: maxResults,
			Timeout:    timeout,
		})
	case config.EngineBing:
		key := resolveSecret(cfg.BingAPIKey, "BING_API_KEY")
		if key == "" {
			return nil, errors.New("bing: no API key (set BING_API_KEY)")
		}
		return bingsearch.NewTool(ctx, &bingsearch.Config{
			ToolName:   webSearchName,
			ToolDesc:   webSearchDesc,
			APIKey:     key,
			MaxResults: maxResults,
			Timeout:    timeout,
		})
	case config.EngineGoogle:
		key := resolveSecret(cfg.GoogleAPIKey, "GOOGLE_API_KEY")
		cx := resolveSecret(cfg.GoogleCX, "GOOGLE_CX")
		if key == "" || cx == "" {
			return nil, errors.New("google: API key and search engine id required (GOOGLE_API_KEY, GOOGLE_CX)")
		}
		return googlesearch.NewTool(ctx, &googlesearch.Config{
			ToolName:       webSearchName,
			ToolDesc:       webSearchDesc,
			APIKey:         key,
			SearchEngineID: cx,
			Num:            min(maxResults, 10),
		})
	default:
		return nil, fmt.Errorf("unknown search engine %q", cfg.Engine)
	}
}

// currentDateTool lets the backend anchor its searches on today's date.
type currentDateTool struct {
	now func() time.Time
}

func (t *currentDateTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "get_current_date",
		Desc: "Get today's date. Call this first so searches and price lookups use the right date.",
	}, nil
}

func (t *currentDateTool) InvokableRun(_ context.Context, _ string, _ ...tool.Option) (string, error) {
	return t.now().Format("Monday, January 2, 2006"), nil
}
