package marketdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/fintellix/internal/subjects"
)

var _ tool.InvokableTool = (*HistoryTool)(nil)

// HistoryTool exposes a Source to the chat backend as "price_history".
type HistoryTool struct {
	source Source
	limit  int
}

// NewHistoryTool returns nil when there is no source.
func NewHistoryTool(source Source, limit int) *HistoryTool {
	if source == nil {
		return nil
	}
	if hs, ok := source.(*HTTPSource); ok && hs == nil {
		return nil
	}
	if limit <= 0 {
		limit = 30
	}
	return &HistoryTool{source: source, limit: limit}
}

func (t *HistoryTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "price_history",
		Desc: "Get recent daily price history (JSON) for a stock ticker symbol.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"symbol": {
				Type:     schema.String,
				Desc:     "Ticker symbol, for example AAPL",
				Required: true,
			},
			"limit": {
				Type: schema.Integer,
				Desc: fmt.Sprintf("Number of most recent data points (default %d)", t.limit),
			},
		}),
	}, nil
}

type historyArgs struct {
	Symbol string `json:"symbol"`
	Limit  int    `json:"limit"`
}

func (t *HistoryTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args historyArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("price_history: parse args: %w", err)
	}
	subject, err := subjects.Normalize(args.Symbol)
	if err != nil {
		return "", fmt.Errorf("price_history: %w", err)
	}
	limit := args.Limit
	if limit <= 0 || limit > t.limit*4 {
		limit = t.limit
	}

	data, err := t.source.History(ctx, subject, limit)
	if err != nil {
		// Reported to the model as text so it can carry on without prices.
		return fmt.Sprintf("price history unavailable for %s: %v", subject, err), nil
	}
	return string(data), nil
}
