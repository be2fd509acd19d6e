// Package callbacks provides Eino callback handlers that bridge to the event bus.
package callbacks

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	ub "github.com/cloudwego/eino/utils/callbacks"

	"github.com/dohr-michael/fintellix/internal/events"
)

// maxPayload bounds tool arguments and results copied into events.
const maxPayload = 1000

// NewEventBusHandler creates a handler publishing model and tool activity of
// running jobs. Events carry the subject found in the call context.
func NewEventBusHandler(bus *events.Bus) callbacks.Handler {
	publish := func(ctx context.Context, payload events.EventPayload) {
		bus.Publish(events.NewSubjectEvent(events.SourceAgent, events.SubjectFromContext(ctx), payload))
	}

	modelHandler := &ub.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *model.CallbackInput) context.Context {
			payload := events.LLMCallPayload{Phase: "request", Model: info.Name}
			if input != nil {
				payload.MessageCount = len(input.Messages)
			}
			publish(ctx, payload)
			return ctx
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *model.CallbackOutput) context.Context {
			payload := events.LLMCallPayload{Phase: "response", Model: info.Name}
			if output != nil && output.TokenUsage != nil {
				payload.TokensInput = output.TokenUsage.PromptTokens
				payload.TokensOutput = output.TokenUsage.CompletionTokens
			}
			publish(ctx, payload)
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publish(ctx, events.LLMCallPayload{Phase: "error", Model: info.Name, Error: err.Error()})
			return ctx
		},
	}

	toolHandler := &ub.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *tool.CallbackInput) context.Context {
			payload := events.ToolCallPayload{Status: events.ToolStatusStarted, Name: info.Name}
			if input != nil {
				payload.Arguments = truncatePayload(input.ArgumentsInJSON, maxPayload)
			}
			publish(ctx, payload)
			return ctx
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *tool.CallbackOutput) context.Context {
			payload := events.ToolCallPayload{Status: events.ToolStatusCompleted, Name: info.Name}
			if output != nil {
				payload.Result = truncatePayload(output.Response, maxPayload)
			}
			publish(ctx, payload)
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publish(ctx, events.ToolCallPayload{
				Status: events.ToolStatusFailed,
				Name:   info.Name,
				Error:  err.Error(),
			})
			return ctx
		},
	}

	return ub.NewHandlerHelper().
		ChatModel(modelHandler).
		Tool(toolHandler).
		Handler()
}

// Install registers the bus handler for every eino run in the process.
func Install(bus *events.Bus) {
	callbacks.AppendGlobalHandlers(NewEventBusHandler(bus))
}

func truncatePayload(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
