package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// noResponse is returned when the agent finishes without any assistant text.
const noResponse = "No response generated"

const agentMaxIterations = 12

// runAgent drives one ReAct loop: the backend may call tools several times
// before producing its final answer.
func runAgent(ctx context.Context, provider string, chatModel model.ToolCallingChatModel, q Query, tools []tool.InvokableTool) (string, error) {
	cfg := &adk.ChatModelAgentConfig{
		Name:          "fintellix",
		Description:   "Stock market analyst answering questions about one subject",
		Instruction:   q.SystemPrompt,
		Model:         chatModel,
		MaxIterations: agentMaxIterations,
	}
	if len(tools) > 0 {
		baseTools := make([]tool.BaseTool, len(tools))
		for i, t := range tools {
			baseTools[i] = t
		}
		cfg.ToolsConfig.Tools = baseTools
	}

	agent, err := adk.NewChatModelAgent(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("create agent: %w", err)
	}
	runner := adk.NewRunner(ctx, adk.RunnerConfig{
		Agent:           agent,
		EnableStreaming: false,
	})

	messages := []*schema.Message{
		{Role: schema.User, Content: q.Text},
	}

	slog.Debug("provider query", "provider", provider, "model", q.Model,
		"tools", len(tools), "query_length", len(q.Text))

	content, err := consumeRunnerOutput(ctx, runner, messages)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return noResponse, nil
	}
	return content, nil
}

// consumeRunnerOutput drains the agent event iterator and keeps the last
// assistant content. Tool results and tool-call-only turns are skipped.
func consumeRunnerOutput(ctx context.Context, runner *adk.Runner, messages []*schema.Message) (string, error) {
	iter := runner.Run(ctx, messages)

	var content string
	for {
		event, ok := iter.Next()
		if !ok {
			break
		}

		if event.Err != nil {
			return "", event.Err
		}

		if event.Output == nil || event.Output.MessageOutput == nil {
			continue
		}

		mv := event.Output.MessageOutput

		if mv.Role == schema.Tool {
			if mv.IsStreaming && mv.MessageStream != nil {
				mv.MessageStream.Close()
			}
			continue
		}

		if mv.IsStreaming && mv.MessageStream != nil {
			if streamed := consumeStream(mv.MessageStream); streamed != "" {
				content = streamed
			}
		} else if mv.Message != nil {
			if len(mv.Message.ToolCalls) > 0 && mv.Message.Content == "" {
				continue
			}
			if mv.Message.Content != "" {
				content = mv.Message.Content
			}
		}
	}

	return content, nil
}

func consumeStream(stream *schema.StreamReader[*schema.Message]) string {
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Error("provider stream error", "error", err)
			break
		}
		if chunk != nil {
			sb.WriteString(chunk.Content)
		}
	}
	return sb.String()
}
