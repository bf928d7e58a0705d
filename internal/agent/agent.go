package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voyagekit/travel-concierge/internal/llm"
	"github.com/voyagekit/travel-concierge/internal/observability"
)

// Agent answers one user request within its specialty. Implementations read
// from and write to the shared state (the form agent records progress there).
type Agent interface {
	Name() string
	Description() string // one line used by the router to pick agents
	Run(ctx context.Context, st *State) (string, error)
}

// toolFunc executes one bound tool. Returned strings feed back to the model
// as tool messages; failures the model should see (bad city, no data) are
// returned as content, not as errors.
type toolFunc func(ctx context.Context, args json.RawMessage) (string, error)

// runToolLoop drives the chat/tool cycle for an agent: call the model, run
// any tools it requests, feed results back, repeat until the model answers
// with text. At maxIterations the loop degrades to the last partial text the
// model produced; it errors only when there is no text to fall back on.
func runToolLoop(ctx context.Context, client llm.Client, logger *zap.Logger, agentName string, seed []llm.Message, tools []llm.Tool, handlers map[string]toolFunc, maxIterations int) (string, error) {
	messages := seed
	lastContent := ""
	for i := 0; i < maxIterations; i++ {
		reply, err := client.Chat(ctx, llm.Request{Messages: messages, Tools: tools})
		if err != nil {
			return "", err
		}
		if len(reply.ToolCalls) == 0 {
			return reply.Content, nil
		}
		if reply.Content != "" {
			lastContent = reply.Content
		}

		messages = append(messages, reply)
		for _, call := range reply.ToolCalls {
			handler, ok := handlers[call.Function.Name]
			if !ok {
				observability.ToolCallsTotal.WithLabelValues(call.Function.Name, "unknown").Inc()
				messages = append(messages, llm.ToolMessage(fmt.Sprintf("Error: unknown tool %q.", call.Function.Name), call.ID))
				continue
			}
			result, err := handler(ctx, json.RawMessage(call.Function.Arguments))
			if err != nil {
				observability.ToolCallsTotal.WithLabelValues(call.Function.Name, "error").Inc()
				if logger != nil {
					logger.Warn("tool call failed", zap.String("agent", agentName), zap.String("tool", call.Function.Name), zap.Error(err))
				}
				// Surface the failure to the model so it can apologize usefully
				messages = append(messages, llm.ToolMessage(fmt.Sprintf("Error: %v", err), call.ID))
				continue
			}
			observability.ToolCallsTotal.WithLabelValues(call.Function.Name, "success").Inc()
			messages = append(messages, llm.ToolMessage(result, call.ID))
		}
	}
	// Out of iterations. Degrade to the model's last text if it gave any.
	if lastContent != "" {
		if logger != nil {
			logger.Warn("tool iteration limit reached, returning last text", zap.String("agent", agentName), zap.Int("max_iterations", maxIterations))
		}
		return lastContent, nil
	}
	return "", fmt.Errorf("agent %s exceeded %d tool iterations", agentName, maxIterations)
}

// observeRun wraps an agent invocation with run metrics.
func observeRun(agentName string, fn func() (string, error)) (string, error) {
	start := time.Now()
	result, err := fn()
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.AgentRunsTotal.WithLabelValues(agentName, status).Inc()
	observability.AgentRunDuration.WithLabelValues(agentName).Observe(time.Since(start).Seconds())
	return result, err
}

// mustSchema converts a JSON Schema literal into a RawMessage at init time.
func mustSchema(s string) json.RawMessage {
	if !json.Valid([]byte(s)) {
		panic("invalid tool schema: " + s)
	}
	return json.RawMessage(s)
}
