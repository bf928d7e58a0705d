package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voyagekit/travel-concierge/internal/llm"
	"github.com/voyagekit/travel-concierge/internal/observability"
)

const (
	nodeDecideRoute = "decide_route"
	nodeCombine     = "combine_results"

	// routeFallback is used when the router's answer names no known agent.
	routeFallback = "weather"
)

const combineSystemPrompt = "You are a friendly and professional travel assistant. " +
	"Combine the following information into a single response in a consistent voice. " +
	"Keep it concise, helpful, and natural."

// noResultsText is returned through the combiner when no agent produced output.
const noResultsText = "No relevant information found."

// Receptionist routes each request to specialized agents and merges their
// answers. Agents run sequentially in route order; the same graph instance
// serves concurrent requests since all mutable state lives in State.
type Receptionist struct {
	llm    llm.Client
	agents map[string]Agent
	order  []string // registration order, used in the routing prompt
	graph  *Graph
	logger *zap.Logger
}

// NewReceptionist creates a Receptionist over the given agents. The recursion
// limit bounds graph node executions per request, protecting against routing
// loops.
func NewReceptionist(llmClient llm.Client, agents []Agent, recursionLimit int, logger *zap.Logger) *Receptionist {
	r := &Receptionist{
		llm:    llmClient,
		agents: make(map[string]Agent, len(agents)),
		logger: logger,
	}
	for _, a := range agents {
		r.agents[a.Name()] = a
		r.order = append(r.order, a.Name())
	}

	g := NewGraph(recursionLimit)
	g.AddNode(nodeDecideRoute, r.decideRoute)
	g.AddNode(nodeCombine, r.combineResults)
	g.AddConditionalEdge(nodeDecideRoute, r.nextRoute)
	for _, a := range agents {
		agent := a
		g.AddNode(agent.Name(), func(ctx context.Context, st *State) error {
			result, err := agent.Run(ctx, st)
			if err != nil {
				return fmt.Errorf("agent %s: %w", agent.Name(), err)
			}
			st.Results[agent.Name()] = result
			return nil
		})
		g.AddConditionalEdge(agent.Name(), r.nextRoute)
	}
	g.AddEdge(nodeCombine, End)
	g.SetEntry(nodeDecideRoute)
	r.graph = g
	return r
}

// Ask answers one user question end to end.
func (r *Receptionist) Ask(ctx context.Context, input, clientIP string) (string, error) {
	start := time.Now()
	st := NewState(input, clientIP)
	err := r.graph.Run(ctx, st)
	observability.RecordAsk(st.Routes)
	if err != nil {
		return "", err
	}
	if r.logger != nil {
		r.logger.Info("ask completed",
			zap.Strings("routes", st.Routes),
			zap.Duration("duration", time.Since(start)))
	}
	return st.Response, nil
}

// decideRoute asks the model which agents should handle the request. Unknown
// names are dropped; an empty decision falls back to the weather agent.
func (r *Receptionist) decideRoute(ctx context.Context, st *State) error {
	var lines []string
	for _, name := range r.order {
		lines = append(lines, fmt.Sprintf("- '%s': %s", name, r.agents[name].Description()))
	}
	system := llm.SystemMessage(fmt.Sprintf(
		"You are a routing assistant. Given the user's request, decide which specialized agents should handle it.\n"+
			"Available agents:\n%s\n"+
			"Respond with only the agent names separated by commas, or pick one.",
		strings.Join(lines, "\n")))

	reply, err := r.llm.Chat(ctx, llm.Request{Messages: []llm.Message{system, llm.UserMessage(st.Input)}})
	if err != nil {
		return fmt.Errorf("route decision: %w", err)
	}

	st.Routes = r.normalizeRoutes(reply.Content)
	if r.logger != nil {
		r.logger.Debug("route decided", zap.String("decision", reply.Content), zap.Strings("routes", st.Routes))
	}
	return nil
}

// normalizeRoutes parses the router's comma-separated answer into known agent
// names, deduplicated, preserving the model's order.
func (r *Receptionist) normalizeRoutes(decision string) []string {
	seen := make(map[string]bool)
	var routes []string
	for _, part := range strings.Split(strings.ToLower(decision), ",") {
		name := strings.Trim(strings.TrimSpace(part), "'\".")
		if name == "both" {
			// Older router phrasing for weather plus exchange
			for _, n := range []string{"weather", "exchange"} {
				if _, ok := r.agents[n]; ok && !seen[n] {
					seen[n] = true
					routes = append(routes, n)
				}
			}
			continue
		}
		if _, ok := r.agents[name]; ok && !seen[name] {
			seen[name] = true
			routes = append(routes, name)
		}
	}
	if len(routes) == 0 {
		if _, ok := r.agents[routeFallback]; ok {
			routes = []string{routeFallback}
		}
	}
	return routes
}

// nextRoute picks the first chosen agent that has not produced a result yet,
// or moves on to combining.
func (r *Receptionist) nextRoute(st *State) string {
	for _, route := range st.Routes {
		if _, done := st.Results[route]; !done {
			return route
		}
	}
	return nodeCombine
}

// combineResults merges the agents' answers into a single voice.
func (r *Receptionist) combineResults(ctx context.Context, st *State) error {
	var texts []string
	for _, route := range st.Routes {
		if text := st.Results[route]; text != "" {
			texts = append(texts, text)
		}
	}
	// Results outside the chosen routes should not happen, but don't lose
	// them if they do.
	if len(texts) == 0 && len(st.Results) > 0 {
		var names []string
		for name := range st.Results {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if text := st.Results[name]; text != "" {
				texts = append(texts, text)
			}
		}
	}

	combined := strings.Join(texts, "\n\n")
	if combined == "" {
		combined = noResultsText
	}

	reply, err := r.llm.Chat(ctx, llm.Request{Messages: []llm.Message{
		llm.SystemMessage(combineSystemPrompt),
		llm.UserMessage(combined),
	}})
	if err != nil {
		return fmt.Errorf("combine results: %w", err)
	}
	st.Response = reply.Content
	return nil
}
