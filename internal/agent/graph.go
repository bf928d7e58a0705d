// Package agent implements the travel concierge's multi-agent orchestration.
// A receptionist graph routes each request to specialized agents (weather,
// exchange, flights, booking form) and combines their answers into one reply.
package agent

import (
	"context"
	"fmt"
)

// End is the terminal node name. A conditional edge returning End stops the run.
const End = "__end__"

// NodeFunc executes one node against the shared state.
type NodeFunc func(ctx context.Context, st *State) error

// Graph is a small state-machine runner. Nodes mutate shared state; edges
// decide which node runs next. Execution is strictly sequential.
type Graph struct {
	nodes       map[string]NodeFunc
	edges       map[string]string             // static from -> to
	conditional map[string]func(st *State) string // from -> decide(to)
	entry       string
	limit       int // maximum node executions per run
}

// NewGraph creates an empty graph with the given recursion limit. A limit of
// zero or less disables the guard (not recommended outside tests).
func NewGraph(limit int) *Graph {
	return &Graph{
		nodes:       make(map[string]NodeFunc),
		edges:       make(map[string]string),
		conditional: make(map[string]func(st *State) string),
		limit:       limit,
	}
}

// AddNode registers a named node.
func (g *Graph) AddNode(name string, fn NodeFunc) {
	g.nodes[name] = fn
}

// AddEdge registers a static transition from one node to another.
func (g *Graph) AddEdge(from, to string) {
	g.edges[from] = to
}

// AddConditionalEdge registers a transition decided at runtime from state.
// Conditional edges take precedence over static ones.
func (g *Graph) AddConditionalEdge(from string, decide func(st *State) string) {
	g.conditional[from] = decide
}

// SetEntry sets the node a run starts from.
func (g *Graph) SetEntry(name string) {
	g.entry = name
}

// Run executes the graph until a node transitions to End or no edge exists.
// Returns an error if a node fails, an edge names an unknown node, or the
// recursion limit is exceeded.
func (g *Graph) Run(ctx context.Context, st *State) error {
	current := g.entry
	steps := 0
	for current != End {
		if g.limit > 0 && steps >= g.limit {
			return fmt.Errorf("recursion limit of %d reached", g.limit)
		}
		node, ok := g.nodes[current]
		if !ok {
			return fmt.Errorf("unknown node %q", current)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := node(ctx, st); err != nil {
			return fmt.Errorf("node %s: %w", current, err)
		}
		steps++

		if decide, ok := g.conditional[current]; ok {
			current = decide(st)
			continue
		}
		next, ok := g.edges[current]
		if !ok {
			return fmt.Errorf("no edge out of node %q", current)
		}
		current = next
	}
	return nil
}

// State is the shared request state flowing through the graph.
type State struct {
	Input    string            // the user's question
	ClientIP string            // caller IP for geolocation-aware agents
	Routes   []string          // agents chosen by the receptionist
	Results  map[string]string // per-agent answers, keyed by agent name
	Form     TripFormState     // booking form progress
	Response string            // final combined answer
}

// NewState creates a State for one request.
func NewState(input, clientIP string) *State {
	return &State{
		Input:    input,
		ClientIP: clientIP,
		Results:  make(map[string]string),
	}
}
