package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestGraph_Run_LinearFlow(t *testing.T) {
	g := NewGraph(10)
	var order []string
	g.AddNode("a", func(ctx context.Context, st *State) error {
		order = append(order, "a")
		return nil
	})
	g.AddNode("b", func(ctx context.Context, st *State) error {
		order = append(order, "b")
		return nil
	})
	g.SetEntry("a")
	g.AddEdge("a", "b")
	g.AddEdge("b", End)

	if err := g.Run(context.Background(), NewState("hi", "")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := strings.Join(order, ","); got != "a,b" {
		t.Errorf("execution order = %s, want a,b", got)
	}
}

func TestGraph_Run_ConditionalEdge(t *testing.T) {
	g := NewGraph(10)
	g.AddNode("route", func(ctx context.Context, st *State) error {
		st.Routes = []string{"left"}
		return nil
	})
	visited := ""
	g.AddNode("left", func(ctx context.Context, st *State) error {
		visited = "left"
		return nil
	})
	g.AddNode("right", func(ctx context.Context, st *State) error {
		visited = "right"
		return nil
	})
	g.SetEntry("route")
	g.AddConditionalEdge("route", func(st *State) string { return st.Routes[0] })
	g.AddEdge("left", End)
	g.AddEdge("right", End)

	if err := g.Run(context.Background(), NewState("hi", "")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if visited != "left" {
		t.Errorf("visited = %q, want left", visited)
	}
}

func TestGraph_Run_ConditionalTakesPrecedence(t *testing.T) {
	g := NewGraph(10)
	g.AddNode("a", func(ctx context.Context, st *State) error { return nil })
	g.AddNode("b", func(ctx context.Context, st *State) error {
		st.Response = "via conditional"
		return nil
	})
	g.SetEntry("a")
	g.AddEdge("a", End) // static edge would stop immediately
	g.AddConditionalEdge("a", func(st *State) string { return "b" })
	g.AddEdge("b", End)

	st := NewState("hi", "")
	if err := g.Run(context.Background(), st); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Response != "via conditional" {
		t.Error("conditional edge did not take precedence over static edge")
	}
}

func TestGraph_Run_NodeError(t *testing.T) {
	g := NewGraph(10)
	sentinel := errors.New("boom")
	g.AddNode("a", func(ctx context.Context, st *State) error { return sentinel })
	g.SetEntry("a")
	g.AddEdge("a", End)

	err := g.Run(context.Background(), NewState("hi", ""))
	if !errors.Is(err, sentinel) {
		t.Errorf("Run() error = %v, want wrapped sentinel", err)
	}
	if err == nil || !strings.Contains(err.Error(), "node a") {
		t.Errorf("Run() error = %v, want node name in message", err)
	}
}

func TestGraph_Run_RecursionLimit(t *testing.T) {
	g := NewGraph(5)
	g.AddNode("loop", func(ctx context.Context, st *State) error { return nil })
	g.SetEntry("loop")
	g.AddEdge("loop", "loop")

	err := g.Run(context.Background(), NewState("hi", ""))
	if err == nil || !strings.Contains(err.Error(), "recursion limit of 5") {
		t.Errorf("Run() error = %v, want recursion limit error", err)
	}
}

func TestGraph_Run_UnknownNode(t *testing.T) {
	g := NewGraph(10)
	g.AddNode("a", func(ctx context.Context, st *State) error { return nil })
	g.SetEntry("a")
	g.AddEdge("a", "missing")

	err := g.Run(context.Background(), NewState("hi", ""))
	if err == nil || !strings.Contains(err.Error(), `"missing"`) {
		t.Errorf("Run() error = %v, want unknown node error", err)
	}
}

func TestGraph_Run_NoEdge(t *testing.T) {
	g := NewGraph(10)
	g.AddNode("a", func(ctx context.Context, st *State) error { return nil })
	g.SetEntry("a")

	err := g.Run(context.Background(), NewState("hi", ""))
	if err == nil || !strings.Contains(err.Error(), "no edge") {
		t.Errorf("Run() error = %v, want no-edge error", err)
	}
}

func TestGraph_Run_ContextCancellation(t *testing.T) {
	g := NewGraph(10)
	ctx, cancel := context.WithCancel(context.Background())
	g.AddNode("a", func(ctx context.Context, st *State) error {
		cancel()
		return nil
	})
	g.AddNode("b", func(ctx context.Context, st *State) error {
		t.Error("node b must not run after cancellation")
		return nil
	})
	g.SetEntry("a")
	g.AddEdge("a", "b")
	g.AddEdge("b", End)

	err := g.Run(ctx, NewState("hi", ""))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
