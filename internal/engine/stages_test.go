package engine

import (
	"context"
	"errors"
	"testing"
)

func TestStageList_RunsInOrder(t *testing.T) {
	var order []string
	l := NewStageList(
		Stage{Name: "a", Run: func(ctx context.Context) error { order = append(order, "a"); return nil }},
		Stage{Name: "b", Run: func(ctx context.Context) error { order = append(order, "b"); return nil }},
	)
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("unexpected order: %v", order)
	}
}

func TestStageList_StopsAtFirstError(t *testing.T) {
	var ran []string
	boom := errors.New("boom")
	l := NewStageList(
		Stage{Name: "a", Run: func(ctx context.Context) error { ran = append(ran, "a"); return nil }},
		Stage{Name: "b", Run: func(ctx context.Context) error { return boom }},
		Stage{Name: "c", Run: func(ctx context.Context) error { ran = append(ran, "c"); return nil }},
	)
	err := l.Run(context.Background())
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom error, got %v", err)
	}
	if len(ran) != 1 || ran[0] != "a" {
		t.Errorf("stage c should not have run after b failed, got %v", ran)
	}
}

func TestStageList_RemoveAndInsertBefore(t *testing.T) {
	l := NewStageList(
		Stage{Name: "a", Run: func(ctx context.Context) error { return nil }},
		Stage{Name: "c", Run: func(ctx context.Context) error { return nil }},
	)
	l.InsertBefore("c", Stage{Name: "b", Run: func(ctx context.Context) error { return nil }})
	if got := l.Names(); len(got) != 3 || got[1] != "b" {
		t.Fatalf("expected [a b c], got %v", got)
	}

	l.Remove("b")
	if got := l.Names(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("expected [a c] after Remove, got %v", got)
	}
}

func TestStageList_InsertBeforeUnknownNameAppends(t *testing.T) {
	l := NewStageList(Stage{Name: "a", Run: func(ctx context.Context) error { return nil }})
	l.InsertBefore("missing", Stage{Name: "z", Run: func(ctx context.Context) error { return nil }})
	if got := l.Names(); len(got) != 2 || got[1] != "z" {
		t.Fatalf("expected append-on-miss, got %v", got)
	}
}
