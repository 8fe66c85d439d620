package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreConformance(t *testing.T) {
	runStoreConformanceTests(t, NewMemoryStore[testState]())
}

func TestMemoryStoreCopiesOnRead(t *testing.T) {
	type deepState struct {
		Values map[string]string `json:"values"`
	}
	st := NewMemoryStore[deepState]()
	ctx := context.Background()

	cp := Checkpoint[deepState]{
		SessionID: "s1",
		Seq:       1,
		State:     deepState{Values: map[string]string{"k": "v"}},
		Cursor:    Cursor{Status: StatusRunning},
		CreatedAt: time.Now().UTC(),
	}
	if err := st.Append(ctx, cp); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	first, err := st.Latest(ctx, "s1")
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	first.State.Values["k"] = "mutated"

	second, err := st.Latest(ctx, "s1")
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if second.State.Values["k"] != "v" {
		t.Error("mutating a read checkpoint leaked into the store")
	}
}
