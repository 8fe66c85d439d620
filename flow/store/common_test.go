package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testState is a minimal state shape for exercising stores.
type testState struct {
	Counter int    `json:"counter"`
	Note    string `json:"note"`
}

func checkpoint(sessionID string, seq int, counter int, cursor Cursor) Checkpoint[testState] {
	return Checkpoint[testState]{
		SessionID: sessionID,
		Seq:       seq,
		State:     testState{Counter: counter, Note: "note"},
		Cursor:    cursor,
		CreatedAt: time.Now().UTC(),
	}
}

// runStoreConformanceTests exercises the Store contract against any
// implementation.
func runStoreConformanceTests(t *testing.T, st Store[testState]) {
	t.Helper()
	ctx := context.Background()

	t.Run("latest on unknown session", func(t *testing.T) {
		_, err := st.Latest(ctx, "unknown")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("history on unknown session is empty", func(t *testing.T) {
		history, err := st.History(ctx, "unknown")
		if err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if len(history) != 0 {
			t.Errorf("history length = %d, want 0", len(history))
		}
	})

	t.Run("append and read back", func(t *testing.T) {
		cursor := Cursor{Step: "work", Status: StatusRunning}
		if err := st.Append(ctx, checkpoint("conf-1", 1, 10, cursor)); err != nil {
			t.Fatalf("append failed: %v", err)
		}

		got, err := st.Latest(ctx, "conf-1")
		if err != nil {
			t.Fatalf("latest failed: %v", err)
		}
		if got.SessionID != "conf-1" || got.Seq != 1 {
			t.Errorf("latest = %s/%d, want conf-1/1", got.SessionID, got.Seq)
		}
		if got.State.Counter != 10 || got.State.Note != "note" {
			t.Errorf("state = %+v, want counter 10", got.State)
		}
		if got.Cursor.Step != "work" || got.Cursor.Status != StatusRunning {
			t.Errorf("cursor = %+v, want work/running", got.Cursor)
		}
	})

	t.Run("latest tracks highest seq", func(t *testing.T) {
		if err := st.Append(ctx, checkpoint("conf-1", 2, 20, Cursor{Step: "more", Status: StatusDone})); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		got, err := st.Latest(ctx, "conf-1")
		if err != nil {
			t.Fatalf("latest failed: %v", err)
		}
		if got.Seq != 2 || got.State.Counter != 20 {
			t.Errorf("latest = seq %d counter %d, want 2/20", got.Seq, got.State.Counter)
		}
	})

	t.Run("history in order", func(t *testing.T) {
		history, err := st.History(ctx, "conf-1")
		if err != nil {
			t.Fatalf("history failed: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("history length = %d, want 2", len(history))
		}
		for i, cp := range history {
			if cp.Seq != i+1 {
				t.Errorf("history[%d].Seq = %d, want %d", i, cp.Seq, i+1)
			}
		}
	})

	t.Run("rejects non-monotonic seq", func(t *testing.T) {
		tests := []int{1, 2, 4, 0}
		for _, seq := range tests {
			err := st.Append(ctx, checkpoint("conf-1", seq, 0, Cursor{Status: StatusRunning}))
			if !errors.Is(err, ErrSequenceConflict) {
				t.Errorf("append seq %d: err = %v, want ErrSequenceConflict", seq, err)
			}
		}
		// A rejected append must not have written anything.
		got, err := st.Latest(ctx, "conf-1")
		if err != nil {
			t.Fatalf("latest failed: %v", err)
		}
		if got.Seq != 2 {
			t.Errorf("latest seq after rejected appends = %d, want 2", got.Seq)
		}
	})

	t.Run("first checkpoint must be seq 1", func(t *testing.T) {
		err := st.Append(ctx, checkpoint("conf-2", 5, 0, Cursor{Status: StatusRunning}))
		if !errors.Is(err, ErrSequenceConflict) {
			t.Errorf("err = %v, want ErrSequenceConflict", err)
		}
	})

	t.Run("sessions are independent", func(t *testing.T) {
		if err := st.Append(ctx, checkpoint("conf-3", 1, 99, Cursor{Status: StatusSuspended, Payload: map[string]any{"q": "ok?"}})); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		got, err := st.Latest(ctx, "conf-3")
		if err != nil {
			t.Fatalf("latest failed: %v", err)
		}
		if got.State.Counter != 99 || got.Cursor.Status != StatusSuspended {
			t.Errorf("latest = %+v, want counter 99 suspended", got)
		}
		payload, ok := got.Cursor.Payload.(map[string]any)
		if !ok || payload["q"] != "ok?" {
			t.Errorf("payload = %v, want the suspend payload round-tripped", got.Cursor.Payload)
		}

		other, err := st.Latest(ctx, "conf-1")
		if err != nil {
			t.Fatalf("latest failed: %v", err)
		}
		if other.Seq != 2 {
			t.Errorf("conf-1 latest seq = %d, want 2", other.Seq)
		}
	})
}
