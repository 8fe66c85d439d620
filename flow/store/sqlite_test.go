package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStoreConformance(t *testing.T) {
	st, err := NewSQLiteStore[testState](filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	runStoreConformanceTests(t, st)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	ctx := context.Background()

	st, err := NewSQLiteStore[testState](path)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	cp := Checkpoint[testState]{
		SessionID: "s1",
		Seq:       1,
		State:     testState{Counter: 7},
		Cursor:    Cursor{Step: "work", Status: StatusSuspended, Payload: "pending"},
		CreatedAt: time.Now().UTC(),
	}
	if err := st.Append(ctx, cp); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewSQLiteStore[testState](path)
	if err != nil {
		t.Fatalf("failed to reopen sqlite store: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	got, err := reopened.Latest(ctx, "s1")
	if err != nil {
		t.Fatalf("latest after reopen failed: %v", err)
	}
	if got.State.Counter != 7 || got.Cursor.Status != StatusSuspended {
		t.Errorf("reloaded checkpoint = %+v, want counter 7 suspended", got)
	}
	if got.Cursor.Payload != "pending" {
		t.Errorf("payload = %v, want pending", got.Cursor.Payload)
	}
}

func TestSQLiteStoreClosedErrors(t *testing.T) {
	st, err := NewSQLiteStore[testState](filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := st.Append(context.Background(), checkpoint("s1", 1, 0, Cursor{Status: StatusRunning})); err == nil {
		t.Error("append on closed store succeeded")
	}
	if _, err := st.Latest(context.Background(), "s1"); err == nil {
		t.Error("latest on closed store succeeded")
	}
}
