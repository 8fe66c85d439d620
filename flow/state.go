// Package flow provides a durable workflow execution engine for
// conversational, multi-step agent pipelines.
//
// A workflow is a directed graph of named steps. Each step reads a snapshot
// of the session state, produces a delta, and the engine merges the delta,
// checkpoints the result, and routes to the next step. Steps may suspend a
// session to wait for external input; suspended sessions hold no resources
// and survive process restarts because every completed step is persisted to
// a checkpoint store before the engine moves on.
//
// Basic usage:
//
//	g, err := flow.NewBuilder().
//	    AddStep("greet", greetStep).
//	    SetEntry("greet").
//	    AddEdge("greet", flow.End).
//	    Compile()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, err := flow.New(g, store.NewMemoryStore[flow.State]())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := eng.Start(ctx, "session-1", flow.Delta{
//	    History: []flow.Message{{Role: flow.RoleUser, Content: "hi"}},
//	})
package flow

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a conversation message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in the conversational history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// State is the session state threaded through a workflow run.
//
// History is append-only: steps contribute messages through their delta and
// the engine concatenates them in completion order. Values holds scalar
// fields written last-write-wins; values must be JSON-serializable because
// state round-trips through the checkpoint store.
type State struct {
	History []Message      `json:"history"`
	Values  map[string]any `json:"values"`
}

// Delta is a step's contribution to session state. History entries are
// appended to the session history; Values entries overwrite existing fields
// key by key.
type Delta struct {
	History []Message      `json:"history,omitempty"`
	Values  map[string]any `json:"values,omitempty"`
}

// Merge applies delta to base and returns the resulting state. The inputs
// are not mutated; the result shares no mutable structure with either, so a
// step holding a reference to its snapshot cannot observe later merges.
//
// Merge is associative over deltas: folding a sequence of deltas one at a
// time produces the same state as any grouping of the same sequence.
func Merge(base State, delta Delta) State {
	merged := State{
		History: make([]Message, 0, len(base.History)+len(delta.History)),
		Values:  make(map[string]any, len(base.Values)+len(delta.Values)),
	}
	merged.History = append(merged.History, base.History...)
	merged.History = append(merged.History, delta.History...)
	for k, v := range base.Values {
		merged.Values[k] = v
	}
	for k, v := range delta.Values {
		merged.Values[k] = v
	}
	return merged
}

// StringValue returns the value stored under key if it is a string, or ""
// when the key is absent or holds a non-string.
func (s State) StringValue(key string) string {
	v, _ := s.Values[key].(string)
	return v
}

// LastMessage returns the most recent history entry with the given role,
// and false when none exists.
func (s State) LastMessage(role Role) (Message, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == role {
			return s.History[i], true
		}
	}
	return Message{}, false
}

// clone produces a deep copy of the state via a JSON round trip. Nested
// values inside Values come back as generic JSON types (map[string]any,
// []any, float64), matching what a checkpoint reload produces, so steps see
// the same shapes whether the state came from memory or from storage.
func clone(s State) (State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return State{}, fmt.Errorf("failed to serialize state: %w", err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return State{}, fmt.Errorf("failed to deserialize state: %w", err)
	}
	if out.Values == nil {
		out.Values = map[string]any{}
	}
	return out, nil
}
