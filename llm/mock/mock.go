// Package mock provides a scripted llm.Model for tests.
package mock

import (
	"context"
	"sync"

	"github.com/dshills/nl2sql-go/llm"
)

// Model returns canned responses in order. After the script is exhausted it
// keeps returning the last response, so a test only scripts the calls it
// cares about. Requests are recorded for assertion.
type Model struct {
	mu        sync.Mutex
	responses []string
	err       error
	next      int
	requests  []llm.Request
}

// New creates a scripted model that replies with the given responses in
// order.
func New(responses ...string) *Model {
	return &Model{responses: responses}
}

// NewError creates a model whose every call fails with err.
func NewError(err error) *Model {
	return &Model{err: err}
}

// Generate implements llm.Model.
func (m *Model) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.err != nil {
		return llm.Response{}, m.err
	}
	if len(m.responses) == 0 {
		return llm.Response{}, nil
	}

	i := m.next
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	m.next++
	return llm.Response{Text: m.responses[i]}, nil
}

// Requests returns a copy of every request seen so far.
func (m *Model) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// Calls returns how many times Generate was invoked.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
