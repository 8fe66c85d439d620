package flow

import (
	"fmt"
	"time"

	"github.com/dshills/nl2sql-go/flow/emit"
)

const defaultMaxSteps = 100

type config struct {
	maxSteps       int
	defaultTimeout time.Duration
	emitter        emit.Emitter
	metrics        *Metrics
}

// Option configures an Engine.
type Option func(*config) error

// WithMaxSteps bounds the number of steps a single run may execute before
// it is failed, guarding against routing cycles. Default 100.
func WithMaxSteps(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("max steps must be positive, got %d", n)
		}
		c.maxSteps = n
		return nil
	}
}

// WithDefaultStepTimeout bounds each step execution that has no per-step
// timeout of its own. Zero (the default) means no timeout.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return fmt.Errorf("default step timeout must not be negative, got %s", d)
		}
		c.defaultTimeout = d
		return nil
	}
}

// WithEmitter directs execution events to the given emitter. Default: a
// NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(c *config) error {
		if e == nil {
			return fmt.Errorf("emitter must not be nil")
		}
		c.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *config) error {
		c.metrics = m
		return nil
	}
}
