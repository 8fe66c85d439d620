package emit

import (
	"log/slog"
)

// LogEmitter writes events to a slog.Logger. Step failures log at error
// level, everything else at info.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates an emitter over the given logger. A nil logger uses
// slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	attrs := make([]any, 0, 6+2*len(event.Meta))
	attrs = append(attrs, "session", event.SessionID, "seq", event.Seq)
	if event.Step != "" {
		attrs = append(attrs, "step", event.Step)
	}
	for k, v := range event.Meta {
		attrs = append(attrs, k, v)
	}

	switch event.Msg {
	case MsgStepFailed, MsgRunFailed:
		l.logger.Error(event.Msg, attrs...)
	default:
		l.logger.Info(event.Msg, attrs...)
	}
}

// NullEmitter discards all events.
type NullEmitter struct{}

// NewNullEmitter creates an emitter that drops everything.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

// Emit implements Emitter.
func (*NullEmitter) Emit(Event) {}
