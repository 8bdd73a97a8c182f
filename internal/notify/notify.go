package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Kind is the user-facing category of an event.
type Kind string

const (
	ProviderMissing      Kind = "provider-missing"
	RegistrationSuccess  Kind = "registration-success"
	RegistrationFailure  Kind = "registration-failure"
	RecordSetSuccess     Kind = "record-set-success"
	RecordSetFailure     Kind = "record-set-failure"
	RecordUpdated        Kind = "record-updated"
	DomainLengthError    Kind = "domain-length-validation-error"
	NetworkSwitchPrompt  Kind = "network-switch-prompt"
	GenericError         Kind = "generic-error"
	AwaitingWallet       Kind = "awaiting-wallet"
	AwaitingConfirmation Kind = "awaiting-confirmation"
)

// Level separates outcomes from progress updates.
type Level int

const (
	LevelProgress Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

// Event is one human-readable notification.
type Event struct {
	Kind    Kind
	Title   string
	Message string
	Domain  string
	// Link points at the block explorer when a transaction is involved.
	Link string
	Err  error
}

func (e Event) Level() Level {
	switch e.Kind {
	case RegistrationSuccess, RecordSetSuccess, RecordUpdated:
		return LevelSuccess
	case AwaitingWallet, AwaitingConfirmation:
		return LevelProgress
	case NetworkSwitchPrompt:
		return LevelWarning
	}
	return LevelError
}

// Sink receives notifications. Implementations must not block for long; the
// workflow that emits them waits for Notify to return.
type Sink interface {
	Notify(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// Multi fans an event out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Notify(ctx, e)
			}
		}
	})
}

// LogSink writes events as structured log records.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) Notify(ctx context.Context, e Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"kind", string(e.Kind)}
	if e.Domain != "" {
		attrs = append(attrs, "domain", e.Domain)
	}
	if e.Link != "" {
		attrs = append(attrs, "link", e.Link)
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}
	switch e.Level() {
	case LevelError:
		logger.ErrorContext(ctx, e.Message, attrs...)
	case LevelWarning:
		logger.WarnContext(ctx, e.Message, attrs...)
	case LevelProgress:
		logger.DebugContext(ctx, e.Message, attrs...)
	default:
		logger.InfoContext(ctx, e.Message, attrs...)
	}
}

// Recorder keeps every event; safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds lists recorded kinds, skipping progress events.
func (r *Recorder) Kinds() []Kind {
	var out []Kind
	for _, e := range r.Events() {
		if e.Level() != LevelProgress {
			out = append(out, e.Kind)
		}
	}
	return out
}

// Last returns the most recent non-progress event.
func (r *Recorder) Last() (Event, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Level() != LevelProgress {
			return events[i], true
		}
	}
	return Event{}, false
}
