package hermes

import (
	"encoding/json"
	"log/slog"
	"time"
)

const (
	SubjectSessionStarted       = "reshaper.session.started"
	SubjectTransformPreviewed   = "reshaper.transform.previewed"
	SubjectVerificationRejected = "reshaper.verification.rejected"
	SubjectTransformCompleted   = "reshaper.transform.completed"
	SubjectTransformFailed      = "reshaper.transform.failed"

	// SubjectAll matches every subject above.
	SubjectAll = "reshaper.>"
)

// SessionEvent describes a change in a session's lifecycle. Fields that do not
// apply to a subject are left empty.
type SessionEvent struct {
	SessionID  string    `json:"session_id"`
	Format     string    `json:"format,omitempty"`
	InputRows  int       `json:"input_rows"`
	OutputRows int       `json:"output_rows,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	Round      int       `json:"round,omitempty"`
	Failure    string    `json:"failure,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Bus is the part of Client the publisher needs.
type Bus interface {
	Publish(subject string, data any) error
}

// Publisher emits session events. A Publisher without a bus drops everything,
// so callers never have to check whether NATS is configured.
type Publisher struct {
	bus    Bus
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(bus Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bus: bus, logger: logger, now: time.Now}
}

// Emit publishes ev on subject. Failures are logged and otherwise ignored.
func (p *Publisher) Emit(subject string, ev SessionEvent) {
	if p == nil || p.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}
	if err := p.bus.Publish(subject, ev); err != nil {
		p.logger.Warn("failed to publish event", "subject", subject, "session_id", ev.SessionID, "error", err)
	}
}

// Subscriber is the part of Client an event watcher needs.
type Subscriber interface {
	Subscribe(subject string, handler func(subject string, data []byte)) error
}

// Watch decodes session events published on subject and passes them to fn.
// Payloads that do not decode are logged and skipped.
func Watch(sub Subscriber, subject string, logger *slog.Logger, fn func(subject string, ev SessionEvent)) error {
	if logger == nil {
		logger = slog.Default()
	}
	return sub.Subscribe(subject, func(subj string, data []byte) {
		var ev SessionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("undecodable event", "subject", subj, "error", err)
			return
		}
		fn(subj, ev)
	})
}
