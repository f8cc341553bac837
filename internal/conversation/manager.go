package conversation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/reshaper/internal/dataset"
	"github.com/MikeSquared-Agency/reshaper/internal/formats"
)

// DefaultWindow is the number of recent messages sent to the model verbatim.
const DefaultWindow = 8

// Summarizer condenses older turns into a short digest.
type Summarizer interface {
	Summarize(ctx context.Context, priorSummary string, messages []Message) (string, error)
}

// State is a copy of the manager's state.
type State struct {
	History            []Message `json:"history"`
	Window             []Message `json:"window"`
	Summary            string    `json:"summary,omitempty"`
	RoundsSinceSummary int       `json:"rounds_since_summary"`
}

// ModelContext is everything the model sees for one request. Its size depends
// on the window bound and the dataset context limits, never on the length of
// the conversation or the dataset.
type ModelContext struct {
	Messages []Message
	Summary  string
	Dataset  *DatasetContext
	Format   formats.Spec
}

// Manager holds the conversation for one session. History is append-only and
// user-visible; the window and summary are what the model receives.
type Manager struct {
	mu      sync.Mutex
	size    int
	history []Message
	window  []Message
	summary string
	rounds  int
	// gen changes on Reset so in-flight compactions can tell their snapshot is
	// stale.
	gen uint64

	logger *slog.Logger
	now    func() time.Time
}

func New(window int, logger *slog.Logger) *Manager {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{size: window, logger: logger, now: time.Now}
}

func (m *Manager) AppendUser(content string) Message {
	return m.append(RoleUser, content, true, true)
}

func (m *Manager) AppendAssistant(content string) Message {
	return m.append(RoleAssistant, content, true, true)
}

// AppendNotice records a user-visible notice. Notices stay out of the model's
// window.
func (m *Manager) AppendNotice(content string) Message {
	return m.append(RoleSystem, content, true, false)
}

// AppendCritique adds the system's own feedback on a preview as an assistant
// turn in the window only, so the next request sees it without it showing in
// the user's history.
func (m *Manager) AppendCritique(content string) Message {
	return m.append(RoleAssistant, content, false, true)
}

func (m *Manager) append(role Role, content string, toHistory, toWindow bool) Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := Message{Role: role, Content: content, Timestamp: m.now()}
	if toHistory {
		m.history = append(m.history, msg)
	}
	if toWindow {
		m.window = append(m.window, msg)
		m.rounds++
	}
	return msg
}

// BuildModelContext returns the bounded context for the next model request.
// When the window has grown past its bound, the older messages are folded into
// the rolling summary with one blocking summarizer call and the window is reset
// to the message that triggered compaction. If summarization fails the state is
// left as it was and only the newest messages are sent.
func (m *Manager) BuildModelContext(ctx context.Context, s Summarizer, ds *dataset.Dataset, format formats.Spec) (ModelContext, error) {
	if err := m.compact(ctx, s); err != nil {
		return ModelContext{}, err
	}

	m.mu.Lock()
	msgs := tail(m.window, m.size)
	summary := m.summary
	m.mu.Unlock()

	mc := ModelContext{Messages: msgs, Summary: summary, Format: format}
	if ds != nil {
		dc := RenderDatasetContext(ds, DefaultColumnLimit, DefaultRowLimit)
		mc.Dataset = &dc
	}
	return mc, nil
}

func (m *Manager) compact(ctx context.Context, s Summarizer) error {
	m.mu.Lock()
	if len(m.window) <= m.size || s == nil {
		m.mu.Unlock()
		return nil
	}
	n := len(m.window) - 1
	older := append([]Message(nil), m.window[:n]...)
	prior := m.summary
	gen := m.gen
	m.mu.Unlock()

	summary, err := s.Summarize(ctx, prior, older)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		m.logger.Warn("conversation summarization failed, sending recent window only",
			"error", err,
			"window", len(older)+1,
		)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return nil
	}
	m.window = append([]Message(nil), m.window[n:]...)
	m.summary = summary
	m.rounds = len(m.window)
	m.logger.Info("conversation compacted", "summarized", n, "summary_len", len(summary))
	return nil
}

func tail(msgs []Message, n int) []Message {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]Message(nil), msgs...)
}

// History returns the user-visible conversation.
func (m *Manager) History() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.history...)
}

func (m *Manager) Window() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.window...)
}

// Recent returns up to n of the newest window messages.
func (m *Manager) Recent(n int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.window, n)
}

func (m *Manager) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		History:            append([]Message(nil), m.history...),
		Window:             append([]Message(nil), m.window...),
		Summary:            m.summary,
		RoundsSinceSummary: m.rounds,
	}
}

func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.window = nil
	m.summary = ""
	m.rounds = 0
	m.gen++
}
