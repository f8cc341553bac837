package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/reshaper/internal/conversation"
	"github.com/MikeSquared-Agency/reshaper/internal/dataset"
	"github.com/MikeSquared-Agency/reshaper/internal/formats"
	"github.com/MikeSquared-Agency/reshaper/internal/hermes"
	"github.com/MikeSquared-Agency/reshaper/internal/rowexec"
	"github.com/MikeSquared-Agency/reshaper/internal/verify"
)

// ErrAssistant wraps failures of the code-generation model.
var ErrAssistant = errors.New("assistant request failed")

// Assistant is the model side of a conversation.
type Assistant interface {
	conversation.Summarizer
	Chat(ctx context.Context, mc conversation.ModelContext) (string, error)
	Greet(ctx context.Context, mc conversation.ModelContext) (string, error)
}

type FormatResolver interface {
	Resolve(ctx context.Context, sel formats.Selection) (formats.Spec, error)
}

// Scope selects which output Export writes.
type Scope string

const (
	ScopePreview Scope = "preview"
	ScopeFull    Scope = "full"
)

type Config struct {
	MaxRounds int
	Window    int
}

// Upload is a new file plus the choices made alongside it.
type Upload struct {
	FileName  string
	Data      []byte
	HasHeader bool
	Format    formats.Selection
}

// Workflow sequences user actions over a session: chat, preview execution,
// verification and full runs. It keeps no state of its own beyond the registry.
type Workflow struct {
	registry  *Registry
	engine    *rowexec.Engine
	assistant Assistant
	verifier  *verify.Loop
	formats   FormatResolver
	events    *hermes.Publisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func NewWorkflow(reg *Registry, engine *rowexec.Engine, asst Assistant, loop *verify.Loop, fr FormatResolver, events *hermes.Publisher, cfg Config, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = conversation.DefaultWindow
	}
	return &Workflow{
		registry:  reg,
		engine:    engine,
		assistant: asst,
		verifier:  loop,
		formats:   fr,
		events:    events,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Start parses an upload into a new session and lets the assistant open the
// conversation.
func (w *Workflow) Start(ctx context.Context, up Upload) (View, error) {
	ds, err := dataset.Parse(bytes.NewReader(up.Data), dataset.ParseOptions{HasHeader: up.HasHeader})
	if err != nil {
		return View{}, fmt.Errorf("parse %s: %w", up.FileName, err)
	}
	spec, err := w.formats.Resolve(ctx, up.Format)
	if err != nil {
		return View{}, err
	}

	now := w.now()
	s := &Session{
		ID:         uuid.New(),
		CreatedAt:  now,
		lastActive: now,
		fileName:   up.FileName,
		raw:        up.Data,
		hasHeader:  up.HasHeader,
		data:       ds,
		format:     formats.Selection{Key: spec.Key, Custom: up.Format.Custom},
		convo:      conversation.New(w.cfg.Window, w.logger),
		rounds:     verify.NewState(w.cfg.MaxRounds),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	w.registry.add(s)

	w.logger.Info("session started",
		"session_id", s.ID,
		"file", up.FileName,
		"rows", ds.RecordCount,
		"columns", len(ds.Columns),
		"format", spec.Key,
	)
	w.events.Emit(hermes.SubjectSessionStarted, hermes.SessionEvent{
		SessionID: s.ID.String(),
		Format:    spec.Key,
		InputRows: ds.RecordCount,
	})

	w.greet(ctx, s, spec)
	return s.view(), nil
}

func (w *Workflow) View(id string) (View, error) {
	s, unlock, err := w.acquire(id)
	if err != nil {
		return View{}, err
	}
	defer unlock()
	return s.view(), nil
}

// SendMessage runs one user turn: the model replies, any code it offers is
// previewed and verified, and rejected previews are sent back for a fix until
// the verifier accepts or the round budget is spent.
func (w *Workflow) SendMessage(ctx context.Context, id, text string) (View, error) {
	s, unlock, err := w.acquire(id)
	if err != nil {
		return View{}, err
	}
	defer unlock()

	spec := w.spec(ctx, s)
	s.convo.AppendUser(text)

	reply, err := w.reply(ctx, s, spec)
	if err != nil {
		return s.view(), err
	}

	for {
		code, ok := conversation.ExtractCode(reply)
		if !ok {
			break
		}
		s.setSource(code)

		res := w.engine.Execute(ctx, code, s.data.Columns, s.data.Preview)
		s.unit.LastResult = &res
		s.preview = &res
		if !res.OK() {
			w.reportFailure(s, res)
			break
		}
		w.events.Emit(hermes.SubjectTransformPreviewed, hermes.SessionEvent{
			SessionID:  s.ID.String(),
			Format:     spec.Key,
			InputRows:  len(s.data.Preview),
			OutputRows: len(res.Records),
			Mode:       string(res.Mode),
		})

		verdict := w.verifier.Check(ctx, &s.rounds, verify.Input{
			Preview:      res.Records,
			Columns:      res.Columns,
			Conversation: s.convo.Window(),
			Format:       spec,
			Dataset:      s.data,
		})
		if verdict.Accepted {
			break
		}

		w.events.Emit(hermes.SubjectVerificationRejected, hermes.SessionEvent{
			SessionID: s.ID.String(),
			Round:     s.rounds.RoundsUsed,
			Message:   verdict.Feedback,
		})
		s.convo.AppendCritique(verify.FeedbackMessage(verdict.Feedback))

		reply, err = w.reply(ctx, s, spec)
		if err != nil {
			return s.view(), err
		}
	}
	return s.view(), nil
}

// TransformAll runs the current snippet over the whole dataset. A failed run
// is reported in the returned view, not as an error.
func (w *Workflow) TransformAll(ctx context.Context, id string) (View, error) {
	s, unlock, err := w.acquire(id)
	if err != nil {
		return View{}, err
	}
	defer unlock()

	if s.unit.Source == "" {
		return s.view(), ErrNoTransform
	}

	start := w.now()
	res := w.engine.Execute(ctx, s.unit.Source, s.data.Columns, s.data.Records)
	s.unit.LastResult = &res
	if !res.OK() {
		s.output = nil
		s.unit.AppliesToFullDataset = false
		w.reportFailure(s, res)
		return s.view(), nil
	}

	s.output = &res
	s.unit.AppliesToFullDataset = true
	s.rounds.Reset()
	s.convo.AppendNotice(fmt.Sprintf("Successfully transformed all %d input rows into %d output rows!",
		s.data.RecordCount, len(res.Records)))

	w.logger.Info("full transformation complete",
		"session_id", s.ID,
		"input_rows", s.data.RecordCount,
		"output_rows", len(res.Records),
		"mode", res.Mode,
		"duration", w.now().Sub(start),
	)
	w.events.Emit(hermes.SubjectTransformCompleted, hermes.SessionEvent{
		SessionID:  s.ID.String(),
		Format:     s.format.Key,
		InputRows:  s.data.RecordCount,
		OutputRows: len(res.Records),
		Mode:       string(res.Mode),
	})
	return s.view(), nil
}

// Export writes the preview or full output as CSV and returns a file name for
// it. Full output exists only after a successful TransformAll of the current
// snippet.
func (w *Workflow) Export(id string, scope Scope, out io.Writer) (string, error) {
	s, unlock, err := w.acquire(id)
	if err != nil {
		return "", err
	}
	defer unlock()

	res := s.preview
	suffix := "_preview.csv"
	if scope == ScopeFull {
		res = s.output
		suffix = "_transformed.csv"
	}
	if res == nil || !res.OK() {
		return "", ErrNoOutput
	}

	columns := res.Columns
	if len(columns) == 0 {
		columns = dataset.ColumnsOf(res.Records, nil)
	}
	if err := dataset.WriteCSV(out, columns, res.Records); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(s.fileName), filepath.Ext(s.fileName))
	if base == "" || base == "." {
		base = "output"
	}
	return base + suffix, nil
}

// SetFormat switches the output format. Prior guidance no longer applies, so
// the conversation and verification state start over.
func (w *Workflow) SetFormat(ctx context.Context, id string, sel formats.Selection) (View, error) {
	s, unlock, err := w.acquire(id)
	if err != nil {
		return View{}, err
	}
	defer unlock()

	spec, err := w.formats.Resolve(ctx, sel)
	if err != nil {
		return s.view(), err
	}
	next := formats.Selection{Key: spec.Key, Custom: sel.Custom}
	if next == s.format {
		return s.view(), nil
	}

	s.format = next
	s.resetWork(w.cfg.MaxRounds)
	w.logger.Info("session format changed", "session_id", s.ID, "format", spec.Key)
	w.greet(ctx, s, spec)
	return s.view(), nil
}

// SetHeaderMode re-parses the original upload with or without a header row.
// The dataset is replaced wholesale and everything derived from it is reset.
func (w *Workflow) SetHeaderMode(ctx context.Context, id string, hasHeader bool) (View, error) {
	s, unlock, err := w.acquire(id)
	if err != nil {
		return View{}, err
	}
	defer unlock()

	if hasHeader == s.hasHeader {
		return s.view(), nil
	}
	ds, err := dataset.Parse(bytes.NewReader(s.raw), dataset.ParseOptions{HasHeader: hasHeader})
	if err != nil {
		return s.view(), fmt.Errorf("parse %s: %w", s.fileName, err)
	}

	s.data = ds
	s.hasHeader = hasHeader
	s.resetWork(w.cfg.MaxRounds)
	w.logger.Info("session re-parsed", "session_id", s.ID, "has_header", hasHeader, "rows", ds.RecordCount)
	w.greet(ctx, s, w.spec(ctx, s))
	return s.view(), nil
}

// Reset starts the conversation over on the same dataset and format.
func (w *Workflow) Reset(ctx context.Context, id string) (View, error) {
	s, unlock, err := w.acquire(id)
	if err != nil {
		return View{}, err
	}
	defer unlock()

	s.resetWork(w.cfg.MaxRounds)
	w.greet(ctx, s, w.spec(ctx, s))
	return s.view(), nil
}

func (w *Workflow) Delete(id string) error {
	return w.registry.Delete(id)
}

func (w *Workflow) acquire(id string) (*Session, func(), error) {
	s, err := w.registry.Get(id)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	s.touch(w.now())
	return s, s.mu.Unlock, nil
}

// spec resolves the session's format. A catalog outage degrades to the bare
// key so the conversation can continue.
func (w *Workflow) spec(ctx context.Context, s *Session) formats.Spec {
	spec, err := w.formats.Resolve(ctx, s.format)
	if err != nil {
		w.logger.Warn("format lookup failed", "session_id", s.ID, "format", s.format.Key, "error", err)
		return formats.Spec{Key: s.format.Key}
	}
	return spec
}

func (w *Workflow) greet(ctx context.Context, s *Session, spec formats.Spec) {
	mc, err := s.convo.BuildModelContext(ctx, nil, s.data, spec)
	if err == nil {
		var reply string
		reply, err = w.assistant.Greet(ctx, mc)
		if err == nil {
			s.convo.AppendAssistant(reply)
			return
		}
	}
	w.logger.Warn("greeting failed", "session_id", s.ID, "error", err)
	s.convo.AppendNotice("Error: " + err.Error())
}

// reply asks the model for its next turn and records it. Failures become a
// visible notice and leave the conversation otherwise untouched.
func (w *Workflow) reply(ctx context.Context, s *Session, spec formats.Spec) (string, error) {
	mc, err := s.convo.BuildModelContext(ctx, w.assistant, s.data, spec)
	if err == nil {
		var reply string
		reply, err = w.assistant.Chat(ctx, mc)
		if err == nil {
			s.convo.AppendAssistant(reply)
			return reply, nil
		}
	}
	w.logger.Error("assistant request failed", "session_id", s.ID, "error", err)
	s.convo.AppendNotice("Error: " + err.Error())
	return "", fmt.Errorf("%w: %v", ErrAssistant, err)
}

func (w *Workflow) reportFailure(s *Session, res rowexec.Result) {
	f := res.Failure
	w.logger.Info("transformation failed",
		"session_id", s.ID,
		"kind", f.Kind,
		"mode", res.Mode,
		"error", f.Message,
	)
	s.convo.AppendNotice("Transformation error: " + f.Message)
	w.events.Emit(hermes.SubjectTransformFailed, hermes.SessionEvent{
		SessionID: s.ID.String(),
		InputRows: s.data.RecordCount,
		Mode:      string(res.Mode),
		Failure:   string(f.Kind),
		Message:   f.Message,
	})
}
