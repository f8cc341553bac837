package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/reshaper/internal/conversation"
	"github.com/MikeSquared-Agency/reshaper/internal/dataset"
	"github.com/MikeSquared-Agency/reshaper/internal/formats"
)

// AcceptToken is the verifier's pass verdict, compared after trimming.
const AcceptToken = "VERIFIED"

const (
	DefaultMaxRounds = 2

	previewRows       = 10
	previewColumns    = 10
	conversationTurns = 4
	inputColumns      = 10
	customFormatLimit = 2000
)

// State counts verification-triggered regenerations. Once RoundsUsed reaches
// MaxRounds previews are accepted without asking the verifier.
type State struct {
	RoundsUsed int `json:"rounds_used"`
	MaxRounds  int `json:"max_rounds"`
}

func NewState(maxRounds int) State {
	if maxRounds < 0 {
		maxRounds = DefaultMaxRounds
	}
	return State{MaxRounds: maxRounds}
}

func (s State) Exhausted() bool {
	return s.RoundsUsed >= s.MaxRounds
}

// Reset clears the round counter after a full run or an explicit pass.
func (s *State) Reset() {
	s.RoundsUsed = 0
}

// Input is what the loop gets for one preview check.
type Input struct {
	Preview      []dataset.Record
	Columns      []string
	Conversation []conversation.Message
	Format       formats.Spec
	Dataset      *dataset.Dataset
}

// Request is the bounded payload handed to a Verifier.
type Request struct {
	Preview        []dataset.Record
	PreviewColumns []string
	Conversation   []conversation.Message
	FormatName     string
	FormatText     string
	InputRows      int
	InputColumns   string
}

// Verifier judges a preview. It returns AcceptToken or a description of what
// is wrong.
type Verifier interface {
	Verify(ctx context.Context, req Request) (string, error)
}

type Verdict struct {
	Accepted bool
	// Skipped is set when the round budget was already spent.
	Skipped  bool
	Feedback string
}

type Loop struct {
	verifier Verifier
	logger   *slog.Logger
}

func NewLoop(v Verifier, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{verifier: v, logger: logger}
}

// Check asks the verifier about a preview and updates st. Verifier errors and
// empty replies count as acceptance.
func (l *Loop) Check(ctx context.Context, st *State, in Input) Verdict {
	if st.Exhausted() {
		l.logger.Info("verification skipped", "rounds_used", st.RoundsUsed, "max_rounds", st.MaxRounds)
		return Verdict{Accepted: true, Skipped: true}
	}
	if l.verifier == nil {
		return Verdict{Accepted: true}
	}

	text, err := l.verifier.Verify(ctx, BuildRequest(in))
	if err != nil {
		l.logger.Warn("verifier failed, accepting preview", "error", err)
		return Verdict{Accepted: true}
	}
	text = strings.TrimSpace(text)
	switch text {
	case "":
		l.logger.Warn("verifier returned empty verdict, accepting preview")
		return Verdict{Accepted: true}
	case AcceptToken:
		st.Reset()
		l.logger.Info("preview verified")
		return Verdict{Accepted: true}
	}

	st.RoundsUsed++
	l.logger.Info("preview rejected",
		"round", st.RoundsUsed,
		"max_rounds", st.MaxRounds,
	)
	return Verdict{Feedback: text}
}

// BuildRequest clips the input to the sizes sent to the verifier.
func BuildRequest(in Input) Request {
	cols := in.Columns
	if len(cols) == 0 {
		cols = dataset.ColumnsOf(in.Preview, nil)
	}
	if len(cols) > previewColumns {
		cols = cols[:previewColumns]
	}

	rows := in.Preview
	if len(rows) > previewRows {
		rows = rows[:previewRows]
	}
	preview := make([]dataset.Record, len(rows))
	for i, rec := range rows {
		clipped := make(dataset.Record, len(cols))
		for _, c := range cols {
			if v, ok := rec[c]; ok {
				clipped[c] = v
			}
		}
		preview[i] = clipped
	}

	convo := in.Conversation
	if len(convo) > conversationTurns {
		convo = convo[len(convo)-conversationTurns:]
	}

	req := Request{
		Preview:        preview,
		PreviewColumns: cols,
		Conversation:   append([]conversation.Message(nil), convo...),
		FormatName:     in.Format.Key,
		FormatText:     in.Format.Text,
	}
	if r := []rune(req.FormatText); in.Format.Custom && len(r) > customFormatLimit {
		req.FormatText = string(r[:customFormatLimit])
	}
	if in.Dataset != nil {
		req.InputRows = in.Dataset.RecordCount
		req.InputColumns = columnList(in.Dataset.Columns, inputColumns)
	}
	return req
}

func columnList(columns []string, limit int) string {
	if len(columns) <= limit {
		return strings.Join(columns, ", ")
	}
	return fmt.Sprintf("%s (and %d more columns)", strings.Join(columns[:limit], ", "), len(columns)-limit)
}

// FeedbackMessage frames verifier feedback as the assistant's own critique.
func FeedbackMessage(feedback string) string {
	return fmt.Sprintf("I checked the output and found some issues: %s\n\nLet me fix the transformation code.", feedback)
}
