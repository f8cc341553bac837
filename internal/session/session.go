package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/reshaper/internal/conversation"
	"github.com/MikeSquared-Agency/reshaper/internal/dataset"
	"github.com/MikeSquared-Agency/reshaper/internal/formats"
	"github.com/MikeSquared-Agency/reshaper/internal/rowexec"
	"github.com/MikeSquared-Agency/reshaper/internal/verify"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrNoTransform = errors.New("no transformation code yet")
	ErrNoOutput    = errors.New("no output to export")
)

// TransformationUnit is the currently accepted transformation.
type TransformationUnit struct {
	Source string `json:"source"`
	// Revision counts the snippets extracted in this session, starting at 1.
	Revision int `json:"revision"`
	// Diff is a line diff against the previous revision's source.
	Diff                 string          `json:"diff,omitempty"`
	AppliesToFullDataset bool            `json:"applies_to_full_dataset"`
	LastResult           *rowexec.Result `json:"last_result,omitempty"`
}

// Session is the state behind one uploaded file. mu is held for the whole of
// any operation that runs a transformation or talks to the model, so a session
// has at most one of those in flight.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	mu         sync.Mutex
	lastActive time.Time

	fileName  string
	raw       []byte
	hasHeader bool
	data      *dataset.Dataset
	format    formats.Selection

	unit    TransformationUnit
	convo   *conversation.Manager
	rounds  verify.State
	preview *rowexec.Result
	output  *rowexec.Result
}

// View is a read-only copy of a session for callers outside the package.
type View struct {
	ID           string                 `json:"id"`
	FileName     string                 `json:"file_name"`
	HasHeader    bool                   `json:"has_header"`
	Format       formats.Selection      `json:"format"`
	InputRows    int                    `json:"input_rows"`
	Columns      []string               `json:"columns"`
	Preview      []dataset.Record       `json:"preview"`
	Transform    *TransformationUnit    `json:"transform,omitempty"`
	History      []conversation.Message `json:"history"`
	Verification verify.State           `json:"verification"`
	OutputRows   *int                   `json:"output_rows,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// view must be called with s.mu held.
func (s *Session) view() View {
	v := View{
		ID:           s.ID.String(),
		FileName:     s.fileName,
		HasHeader:    s.hasHeader,
		Format:       s.format,
		History:      s.convo.History(),
		Verification: s.rounds,
		CreatedAt:    s.CreatedAt,
	}
	if s.data != nil {
		v.InputRows = s.data.RecordCount
		v.Columns = append([]string(nil), s.data.Columns...)
		v.Preview = s.data.Preview
	}
	if s.unit.Source != "" {
		unit := s.unit
		if r := unit.LastResult; r != nil && len(r.Records) > dataset.PreviewSize {
			clipped := *r
			clipped.Records = r.Records[:dataset.PreviewSize]
			unit.LastResult = &clipped
		}
		v.Transform = &unit
	}
	if s.output != nil && s.output.OK() {
		n := len(s.output.Records)
		v.OutputRows = &n
	}
	return v
}

// resetWork drops everything derived from the dataset and format. Must be
// called with s.mu held.
func (s *Session) resetWork(maxRounds int) {
	s.unit = TransformationUnit{}
	s.preview = nil
	s.output = nil
	s.convo.Reset()
	s.rounds = verify.NewState(maxRounds)
}

// setSource installs a newly extracted snippet. Must be called with s.mu held.
func (s *Session) setSource(code string) {
	if code == s.unit.Source {
		return
	}
	prev := s.unit.Source
	s.unit = TransformationUnit{
		Source:   code,
		Revision: s.unit.Revision + 1,
		Diff:     revisionDiff(prev, code),
	}
	s.output = nil
}

func (s *Session) touch(now time.Time) {
	s.lastActive = now
}
