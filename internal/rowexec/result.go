package rowexec

import "github.com/MikeSquared-Agency/reshaper/internal/dataset"

// Mode is the execution contract a snippet ran under.
type Mode string

const (
	ModeWhole  Mode = "whole"
	ModePerRow Mode = "per_row"
)

type FailureKind string

const (
	// FailureBuild: the snippet could not be compiled in either mode.
	FailureBuild FailureKind = "build"
	// FailureRow: per-row execution raised on a specific record.
	FailureRow FailureKind = "row"
	// FailureRuntime: whole-dataset logic that uses its rows raised.
	FailureRuntime FailureKind = "runtime"
	FailureTimeout  FailureKind = "timeout"
	FailureCanceled FailureKind = "canceled"
	// FailureContext: the execution context itself could not be set up.
	FailureContext FailureKind = "context"
)

type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Row     *int        `json:"row,omitempty"`
}

func (f *Failure) Error() string {
	return f.Message
}

// Result is the outcome of one Execute call. Exactly one of Records (possibly
// empty) or Failure is meaningful.
type Result struct {
	Records []dataset.Record `json:"records"`
	// Columns is the key order of the first output record. Keys that only
	// appear in later records are not listed.
	Columns []string `json:"columns"`
	Mode    Mode     `json:"mode,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

func (r Result) OK() bool {
	return r.Failure == nil
}

// Err returns the failure as an error, or nil on success.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

func failed(mode Mode, kind FailureKind, msg string) Result {
	return Result{Mode: mode, Failure: &Failure{Kind: kind, Message: msg}}
}
