// Package rowexec runs model-generated Starlark snippets against tabular
// records in a fresh, hermetic interpreter per call.
package rowexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"

	"github.com/MikeSquared-Agency/reshaper/internal/dataset"
)

const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxSteps = 50_000_000
)

type Engine struct {
	timeout  time.Duration
	maxSteps uint64
	logger   *slog.Logger
}

type Option func(*Engine)

// WithTimeout bounds each Execute call. Zero or negative disables the engine's
// own deadline; the caller's context still applies.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithMaxSteps caps interpreter steps per call. Zero means unlimited.
func WithMaxSteps(n uint64) Option {
	return func(e *Engine) { e.maxSteps = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		timeout:  DefaultTimeout,
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Timeout() time.Duration { return e.timeout }

// Execute runs code against records. Each call gets its own goroutine,
// interpreter thread and copies of the input; nothing is shared with earlier
// calls. Input dicts list their keys in columns order, then any other keys
// sorted. The caller blocks until the worker finishes or the deadline passes, in
// which case the thread is cancelled and the worker is waited for.
//
// The step budget applies to each execution mode separately.
func (e *Engine) Execute(ctx context.Context, code string, columns []string, records []dataset.Record) Result {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return e.interrupted(ctx, ModeWhole, 0)
	}

	thread := &starlark.Thread{
		Name: "transform",
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Debug("snippet print", "msg", msg)
		},
	}
	w := &worker{thread: thread, logger: e.logger, columns: columns, maxSteps: e.maxSteps}
	if e.maxSteps > 0 {
		thread.SetMaxExecutionSteps(e.maxSteps)
		thread.OnMaxSteps = func(t *starlark.Thread) {
			w.exhausted.Store(true)
			t.Cancel("too many steps")
		}
	}
	done := make(chan Result, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failed(w.mode, FailureContext, fmt.Sprintf("execution context failed: %v", r))
			}
		}()
		done <- w.run(code, records)
	}()

	res, ok := await(ctx, done, func() {
		w.stopped.Store(true)
		thread.Cancel(ctx.Err().Error())
	})
	if !ok {
		res = e.interrupted(ctx, res.Mode, time.Since(start))
	}

	if w.exhausted.Load() {
		res = failed(res.Mode, FailureTimeout, fmt.Sprintf("Transformation exceeded the limit of %d execution steps", e.maxSteps))
	}

	e.logger.Debug("transform executed",
		"mode", res.Mode,
		"input_rows", len(records),
		"output_rows", len(res.Records),
		"ok", res.OK(),
		"steps", thread.ExecutionSteps(),
		"duration", time.Since(start),
	)
	return res
}

// await blocks until the worker reports. When ctx ends first it calls stop and
// still waits for the worker, returning its partial result and false. A run that
// finished at the deadline still counts.
func await(ctx context.Context, done <-chan Result, stop func()) (Result, bool) {
	select {
	case res := <-done:
		return res, true
	case <-ctx.Done():
	}
	select {
	case res := <-done:
		return res, true
	default:
	}
	stop()
	return <-done, false
}

func (e *Engine) interrupted(ctx context.Context, mode Mode, elapsed time.Duration) Result {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		limit := e.timeout
		if limit <= 0 {
			limit = elapsed.Round(time.Millisecond)
		}
		return failed(mode, FailureTimeout, fmt.Sprintf("Transformation timed out after %s", limit))
	}
	return failed(mode, FailureCanceled, "Transformation was canceled")
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"json": starlarkjson.Module,
		"math": starlarkmath.Module,
		"time": starlarktime.Module,
	}
}

// worker owns one interpreter thread for the lifetime of a single Execute call.
type worker struct {
	thread   *starlark.Thread
	logger   *slog.Logger
	columns  []string
	maxSteps uint64
	mode     Mode

	// stopped is set by the caller before cancelling the thread on deadline;
	// exhausted is set when the step limit fires.
	stopped   atomic.Bool
	exhausted atomic.Bool
}

func (w *worker) run(code string, records []dataset.Record) Result {
	env := predeclared()

	w.mode = ModeWhole
	rows, err := recordsToList(records, w.columns, w.stopped.Load)
	if errors.Is(err, errStopped) {
		return failed(ModeWhole, FailureCanceled, "Transformation was canceled")
	}
	if err != nil {
		return failed(ModeWhole, FailureContext, "Failed to prepare input: "+err.Error())
	}

	whole, compileErr := compile(w.thread, wholeHeader, code, env)
	var value starlark.Value
	var callErr error
	if compileErr == nil {
		value, callErr = starlark.Call(w.thread, whole.fn, starlark.Tuple{rows}, nil)
		if w.cancelled(callErr) {
			return failed(ModeWhole, FailureCanceled, evalMessage(callErr))
		}
	}

	outcome, reason := decideWhole(whole, compileErr, value, callErr)
	switch outcome {
	case wholeAccepted:
		return w.collectWhole(value)
	case wholeFailed:
		return failed(ModeWhole, FailureRuntime, "Error in transformation: "+reason)
	}
	w.logger.Debug("whole-dataset mode rejected, using per-row mode", "reason", reason)

	w.mode = ModePerRow
	if w.maxSteps > 0 {
		w.thread.SetMaxExecutionSteps(w.thread.ExecutionSteps() + w.maxSteps)
	}
	perRow, err := compile(w.thread, perRowHeader, code, env)
	if err != nil {
		return failed(ModePerRow, FailureBuild, "Failed to create transformation function: "+err.Error())
	}
	return w.runPerRow(perRow, records)
}

func (w *worker) cancelled(err error) bool {
	return err != nil && (w.stopped.Load() || w.exhausted.Load())
}

func (w *worker) collectWhole(value starlark.Value) Result {
	seq := value.(starlark.Indexable)
	res := Result{Mode: ModeWhole, Records: make([]dataset.Record, 0, seq.Len())}
	for i := 0; i < seq.Len(); i++ {
		if w.stopped.Load() {
			return failed(ModeWhole, FailureCanceled, "Transformation was canceled")
		}
		d, ok := seq.Index(i).(*starlark.Dict)
		if !ok {
			return failed(ModeWhole, FailureRuntime,
				fmt.Sprintf("Error in transformation: element %d of the returned list is %s, expected dict", i, seq.Index(i).Type()))
		}
		if err := res.add(d); err != nil {
			return failed(ModeWhole, FailureRuntime, fmt.Sprintf("Error in transformation: element %d: %s", i, err))
		}
	}
	return res
}

func (w *worker) runPerRow(c *compiled, records []dataset.Record) Result {
	res := Result{Mode: ModePerRow, Records: make([]dataset.Record, 0, len(records))}
	for i, rec := range records {
		if w.stopped.Load() {
			return failed(ModePerRow, FailureCanceled, "Transformation was canceled")
		}
		row, err := recordToDict(rec, w.columns)
		if err != nil {
			return failed(ModePerRow, FailureContext, fmt.Sprintf("Failed to prepare row %d: %s", i, err))
		}
		value, err := starlark.Call(w.thread, c.fn, starlark.Tuple{row, starlark.MakeInt(i)}, nil)
		if err != nil {
			if w.cancelled(err) {
				return failed(ModePerRow, FailureCanceled, evalMessage(err))
			}
			return rowFailure(i, evalMessage(err))
		}
		if err := res.addRowResult(value); err != nil {
			return rowFailure(i, err.Error())
		}
	}
	return res
}

func rowFailure(i int, msg string) Result {
	row := i
	return Result{
		Mode: ModePerRow,
		Failure: &Failure{
			Kind:    FailureRow,
			Message: fmt.Sprintf("Error at row %d: %s", i, msg),
			Row:     &row,
		},
	}
}

// addRowResult flattens one per-row return value: None adds nothing, a dict
// adds one record, a list adds each of its dicts in order.
func (r *Result) addRowResult(value starlark.Value) error {
	switch v := value.(type) {
	case starlark.NoneType:
		return nil
	case *starlark.Dict:
		return r.add(v)
	case *starlark.List, starlark.Tuple:
		seq := v.(starlark.Indexable)
		for j := 0; j < seq.Len(); j++ {
			switch el := seq.Index(j).(type) {
			case starlark.NoneType:
			case *starlark.Dict:
				if err := r.add(el); err != nil {
					return err
				}
			default:
				return fmt.Errorf("element %d of the returned list is %s, expected dict", j, el.Type())
			}
		}
		return nil
	default:
		return fmt.Errorf("transform must return a dict, a list of dicts or None, got %s", value.Type())
	}
}

func (r *Result) add(d *starlark.Dict) error {
	rec, keys, err := dictToRecord(d)
	if err != nil {
		return err
	}
	if len(r.Records) == 0 {
		r.Columns = keys
	}
	r.Records = append(r.Records, rec)
	return nil
}
