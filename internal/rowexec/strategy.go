package rowexec

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	wholeHeader  = "def transform(rows):"
	perRowHeader = "def transform(row, index):"
	entryPoint   = "transform"
	sourceName   = "transform.star"
)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// compiled is a snippet wrapped into a callable for one mode.
type compiled struct {
	fn starlark.Callable
	// usesInput reports whether the body refers to the function's first
	// parameter (rows or row).
	usesInput bool
}

// wrap indents the snippet under the mode's function header. Leading tabs are
// expanded so mixed indentation in model output still parses.
func wrap(header, code string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	if strings.TrimSpace(code) == "" {
		b.WriteString("    pass\n")
		return b.String()
	}
	for _, line := range strings.Split(code, "\n") {
		b.WriteString("    ")
		b.WriteString(expandLeadingTabs(line))
		b.WriteByte('\n')
	}
	return b.String()
}

func expandLeadingTabs(line string) string {
	n := 0
	for n < len(line) && (line[n] == '\t' || line[n] == ' ') {
		n++
	}
	if !strings.Contains(line[:n], "\t") {
		return line
	}
	return strings.ReplaceAll(line[:n], "\t", "    ") + line[n:]
}

func compile(thread *starlark.Thread, header, code string, predeclared starlark.StringDict) (*compiled, error) {
	f, prog, err := starlark.SourceProgramOptions(fileOptions, sourceName, wrap(header, code), predeclared.Has)
	if err != nil {
		return nil, compileError(err)
	}

	globals, err := prog.Init(thread, predeclared)
	if err != nil {
		return nil, err
	}
	globals.Freeze()

	fn, ok := globals[entryPoint].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s is not defined", entryPoint)
	}
	return &compiled{fn: fn, usesInput: referencesFirstParam(f)}, nil
}

// compileError rewrites positions so they refer to the snippet's own lines
// rather than the wrapped source.
func compileError(err error) error {
	var se syntax.Error
	if errors.As(err, &se) {
		return fmt.Errorf("line %d: %s", snippetLine(se.Pos), se.Msg)
	}
	var list resolve.ErrorList
	if errors.As(err, &list) {
		msgs := make([]string, 0, len(list))
		for _, e := range list {
			msgs = append(msgs, fmt.Sprintf("line %d: %s", snippetLine(e.Pos), e.Msg))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return err
}

func snippetLine(pos syntax.Position) int32 {
	if pos.Line > 1 {
		return pos.Line - 1
	}
	return pos.Line
}

func referencesFirstParam(f *syntax.File) bool {
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok || def.Name.Name != entryPoint || len(def.Params) == 0 {
			continue
		}
		param, ok := def.Params[0].(*syntax.Ident)
		if !ok {
			return false
		}
		found := false
		for _, s := range def.Body {
			syntax.Walk(s, func(n syntax.Node) bool {
				if found {
					return false
				}
				if id, ok := n.(*syntax.Ident); ok && id != param {
					if b, ok := id.Binding.(*resolve.Binding); ok && b.First == param {
						found = true
					}
				}
				return !found
			})
		}
		return found
	}
	return false
}

// wholeOutcome is the strategy selector's decision after the whole-dataset
// attempt.
type wholeOutcome int

const (
	wholeAccepted wholeOutcome = iota
	wholeFallback
	wholeFailed
)

// decideWhole applies the whole-dataset decision table:
//
//	compile error                      -> fall back to per-row
//	returned a list                    -> accept
//	returned anything else             -> fall back to per-row
//	raised, body uses rows             -> runtime failure
//	raised, body never uses rows       -> fall back to per-row
//
// Cancellation is handled by the caller before this is consulted.
func decideWhole(c *compiled, compileErr error, value starlark.Value, callErr error) (wholeOutcome, string) {
	switch {
	case compileErr != nil:
		return wholeFallback, "compile: " + compileErr.Error()
	case callErr != nil && c.usesInput:
		return wholeFailed, evalMessage(callErr)
	case callErr != nil:
		return wholeFallback, "raised without using rows: " + evalMessage(callErr)
	}
	switch value.(type) {
	case *starlark.List, starlark.Tuple:
		return wholeAccepted, ""
	default:
		return wholeFallback, "returned " + value.Type() + ", not a list"
	}
}

func evalMessage(err error) string {
	var ee *starlark.EvalError
	if errors.As(err, &ee) {
		return ee.Msg
	}
	return err.Error()
}
