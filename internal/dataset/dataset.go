package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// PreviewSize is the number of leading records kept as the preview.
const PreviewSize = 10

var ErrEmpty = errors.New("CSV file is empty")

// Record is one row of tabular data keyed by column name.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Dataset is a parsed tabular file. Every record's keys are a subset of Columns
// and Preview is a prefix of Records.
type Dataset struct {
	Columns     []string
	Records     []Record
	Preview     []Record
	RecordCount int
}

func New(columns []string, records []Record) *Dataset {
	n := len(records)
	if n > PreviewSize {
		n = PreviewSize
	}
	return &Dataset{
		Columns:     columns,
		Records:     records,
		Preview:     records[:n:n],
		RecordCount: len(records),
	}
}

type ParseOptions struct {
	HasHeader bool
}

// ParseError reports a malformed line in the input file.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("CSV parsing error on line %d: %s", e.Line, e.Msg)
}

// Parse reads a CSV file into a Dataset. Files without a header row get generic
// column names column_1..column_n.
func Parse(r io.Reader, opts ParseOptions) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows, err := cr.ReadAll()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, &ParseError{Line: pe.Line, Msg: pe.Err.Error()}
		}
		return nil, fmt.Errorf("read csv: %w", err)
	}
	rows = dropBlank(rows)
	if len(rows) == 0 {
		return nil, ErrEmpty
	}

	var columns []string
	if opts.HasHeader {
		columns = make([]string, len(rows[0]))
		for i, h := range rows[0] {
			columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}
		rows = rows[1:]
	} else {
		columns = make([]string, len(rows[0]))
		for i := range columns {
			columns[i] = "column_" + strconv.Itoa(i+1)
		}
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		if len(row) > len(columns) {
			line := i + 1
			if opts.HasHeader {
				line++
			}
			return nil, &ParseError{
				Line: line,
				Msg:  fmt.Sprintf("expected %d fields, found %d", len(columns), len(row)),
			}
		}
		rec := make(Record, len(row))
		for j, v := range row {
			rec[columns[j]] = v
		}
		records = append(records, rec)
	}
	return New(columns, records), nil
}

func dropBlank(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		out = append(out, row)
	}
	return out
}

// ColumnsOf returns the key order used to display records: the preferred order
// first, then any remaining keys of the first record sorted by name.
func ColumnsOf(records []Record, preferred []string) []string {
	if len(records) == 0 {
		return append([]string(nil), preferred...)
	}
	first := records[0]
	cols := make([]string, 0, len(first))
	seen := make(map[string]bool, len(first))
	for _, c := range preferred {
		if _, ok := first[c]; ok && !seen[c] {
			cols = append(cols, c)
			seen[c] = true
		}
	}
	var rest []string
	for k := range first {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

// WriteCSV writes records under the given header. Keys missing from a record are
// written as empty cells; keys outside the header are not written.
func WriteCSV(w io.Writer, columns []string, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		for i, c := range columns {
			row[i] = FormatValue(rec[c])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatValue renders a cell value for CSV output.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any, map[string]any, Record:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

// MarshalRecords renders records as indented JSON keeping the given column order.
// Keys not listed in columns are omitted.
func MarshalRecords(records []Record, columns []string) ([]byte, error) {
	var buf bytes.Buffer
	if len(records) == 0 {
		return []byte("[]"), nil
	}
	buf.WriteString("[\n")
	for i, rec := range records {
		buf.WriteString("  {")
		written := 0
		for _, c := range columns {
			v, ok := rec[c]
			if !ok {
				continue
			}
			key, err := json.Marshal(c)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("marshal %q: %w", c, err)
			}
			if written > 0 {
				buf.WriteString(",")
			}
			buf.WriteString("\n    ")
			buf.Write(key)
			buf.WriteString(": ")
			buf.Write(val)
			written++
		}
		if written > 0 {
			buf.WriteString("\n  ")
		}
		buf.WriteString("}")
		if i < len(records)-1 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
	}
	buf.WriteString("]")
	return buf.Bytes(), nil
}
