package rowexec

import (
	"errors"
	"fmt"

	"go.starlark.net/starlark"

	"github.com/MikeSquared-Agency/reshaper/internal/dataset"
)

var errStopped = errors.New("execution stopped")

// recordToDict builds a fresh dict for one input record. Keys follow columns,
// then any keys outside columns in sorted order.
func recordToDict(rec dataset.Record, columns []string) (*starlark.Dict, error) {
	keys := dataset.ColumnsOf([]dataset.Record{rec}, columns)

	dict := starlark.NewDict(len(rec))
	for _, k := range keys {
		sv, err := toStarlark(rec[k])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		if err := dict.SetKey(starlark.String(k), sv); err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
	}
	return dict, nil
}

// recordsToList converts the whole input. It gives up with errStopped once
// stop reports true.
func recordsToList(records []dataset.Record, columns []string, stop func() bool) (*starlark.List, error) {
	elems := make([]starlark.Value, len(records))
	for i, rec := range records {
		if stop() {
			return nil, errStopped
		}
		d, err := recordToDict(rec, columns)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		elems[i] = d
	}
	return starlark.NewList(elems), nil
}

func toStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case string:
		return starlark.String(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case bool:
		return starlark.Bool(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case dataset.Record:
		return recordToDict(val, nil)
	case map[string]any:
		return recordToDict(dataset.Record(val), nil)
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// dictToRecord copies a dict returned by a snippet into a Go record and reports
// the dict's key order.
func dictToRecord(d *starlark.Dict) (dataset.Record, []string, error) {
	items := d.Items()
	rec := make(dataset.Record, len(items))
	keys := make([]string, 0, len(items))
	for _, item := range items {
		key, ok := starlark.AsString(item[0])
		if !ok {
			return nil, nil, fmt.Errorf("record keys must be strings, got %s", item[0].Type())
		}
		gv, err := toGo(item[1])
		if err != nil {
			return nil, nil, fmt.Errorf("key %q: %w", key, err)
		}
		rec[key] = gv
		keys = append(keys, key)
	}
	return rec, keys, nil
}

func toGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			return val.String(), nil
		}
		return i64, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.Bool:
		return bool(val), nil
	case *starlark.List:
		return sequenceToGo(val)
	case starlark.Tuple:
		return sequenceToGo(val)
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", item[0].Type())
			}
			gv, err := toGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = gv
		}
		return out, nil
	default:
		return val.String(), nil
	}
}

func sequenceToGo(seq starlark.Indexable) ([]any, error) {
	out := make([]any, seq.Len())
	for i := range out {
		gv, err := toGo(seq.Index(i))
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = gv
	}
	return out, nil
}
