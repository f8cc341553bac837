package conversation

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/reshaper/internal/dataset"
)

const (
	DefaultColumnLimit = 7
	DefaultRowLimit    = 3
)

// DatasetContext is the bounded description of a dataset that goes into
// prompts.
type DatasetContext struct {
	TotalRows  int    `json:"total_rows"`
	Columns    string `json:"columns"`
	SampleData string `json:"sample_data"`
}

// RenderDatasetContext describes at most columnLimit columns and rowLimit
// sample rows of ds, noting how many columns were left out.
func RenderDatasetContext(ds *dataset.Dataset, columnLimit, rowLimit int) DatasetContext {
	if columnLimit <= 0 {
		columnLimit = DefaultColumnLimit
	}
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}

	cols := ds.Columns
	if len(cols) > columnLimit {
		cols = cols[:columnLimit]
	}
	text := strings.Join(cols, ", ")
	if more := len(ds.Columns) - len(cols); more > 0 {
		text += fmt.Sprintf(" (and %d more columns)", more)
	}

	sample := ds.Preview
	if len(sample) > rowLimit {
		sample = sample[:rowLimit]
	}
	data, err := dataset.MarshalRecords(sample, cols)
	if err != nil {
		data = []byte("[]")
	}

	return DatasetContext{
		TotalRows:  ds.RecordCount,
		Columns:    text,
		SampleData: string(data),
	}
}
