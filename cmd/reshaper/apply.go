package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/reshaper/internal/dataset"
	"github.com/MikeSquared-Agency/reshaper/internal/rowexec"
)

type applyOptions struct {
	codePath  string
	inputPath string
	outPath   string
	noHeader  bool
	timeout   time.Duration
	rows      int
}

func newApplyCommand() *cobra.Command {
	opts := applyOptions{}
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Run a transformation snippet against a CSV file",
		Long: `Run a transformation snippet against a CSV file without a model in the loop.

The snippet is the body of a Starlark function using either 'rows' (all input
rows at once) or 'row' and 'index' (one row at a time).`,
		Example: `  # Preview the result
  reshaper apply --code transform.star --input cases.csv

  # Write the full output
  reshaper apply --code transform.star --input cases.csv --output hubverse.csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApply(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.codePath, "code", "", "file containing the snippet")
	cmd.Flags().StringVarP(&opts.inputPath, "input", "i", "", "input CSV file")
	cmd.Flags().StringVarP(&opts.outPath, "output", "o", "", "write the transformed CSV here")
	cmd.Flags().BoolVar(&opts.noHeader, "no-header", false, "treat the first line as data")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", rowexec.DefaultTimeout, "execution timeout")
	cmd.Flags().IntVar(&opts.rows, "rows", dataset.PreviewSize, "number of output rows to print")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runApply(ctx context.Context, out io.Writer, opts applyOptions) error {
	code, err := os.ReadFile(opts.codePath)
	if err != nil {
		return fmt.Errorf("read snippet: %w", err)
	}
	f, err := os.Open(opts.inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	ds, err := dataset.Parse(f, dataset.ParseOptions{HasHeader: !opts.noHeader})
	if err != nil {
		return err
	}

	engine := rowexec.New(
		rowexec.WithTimeout(opts.timeout),
		rowexec.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	res := engine.Execute(ctx, string(code), ds.Columns, ds.Records)
	if !res.OK() {
		return res.Err()
	}

	fmt.Fprintf(out, "%d input rows -> %d output rows (%s)\n", ds.RecordCount, len(res.Records), res.Mode)
	renderPreview(out, res, opts.rows)

	if opts.outPath == "" {
		return nil
	}
	dst, err := os.Create(opts.outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := dataset.WriteCSV(dst, res.Columns, res.Records); err != nil {
		dst.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", opts.outPath)
	return nil
}

func renderPreview(out io.Writer, res rowexec.Result, limit int) {
	if len(res.Records) == 0 || limit <= 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(res.Columns))
	for i, c := range res.Columns {
		header[i] = c
	}
	t.AppendHeader(header)

	for i, rec := range res.Records {
		if i == limit {
			break
		}
		row := make(table.Row, len(res.Columns))
		for j, c := range res.Columns {
			row[j] = dataset.FormatValue(rec[c])
		}
		t.AppendRow(row)
	}
	if extra := len(res.Records) - limit; extra > 0 {
		t.AppendFooter(table.Row{fmt.Sprintf("... %d more", extra)})
	}
	t.Render()
}
