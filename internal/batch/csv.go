package batch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"

	"text-anonymizer/internal/anonymizer"
)

// DefaultDelimiter is the CSV field separator used when none is set.
const DefaultDelimiter = ';'

// chunkRows bounds how many records are held in memory at once.
const chunkRows = 1024

// CSVOptions selects the columns to anonymize and the dialect.
type CSVOptions struct {
	Delimiter rune
	// Header marks the first record as column names. It is copied through
	// unchanged.
	Header bool
	// ColumnNames select columns by header name. They require Header.
	ColumnNames []string
	// ColumnIndexes select columns by zero-based position. When neither
	// names nor indexes are set the first column is used.
	ColumnIndexes []int
	LazyQuotes    bool
	Verbose       bool
}

// RowError is a failure on one record. Row counts records from 1,
// including the header; Column is -1 for parse errors.
type RowError struct {
	Row    int
	Column int
	Err    error
}

func (e RowError) Error() string {
	if e.Column < 0 {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d column %d: %v", e.Row, e.Column, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// CSVReport summarizes one CSV run.
type CSVReport struct {
	Rows       int // data records written
	Cells      int // cells sent to the engine
	Columns    []int
	Errors     []RowError
	Statistics map[string]int
	// Details holds matched substrings per entity type in verbose mode.
	Details map[string][]string
}

type cellRef struct {
	record, column int
}

// AnonymizeCSV streams records from r to w, replacing the selected columns
// with their anonymized text. Records that cannot be parsed are reported
// and skipped. Cells that fail are reported and written unchanged.
func AnonymizeCSV(ctx context.Context, pool *Pool, proc Processor, r io.Reader, w io.Writer, opts CSVOptions) (CSVReport, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = DefaultDelimiter
	}
	if len(opts.ColumnNames) > 0 && !opts.Header {
		return CSVReport{}, errors.New("column names require a header row")
	}

	cr := csv.NewReader(r)
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = opts.LazyQuotes
	cw := csv.NewWriter(w)
	cw.Comma = opts.Delimiter

	report := CSVReport{Statistics: map[string]int{}, Details: map[string][]string{}}
	columns := opts.ColumnIndexes
	if len(columns) == 0 && len(opts.ColumnNames) == 0 {
		columns = []int{0}
	}
	row := 0

	if opts.Header {
		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			cw.Flush()
			return report, cw.Error()
		}
		if err != nil {
			return report, fmt.Errorf("read header: %w", err)
		}
		row++
		if columns, err = resolveColumns(header, opts.ColumnNames, columns); err != nil {
			return report, err
		}
		if err := cw.Write(header); err != nil {
			return report, fmt.Errorf("write header: %w", err)
		}
	}
	report.Columns = columns

	for {
		if err := ctx.Err(); err != nil {
			cw.Flush()
			return report, err
		}
		records, rows, eof, parseErrs := readChunk(cr, row)
		report.Errors = append(report.Errors, parseErrs...)
		row += len(records) + len(parseErrs)

		if len(records) > 0 {
			if err := processChunk(ctx, pool, proc, records, rows, columns, opts.Verbose, &report); err != nil {
				return report, err
			}
			if err := cw.WriteAll(records); err != nil {
				return report, fmt.Errorf("write: %w", err)
			}
			report.Rows += len(records)
		}
		if eof {
			break
		}
	}
	cw.Flush()
	return report, cw.Error()
}

// readChunk reads up to chunkRows records. rows holds the 1-based row number
// of each record.
func readChunk(cr *csv.Reader, row int) (records [][]string, rows []int, eof bool, errs []RowError) {
	for len(records) < chunkRows {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, rows, true, errs
		}
		row++
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			errs = append(errs, RowError{Row: row, Column: -1, Err: err})
			continue
		}
		if err != nil {
			errs = append(errs, RowError{Row: row, Column: -1, Err: err})
			return records, rows, true, errs
		}
		records = append(records, rec)
		rows = append(rows, row)
	}
	return records, rows, false, errs
}

func processChunk(ctx context.Context, pool *Pool, proc Processor, records [][]string, rows, columns []int, verbose bool, report *CSVReport) error {
	var refs []cellRef
	var texts []string
	for i, rec := range records {
		for _, c := range columns {
			if c < len(rec) && rec[c] != "" {
				refs = append(refs, cellRef{record: i, column: c})
				texts = append(texts, rec[c])
			}
		}
	}

	items := pool.Run(ctx, proc, texts, verbose)
	for k, it := range items {
		ref := refs[k]
		if errors.Is(it.Err, context.Canceled) || errors.Is(it.Err, context.DeadlineExceeded) {
			return it.Err
		}
		report.Cells++
		if it.Err != nil && !anonymizer.IsUnitError(it.Err) {
			report.Errors = append(report.Errors, RowError{Row: rows[ref.record], Column: ref.column, Err: it.Err})
			continue
		}
		records[ref.record][ref.column] = it.Result.AnonymizedText
	}
	report.Statistics = anonymizer.CombineStatistics(report.Statistics, Statistics(items))
	report.Details = mergeDetails(report.Details, Details(items))
	return nil
}

// resolveColumns appends the positions of names in header to indexes.
func resolveColumns(header, names []string, indexes []int) ([]int, error) {
	out := slices.Clone(indexes)
	for _, name := range names {
		i := slices.Index(header, name)
		if i < 0 {
			return nil, fmt.Errorf("column %q not found in header", name)
		}
		if !slices.Contains(out, i) {
			out = append(out, i)
		}
	}
	return out, nil
}
