package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"text-anonymizer/internal/anonymizer"
	"text-anonymizer/internal/batch"
	"text-anonymizer/internal/textio"
)

func newTextCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "text [file]",
		Short: "Anonymize a plain-text document",
		Long: `Anonymizes a plain-text document paragraph by paragraph. Each run of
non-blank lines is an independent text unit; blank lines are preserved.
Reads stdin when the file is omitted or "-". Writes stdout unless --output
is set. Statistics are printed to stderr.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			return a.runText(cmd, src, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the anonymized document to this file")
	return cmd
}

func (a *app) runText(cmd *cobra.Command, src, dst string) error {
	in, closeIn, err := openInput(cmd, src)
	if err != nil {
		return err
	}
	defer closeIn()
	text, err := textio.ReadAll(in, a.opts.encoding)
	if err != nil {
		return err
	}

	svc, _, err := a.newService()
	if err != nil {
		return err
	}
	engine, err := svc.Engine("", nil)
	if err != nil {
		return err
	}

	start := time.Now()
	pool := batch.NewPool(a.cfg.Workers, a.metrics, a.log.Module("BATCH"))
	out, report, err := batch.AnonymizeDocument(cmd.Context(), pool, engine, text, a.opts.verbose)
	if err != nil {
		return err
	}
	if err := a.writeOutput(cmd, dst, out); err != nil {
		return err
	}

	for _, e := range report.Errors {
		a.log.Warnf("text", "paragraph %d left unchanged: %v", e.Row, e.Err)
	}
	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "Anonymized %d paragraphs in %s\n", report.Paragraphs, time.Since(start).Round(time.Millisecond))
	printStatistics(stderr, report.Statistics)
	if a.opts.verbose {
		printDetails(stderr, report.Details)
	}
	return nil
}

func newCSVCmd(a *app) *cobra.Command {
	var (
		delimiter  string
		header     bool
		names      []string
		indexes    []int
		lazyQuotes bool
	)
	cmd := &cobra.Command{
		Use:   "csv <source> <target>",
		Short: "Anonymize selected columns of a CSV file",
		Long: `Anonymizes the selected columns of a CSV file and writes the result to
target. Every non-empty cell is an independent text unit. Columns are
selected by header name or zero-based index; the first column is used when
neither is given. Rows that cannot be parsed are reported and skipped.`,
		Example: `  anonymizer csv in.csv out.csv --column-name comment
  anonymizer csv in.csv out.csv --header=false --column-index 0,2 --delimiter ,`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delim, err := parseDelimiter(delimiter)
			if err != nil {
				return err
			}
			return a.runCSV(cmd, args[0], args[1], batch.CSVOptions{
				Delimiter:     delim,
				Header:        header,
				ColumnNames:   trimAll(names),
				ColumnIndexes: indexes,
				LazyQuotes:    lazyQuotes,
				Verbose:       a.opts.verbose,
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&delimiter, "delimiter", "d", string(batch.DefaultDelimiter), "field delimiter (one character, \\t for tab)")
	f.BoolVar(&header, "header", true, "the first row holds column names")
	f.StringSliceVar(&names, "column-name", nil, "column(s) to anonymize by header name")
	f.IntSliceVar(&indexes, "column-index", nil, "column(s) to anonymize by zero-based index")
	f.BoolVar(&lazyQuotes, "lazy-quotes", false, "accept quotes inside unquoted fields")
	return cmd
}

func (a *app) runCSV(cmd *cobra.Command, src, dst string, opts batch.CSVOptions) error {
	for _, i := range opts.ColumnIndexes {
		if i < 0 {
			return fmt.Errorf("column index must be >= 0, got %d", i)
		}
	}
	svc, _, err := a.newService()
	if err != nil {
		return err
	}
	engine, err := svc.Engine("", nil)
	if err != nil {
		return err
	}

	in, closeIn, err := openInput(cmd, src)
	if err != nil {
		return err
	}
	defer closeIn()
	r, err := textio.NewReader(in, a.opts.encoding)
	if err != nil {
		return err
	}

	f, err := os.Create(dst) // #nosec G304 -- path from the command line
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	w, err := textio.NewWriter(f, a.opts.encoding)
	if err != nil {
		f.Close() //nolint:errcheck // best-effort cleanup
		return err
	}

	start := time.Now()
	fmt.Fprintf(cmd.ErrOrStderr(), "Anonymizing file: %s\n", src)
	pool := batch.NewPool(a.cfg.Workers, a.metrics, a.log.Module("BATCH"))
	report, err := batch.AnonymizeCSV(cmd.Context(), pool, engine, r, w, opts)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	for _, e := range report.Errors {
		a.log.Warnf("csv", "%v", e)
	}
	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "Selected columns: indexes=%v\n", report.Columns)
	fmt.Fprintf(stderr, "Finished. Wrote anonymized version to: %s (%d rows, %d cells, %d errors) in %s\n",
		dst, report.Rows, report.Cells, len(report.Errors), time.Since(start).Round(time.Millisecond))
	printStatistics(stderr, report.Statistics)
	if a.opts.verbose {
		printDetails(stderr, report.Details)
	}
	return nil
}

func newProfilesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the profiles in the config directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, err := a.newService()
			if err != nil {
				return err
			}
			names, err := svc.Profiles()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, n := range names {
				marker := " "
				if n == svc.DefaultProfile() {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s\n", marker, n)
			}
			return nil
		},
	}
}

func newRecognizersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recognizers",
		Short: "List the recognizer ids accepted by --recognizers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.newRegistry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range reg.IDs() {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
}

// openInput opens path, or stdin for "-".
func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path) // #nosec G304 -- path from the command line
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil //nolint:errcheck // read-only file
}

func (a *app) writeOutput(cmd *cobra.Command, path, text string) error {
	var dst io.Writer = cmd.OutOrStdout()
	var f *os.File
	if path != "" && path != "-" {
		var err error
		if f, err = os.Create(path); err != nil { // #nosec G304 -- path from the command line
			return fmt.Errorf("create %s: %w", path, err)
		}
		dst = f
	}
	w, err := textio.NewWriter(dst, a.opts.encoding)
	if err == nil {
		_, err = io.WriteString(w, text)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}
	if f != nil {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// parseDelimiter accepts a single character or the escape \t.
func parseDelimiter(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if s == "" || size != len(s) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("invalid delimiter %q", s)
	}
	return r, nil
}

func printStatistics(w io.Writer, stats map[string]int) {
	keys := anonymizer.StatisticsKeys(stats)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, stats[k]))
	}
	fmt.Fprintf(w, "Statistics: %s\n", strings.Join(parts, " "))
}

func printDetails(w io.Writer, details map[string][]string) {
	types := make([]string, 0, len(details))
	for t := range details {
		types = append(types, t)
	}
	sort.Strings(types)
	fmt.Fprintln(w, "Details:")
	for _, t := range types {
		fmt.Fprintf(w, "  %s: %s\n", t, strings.Join(details[t], ", "))
	}
}
