// Command anonymizer replaces personal data in free text with category
// labels such as <PUHELIN> or <SÄHKÖPOSTI>.
//
// Detection combines configurable regular expressions, grant and block term
// lists and optional external detectors (a NER sidecar and a local Ollama
// model). Overlapping findings are resolved deterministically before the
// text is rewritten.
//
// Usage:
//
//	# Anonymize a text file paragraph by paragraph
//	anonymizer text notes.txt > notes.anon.txt
//
//	# Anonymize stdin with a named profile
//	cat notes.txt | anonymizer text --profile acme
//
//	# Anonymize the "comment" column of a CSV file
//	anonymizer csv in.csv out.csv --column-name comment
//
//	# Serve the REST API
//	API_TOKEN=s3cret anonymizer serve
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"text-anonymizer/internal/config"
	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/metrics"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "anonymizer:", err)
		os.Exit(1)
	}
}

// run executes the command line and releases every resource it opened.
func run(args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer func() { _ = a.teardown() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return root.ExecuteContext(ctx)
}

// options holds the persistent flag values.
type options struct {
	configPath  string
	configDir   string
	profile     string
	recognizers []string
	verbose     bool
	logLevel    string
	encoding    string
	workers     int
}

// app is the state shared by every subcommand once the root pre-run hook
// has loaded the configuration.
type app struct {
	opts    options
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	closers []func() error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "anonymizer",
		Short: "Replace personal data in text with category labels",
		Long: `anonymizer detects personal data (names, phone numbers, e-mail addresses,
identity codes, IBANs, addresses and more) in free text and replaces every
finding with a label of its category.

Configuration is layered: built-in defaults, anonymizer.yaml, environment
variables (a .env file is honoured) and finally command-line flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.configPath, "config", "", "config file (default "+config.DefaultFile+" if present)")
	pf.StringVar(&a.opts.configDir, "config-dir", "", "profile configuration directory")
	pf.StringVarP(&a.opts.profile, "profile", "p", "", "profile name (default from configuration)")
	pf.StringSliceVarP(&a.opts.recognizers, "recognizers", "r", nil, "comma-separated recognizer ids overriding the profile's set")
	pf.BoolVarP(&a.opts.verbose, "verbose", "v", false, "report the matched substrings of every entity")
	pf.StringVar(&a.opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.opts.encoding, "encoding", "", "source and target text encoding (default UTF-8)")
	pf.IntVarP(&a.opts.workers, "workers", "w", 0, "concurrent text units (default GOMAXPROCS)")

	root.AddCommand(
		newTextCmd(a),
		newCSVCmd(a),
		newServeCmd(a),
		newProfilesCmd(a),
		newRecognizersCmd(a),
	)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\nRun '%s --help' for usage", err, cmd.CommandPath())
	})
	return root
}

// setup loads the configuration, applies flag overrides and creates the
// process logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.opts.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("config-dir") {
		cfg.ConfigDir = a.opts.configDir
	}
	if flags.Changed("profile") {
		cfg.DefaultProfile = a.opts.profile
	}
	if flags.Changed("recognizers") {
		cfg.Recognizers = trimAll(a.opts.recognizers)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.opts.logLevel
	}
	if flags.Changed("workers") {
		cfg.Workers = a.opts.workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.log = logger.New("CLI", cfg.LogLevel)
	a.metrics = metrics.New()
	a.log.Debugf("startup", "config dir=%s profile=%s recognizers=%v workers=%d",
		cfg.ConfigDir, cfg.DefaultProfile, cfg.Recognizers, cfg.Workers)
	return nil
}

// teardown releases caches and flushes the logger. It is safe to call more
// than once.
func (a *app) teardown() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	if a.log != nil {
		_ = a.log.Sync()
	}
	return first
}

func trimAll(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
