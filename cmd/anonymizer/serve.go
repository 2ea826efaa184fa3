package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"text-anonymizer/internal/api"
	"text-anonymizer/internal/batch"
	"text-anonymizer/internal/config"
	"text-anonymizer/internal/profile"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		bind  string
		port  int
		h2c   bool
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API",
		Long: `Serves the anonymizer over HTTP until interrupted. With --watch, edits to
profile files are picked up without a restart; a broken edit is logged and
the previous configuration stays in service.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("bind") {
				a.cfg.BindAddress = bind
			}
			if flags.Changed("port") {
				a.cfg.APIPort = port
			}
			if flags.Changed("h2c") {
				a.cfg.EnableH2C = h2c
			}
			if flags.Changed("watch") {
				a.cfg.WatchConfig = watch
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.runServe(cmd)
		},
	}
	f := cmd.Flags()
	f.StringVar(&bind, "bind", "", "listen address (default from configuration)")
	f.IntVar(&port, "port", 0, "listen port (default from configuration)")
	f.BoolVar(&h2c, "h2c", false, "accept cleartext HTTP/2")
	f.BoolVar(&watch, "watch", false, "reload profiles when their files change")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command) error {
	svc, loader, err := a.newService()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if a.cfg.WatchConfig {
		w, err := profile.NewWatcher(loader, func(name string) {
			_ = svc.Reload(name) // failures are logged and keep the old engines
		}, a.log.Module("WATCHER"))
		if err != nil {
			return fmt.Errorf("watch %s: %w", loader.Dir(), err)
		}
		if err := w.Start(ctx); err != nil {
			w.Stop()
			return fmt.Errorf("watch %s: %w", loader.Dir(), err)
		}
		defer w.Stop()
	}

	printBanner(cmd.OutOrStdout(), a.cfg)
	pool := batch.NewPool(a.cfg.Workers, a.metrics, a.log.Module("BATCH"))
	srv := api.New(a.cfg, svc, pool, a.metrics, a.log.Module("API"))
	return srv.ListenAndServe(ctx)
}

func printBanner(w io.Writer, cfg *config.Config) {
	ner := cfg.NERURL
	if ner == "" {
		ner = "(not configured, set NER_URL)"
	}
	auth := "disabled (set API_TOKEN)"
	if cfg.APIToken != "" {
		auth = "bearer token"
	}

	fmt.Fprintf(w, `
╔══════════════════════════════════════════════════════╗
║          Text Anonymizer  (Go)                       ║
╚══════════════════════════════════════════════════════╝
  Listen address  : %s
  HTTP/2 cleartext: %v
  Authentication  : %s
  Config dir      : %s
  Default profile : %s
  Watch profiles  : %v
  NER sidecar     : %s
  Ollama endpoint : %s
  Ollama model    : %s

  Try it:
    curl -s -X POST http://%s/anonymize -d '{"text":"Soita +358501231234"}'
`, cfg.Addr(), cfg.EnableH2C, auth,
		cfg.ConfigDir, cfg.DefaultProfile, cfg.WatchConfig,
		ner, cfg.OllamaEndpoint, cfg.OllamaModel,
		cfg.Addr())
}
