package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"kiln/internal/config"
	"kiln/internal/cook"
	"kiln/internal/importer"
	"kiln/internal/logging"
	"kiln/internal/preflight"
)

func newCookCommand(ctx *commandContext) *cobra.Command {
	var outputFlag string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "cook <manifest>",
		Short: "Cook the assets described by an import manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			manifestPath, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve manifest path: %w", err)
			}
			if _, err := os.Stat(manifestPath); err != nil {
				return fmt.Errorf("inspect manifest %q: %w", manifestPath, err)
			}

			checks := preflight.Run(cfg)
			if !preflight.Healthy(checks) {
				out := cmd.ErrOrStderr()
				for _, check := range checks {
					if check.OK {
						continue
					}
					fmt.Fprintln(out, renderStatusLine(check.Name, statusError, check.Detail, shouldColorize(out)))
				}
				return fmt.Errorf("preflight failed")
			}

			logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("kiln-%s.log", time.Now().Format("20060102-150405")))
			logger, err := logging.New(logging.Options{
				Level:            cfg.Logging.Level,
				Format:           cfg.Logging.Format,
				OutputPaths:      []string{logPath},
				ErrorOutputPaths: []string{logPath},
			})
			if err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}

			opts := make([]importer.Option, 0, 1)
			if cfg.Catalog.Enabled {
				store, err := openCatalog(cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				opts = append(opts, importer.WithCatalog(store))
			}

			orchestrator := importer.New(cfg, logger, opts...)
			defer orchestrator.Shutdown()

			out := cmd.OutOrStdout()
			progress := newProgressPrinter(out, quiet)

			done := make(chan importer.Report, 1)
			cancelled := make(chan struct{}, 1)
			id := orchestrator.SubmitImport(importer.Request{
				ManifestPath: manifestPath,
				OutputRoot:   outputFlag,
			}, importer.Callbacks{
				OnComplete: func(_ importer.JobID, report importer.Report) {
					done <- report
				},
				OnProgress: func(event importer.ProgressEvent) {
					progress.update(event.Fraction)
				},
				OnCancel: func(importer.JobID) {
					cancelled <- struct{}{}
				},
			})
			if id == importer.InvalidJob {
				return fmt.Errorf("submit import: orchestrator rejected the job")
			}

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			defer signal.Stop(interrupt)

			for {
				select {
				case report := <-done:
					progress.finish()
					return printReport(out, report, shouldColorize(out))
				case <-cancelled:
					progress.finish()
					return fmt.Errorf("import cancelled")
				case <-interrupt:
					orchestrator.CancelJob(id)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Override the configured output root")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func printReport(out io.Writer, report importer.Report, colorize bool) error {
	for _, diag := range report.Diagnostics {
		kind := statusWarn
		if diag.Severity == cook.SeverityError {
			kind = statusError
		}
		message := diag.Message
		if diag.SourcePath != "" {
			message = diag.SourcePath + ": " + message
		}
		fmt.Fprintln(out, renderStatusLine(diag.Code, kind, message, colorize))
	}
	if !report.Success {
		return fmt.Errorf("cook failed with %d diagnostics", len(report.Diagnostics))
	}
	fmt.Fprintf(out, "Cooked output written to %s\n", report.CookedRoot)
	return nil
}
