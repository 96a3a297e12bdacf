package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"kiln/internal/catalog"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent import jobs and catalog contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !cfg.Catalog.Enabled {
				fmt.Fprintln(out, "Catalog is disabled; enable [catalog] in the configuration to track job history.")
				return nil
			}

			store, err := openCatalog(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.Jobs(context.Background(), limit)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}

			if len(jobs) == 0 {
				fmt.Fprintln(out, "No recorded import jobs.")
			} else {
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						shortJobID(job.ID),
						job.Source,
						string(job.Status),
						strconv.Itoa(job.ErrorCount),
						job.CreatedAt.Local().Format(time.DateTime),
						formatDuration(job),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Job", "Source", "Status", "Errors", "Started", "Duration"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
				))
			}

			rows := make([][]string, 0, 2)
			for _, kind := range []catalog.ResourceKind{catalog.KindTexture, catalog.KindBuffer} {
				records, err := store.Resources(context.Background(), kind)
				if err != nil {
					return fmt.Errorf("list %s resources: %w", kind, err)
				}
				var total int64
				for _, record := range records {
					total += record.Size
				}
				rows = append(rows, []string{
					string(kind),
					strconv.Itoa(len(records)),
					formatBytes(total),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Kind", "Resources", "Payload"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 15, "Maximum number of jobs to show")
	return cmd
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(job catalog.JobRecord) string {
	if job.FinishedAt.IsZero() {
		return "running"
	}
	elapsed := job.FinishedAt.Sub(job.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed.Round(time.Millisecond).String()
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	value := float64(size)
	suffixes := []string{"KiB", "MiB", "GiB", "TiB"}
	index := -1
	for value >= unit && index < len(suffixes)-1 {
		value /= unit
		index++
	}
	return fmt.Sprintf("%.1f %s", value, suffixes[index])
}
