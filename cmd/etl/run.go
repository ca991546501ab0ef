package main

import (
	"fmt"
	"os"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"
	"sheet-etl/internal/jobs"
	"sheet-etl/internal/pipeline"
	"sheet-etl/internal/sink"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Reconcile and report without writing")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Hide progress bars")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <job> [job...]",
	Short: "Runs one or more configured jobs in order, stopping at the first failure.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dryRun {
			cfg.DryRun = true
		}

		// Every job is built before the first request goes out.
		deps := jobs.Deps{Config: cfg, HTTP: fetch.NewClient(cfg.HTTP)}
		var queue []pipeline.Job
		for _, name := range args {
			job, err := jobs.Build(name, deps)
			if err != nil {
				return err
			}
			queue = append(queue, job)
		}

		store, closeStore, err := sink.Open(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
		}
		defer func() {
			if err := closeStore(); err != nil {
				logrus.Warnf("closing store: %v", err)
			}
		}()

		var results []pipeline.Result
		var runErr error
		for _, job := range queue {
			runner := &pipeline.Runner{Store: store, BatchSize: cfg.BatchSize, DryRun: cfg.DryRun}
			bars := newProgress(ctx, job.Name(), !noProgress)
			bars.attach(runner)
			res, err := runner.Run(ctx, job)
			bars.wait()
			results = append(results, res)
			if err != nil {
				runErr = fmt.Errorf("%s: %w", job.Name(), err)
				break
			}
		}

		printResults(os.Stdout, results)
		return runErr
	},
}
