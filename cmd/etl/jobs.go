package main

import (
	"fmt"
	"os"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"
	"sheet-etl/internal/jobs"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(validateCmd)
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Lists the available jobs and their config sections.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		t := newTable(os.Stdout)
		t.AppendHeader(table.Row{"Job", "Section"})
		for _, name := range jobs.Names() {
			section, _ := jobs.Section(name)
			t.AppendRow(table.Row{name, "jobs." + section})
		}
		t.Render()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Loads the config and checks every configured job without running it.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		deps := jobs.Deps{Config: cfg, HTTP: fetch.NewClient(cfg.HTTP)}
		t := newTable(os.Stdout)
		t.AppendHeader(table.Row{"Job", "Table", "Mode", "Key", "Status"})
		var invalid int
		for _, name := range jobs.Configured(cfg) {
			job, err := jobs.Build(name, deps)
			if err != nil {
				invalid++
				t.AppendRow(table.Row{name, "", "", "", color.RedString("%v", err)})
				continue
			}
			target := job.Target()
			key := target.KeyField
			if key == "" {
				key = "(record id)"
			}
			t.AppendRow(table.Row{name, target.Table, target.Mode, key, color.GreenString("ok")})
		}
		t.Render()

		if invalid > 0 {
			return fmt.Errorf("%w: %d job(s) cannot run", config.ErrInvalid, invalid)
		}
		return nil
	},
}
