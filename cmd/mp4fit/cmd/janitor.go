package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/mp4fit/pkg/cleanup"
)

// janitorCmd sweeps stale work files once
var janitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Remove stale work files",
	Long: `Remove files in the work and download directories that are older than the
janitor max age. Use this from cron when the service is not running.`,
	RunE: runJanitor,
}

func init() {
	rootCmd.AddCommand(janitorCmd)
	janitorCmd.Flags().Duration("max-age", 0, "remove files older than this (default janitor.max_age)")
}

func runJanitor(cmd *cobra.Command, args []string) error {
	defer logger.Close()
	jc := cfg.JanitorConfig()
	if maxAge, _ := cmd.Flags().GetDuration("max-age"); maxAge > 0 {
		jc.MaxAge = maxAge
	}
	j := cleanup.New(jc, nil, logger)
	removed := j.Sweep(time.Now())

	stats := j.GetStats()
	if printed, err := printStructured(cmd.OutOrStdout(), stats); printed || err != nil {
		return err
	}
	fmt.Printf("Removed %d stale file(s), %d failure(s)\n", removed, stats.TotalFailures)
	return nil
}
