package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"streamscraper/pkg/checkpoint"
	"streamscraper/pkg/logger"
	"streamscraper/pkg/partition"
	"streamscraper/pkg/ui"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last session snapshot and the daily files",
	Long: `Show what the last (or running) stream session recorded in its status
file: state, counters, cooldown, last error. Lists the daily files in the
output directory with their sizes.`,
	Args: cobra.NoArgs,
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory holding the daily files")
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig(map[string]interface{}{"output": outputDir})
	initLogger(cfg, verbose)

	path, err := statusPath(cfg)
	if err != nil {
		ui.PrintError("Failed to locate status file", err.Error())
		os.Exit(1)
	}
	manager, err := checkpoint.NewManager(path, logger.GetLogger())
	if err != nil {
		ui.PrintError("Failed to open status file", err.Error())
		os.Exit(1)
	}

	status, err := manager.Load()
	switch {
	case err != nil:
		ui.PrintError("Failed to read status file", err.Error())
		os.Exit(1)
	case status == nil:
		ui.PrintInfo("No session recorded", path)
	default:
		printStatus(status)
	}

	loc, err := cfg.Location()
	if err != nil {
		ui.PrintError("Invalid time zone", err.Error())
		os.Exit(1)
	}
	infos, err := partition.Scan(partition.Options{
		Dir:        cfg.Output.Directory,
		Prefix:     cfg.Output.FilePrefix,
		Extension:  cfg.Output.Extension,
		DateFormat: cfg.Output.DateFormat,
		Location:   loc,
	})
	if err != nil {
		ui.PrintError("Failed to list daily files", err.Error())
		os.Exit(1)
	}

	fmt.Println()
	if len(infos) == 0 {
		ui.PrintInfo("No daily files in", cfg.Output.Directory)
		return
	}
	ui.PrintHighlight(fmt.Sprintf("Daily Files (%d)", len(infos)))
	for _, info := range infos {
		mark := ""
		if info.Compressed {
			mark = " (zstd)"
		}
		fmt.Printf("  %s  %9s  %s%s\n", info.Key, formatSize(info.Size), info.Path, mark)
	}
}

func printStatus(s *checkpoint.Status) {
	ui.PrintHighlight("Last Session")
	fmt.Printf("  State:       %s\n", s.State)
	if s.Running() {
		fmt.Printf("  PID:         %d\n", s.PID)
	}
	if s.Mode != "" {
		fmt.Printf("  Mode:        %s\n", s.Mode)
	}
	fmt.Printf("  Started:     %s\n", s.StartedAt.Local().Format(time.DateTime))
	fmt.Printf("  Updated:     %s\n", s.UpdatedAt.Local().Format(time.DateTime))
	if !s.StoppedAt.IsZero() {
		fmt.Printf("  Stopped:     %s\n", s.StoppedAt.Local().Format(time.DateTime))
	}
	if s.PartitionPath != "" {
		fmt.Printf("  Writing to:  %s\n", s.PartitionPath)
	}
	if s.LogFile != "" {
		fmt.Printf("  Log file:    %s\n", s.LogFile)
	}

	fmt.Printf("  Records:     %d total, %d today\n", s.Stats.TotalRecords, s.Stats.TodaysRecords)
	fmt.Printf("  Rate limits: %d total, %d in a row\n", s.Stats.TotalRateLimitEvents, s.Stats.ConsecutiveRateLimitEvents)
	fmt.Printf("  Reconnects:  %d\n", s.Stats.Reconnects)
	if s.Stats.DecodeErrors > 0 || s.Stats.DroppedRecords > 0 {
		fmt.Printf("  Skipped:     %d malformed, %d dropped\n", s.Stats.DecodeErrors, s.Stats.DroppedRecords)
	}
	if s.Backoff != nil && s.Backoff.Kind != "" && s.Backoff.Until.After(time.Now()) {
		fmt.Printf("  Cooldown:    %s until %s\n", s.Backoff.Kind, s.Backoff.Until.Local().Format(time.TimeOnly))
	}
	if s.LastError != "" {
		fmt.Printf("  Last error:  %s\n", s.LastError)
	}
	if len(s.Rules) > 0 {
		fmt.Println("  Rules:")
		for i, r := range s.Rules {
			fmt.Printf("    %d. %s\n", i+1, r.Pattern)
		}
	}
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
