package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"streamscraper/pkg/clock"
	"streamscraper/pkg/config"
	"streamscraper/pkg/logger"
	"streamscraper/pkg/models"
	"streamscraper/pkg/rules"
	"streamscraper/pkg/ui"
	"streamscraper/pkg/upstream"
)

var rulesTimeout time.Duration

// rulesCmd represents the rules command
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the rules registered upstream",
	Long: `Inspect and change the filter rules kept on the upstream.

Only applies to the v2 rule mode, where rules live server-side. Do not change
rules while a stream is running; 'stream' registers its own rule set when it
starts unless --no-register is given.`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the active rules",
	Args:  cobra.NoArgs,
	Run:   runRulesList,
}

var rulesSetCmd = &cobra.Command{
	Use:   "set <file>",
	Short: "Replace the active rules with the rules in a file",
	Example: `  # Replace rules from a plain list
  streamscraper rules set rules.txt

  # Replace rules from YAML with tags
  streamscraper rules set rules.yaml`,
	Args: cobra.ExactArgs(1),
	Run:  runRulesSet,
}

var rulesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every active rule",
	Args:  cobra.NoArgs,
	Run:   runRulesClear,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesSetCmd)
	rulesCmd.AddCommand(rulesClearCmd)

	rulesCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "use a specific stored credential profile")
	rulesCmd.PersistentFlags().DurationVar(&rulesTimeout, "timeout", time.Minute, "give up after this long")
}

// rulesClient loads the configuration and credentials and builds a client
// for the rules endpoint
func rulesClient() (*upstream.Client, *config.Config) {
	cfg := loadConfig(map[string]interface{}{"profile": profile})
	initLogger(cfg, verbose || logLevel != "")

	if err := resolveCredentials(cfg); err != nil {
		ui.PrintError("No bearer token found", err.Error())
		os.Exit(1)
	}
	if cfg.Upstream.Mode == string(upstream.ModeV1) {
		ui.PrintError("Rule management needs the v2 mode", "v1 sends rules with each connection")
		os.Exit(1)
	}

	client, err := newUpstreamClient(cfg, clock.Real(), logger.GetLogger())
	if err != nil {
		ui.PrintError("Failed to create upstream client", err.Error())
		os.Exit(1)
	}
	return client, cfg
}

func runRulesList(cmd *cobra.Command, args []string) {
	client, _ := rulesClient()
	ctx, cancel := context.WithTimeout(context.Background(), rulesTimeout)
	defer cancel()

	active, err := client.Rules(ctx)
	if err != nil {
		ui.PrintError("Failed to list rules", err.Error())
		os.Exit(1)
	}
	if len(active) == 0 {
		ui.PrintInfo("No active rules", "Use 'streamscraper rules set <file>' to add some")
		return
	}

	ui.PrintHighlight(fmt.Sprintf("Active Rules (%d)", len(active)))
	printActiveRules(active)
}

func runRulesSet(cmd *cobra.Command, args []string) {
	client, cfg := rulesClient()

	set, err := rules.LoadFile(args[0], cfg.Rules.DefaultTag)
	if err != nil {
		ui.PrintError("Failed to read rules", err.Error())
		os.Exit(1)
	}
	limits := rules.Limits{MaxRules: cfg.Rules.MaxRules, MaxPatternLength: cfg.Rules.MaxPatternLength}
	if err := set.Validate(limits); err != nil {
		ui.PrintError("Invalid rules", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), rulesTimeout)
	defer cancel()

	added, err := client.ReplaceRules(ctx, set)
	if err != nil {
		ui.PrintError("Failed to replace rules", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess(fmt.Sprintf("Registered %d of %d rules", len(added), set.Len()))
	printActiveRules(added)
}

func runRulesClear(cmd *cobra.Command, args []string) {
	client, _ := rulesClient()
	ctx, cancel := context.WithTimeout(context.Background(), rulesTimeout)
	defer cancel()

	removed, err := client.DeleteAllRules(ctx)
	if err != nil {
		ui.PrintError("Failed to delete rules", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess(fmt.Sprintf("Deleted %d rules", len(removed)))
}

func printActiveRules(active []models.ActiveRule) {
	for i, r := range active {
		fmt.Printf("%2d. %s\n", i+1, r.Pattern)
		if r.Tag != "" {
			fmt.Printf("    tag: %s\n", r.Tag)
		}
		fmt.Printf("    id:  %s\n", r.ID)
	}
}
