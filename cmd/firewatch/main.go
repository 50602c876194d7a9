package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "firewatch",
	Short: "Rank US locations by current wildfire risk",
	Long: `firewatch resolves candidate places per state, fetches their weather.gov
forecasts under per-upstream rate limits, and ranks the places at high or
extreme fire risk.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("no-color"); v {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(riskCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(assessCmd)
	rootCmd.AddCommand(popularCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
