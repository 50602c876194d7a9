package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/firewatch/internal/analysis"
	"github.com/kalambet/firewatch/internal/config"
	"github.com/kalambet/firewatch/internal/pipeline"
	"github.com/kalambet/firewatch/internal/storage"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func rankedRows(results []analysis.RankedResult) []riskRow {
	rows := make([]riskRow, len(results))
	for i, r := range results {
		rows[i] = riskRow{rank: r.Rank, Enriched: r.Enriched}
	}
	return rows
}

func printReport(w io.Writer, rep analysis.Report) {
	if rep.Empty {
		printWarning("Run %s found no candidates: %s", shortID(rep.ID), rep.Reason)
		return
	}
	if len(rep.FailedCategories) > 0 {
		printWarning("Categories that failed to resolve: %s", strings.Join(rep.FailedCategories, ", "))
	}
	if len(rep.Results) == 0 {
		fmt.Fprintf(w, "No high-risk locations among %d checked.\n", rep.Enriched)
		return
	}
	writeRiskTable(w, rankedRows(rep.Results))
	fmt.Fprintf(w, "\n%d of %d checked locations shown (run %s, %s)\n",
		len(rep.Results), rep.Enriched, shortID(rep.ID), rep.StartedAt.Local().Format(time.RFC1123))
}

// --- risk ---

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Show the latest high-risk locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var rep analysis.Report
		if err := client.getJSON(cmd.Context(), "/risk", &rep); err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), rep)
		}
		printReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

// --- refresh ---

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Ask the server to start a new analysis run",
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/risk/refresh"
		if wait {
			path += "?wait=true"
			printStep("Running analysis, this can take a few minutes...")
		}
		if !wait {
			var accepted map[string]string
			if err := client.postJSON(cmd.Context(), path, &accepted); err != nil {
				return err
			}
			printSuccess("Analysis run started")
			return nil
		}

		var rep analysis.Report
		if err := client.postJSON(cmd.Context(), path, &rep); err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

// --- lookup ---

var lookupCmd = &cobra.Command{
	Use:   "lookup <query>",
	Short: "Find places by name and resolve their forecast grid",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var locs []analysis.Location
		if err := client.getJSON(cmd.Context(), "/lookup?q="+url.QueryEscape(query), &locs); err != nil {
			return err
		}

		if len(locs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No matches found.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "LOCATION\tLAT\tLON\tGRID")
		for _, l := range locs {
			fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%s\n", l.Label(), l.Lat, l.Lon, l.Grid.Key())
		}
		return tw.Flush()
	},
}

// --- assess ---

var assessCmd = &cobra.Command{
	Use:     "assess --lat <lat> --lon <lon>",
	Short:   "Classify the current fire risk at a coordinate",
	Example: "  firewatch assess --lat 38.57 --lon -109.55 --name Moab",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		name, _ := cmd.Flags().GetString("name")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
		if name != "" {
			q.Set("name", name)
		}
		var res pipeline.Enriched
		if err := client.getJSON(cmd.Context(), "/assess?"+q.Encode(), &res); err != nil {
			return err
		}

		writeRiskTable(cmd.OutOrStdout(), []riskRow{{Enriched: res}})
		for _, f := range res.Risk.Factors {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", f)
		}
		return nil
	},
}

// --- popular ---

var popularCmd = &cobra.Command{
	Use:   "popular",
	Short: "Show current risk for the configured popular locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var res []pipeline.Enriched
		if err := client.getJSON(cmd.Context(), "/popular", &res); err != nil {
			return err
		}
		if len(res) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No popular locations could be assessed.")
			return nil
		}
		rows := make([]riskRow, len(res))
		for i, r := range res {
			rows[i] = riskRow{Enriched: r}
		}
		writeRiskTable(cmd.OutOrStdout(), rows)
		return nil
	},
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis locally without a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		save, _ := cmd.Flags().GetBool("save")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log.Level)

		fw, err := buildApp(cfg, save, logger)
		if err != nil {
			return err
		}
		defer fw.close(shutdownTimeout)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printStep("Analyzing %d categories...", len(fw.categories))
		rep, err := fw.analyzer.Run(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), rep)
		}
		printReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse analysis run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent analysis runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var runs []storage.RunSummary
		if err := client.getJSON(cmd.Context(), fmt.Sprintf("/runs?limit=%d&offset=%d", limit, offset), &runs); err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tCHECKED\tRESULTS\tNOTE")
		for _, r := range runs {
			note := ""
			switch {
			case r.Empty:
				note = r.Reason
			case len(r.FailedCategories) > 0:
				note = "failed: " + strings.Join(r.FailedCategories, ", ")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
				paint(ansiCyan, shortID(r.ID)),
				r.StartedAt.Local().Format("2006-01-02 15:04"),
				r.Duration.Round(time.Second),
				r.Enriched, r.Candidates,
				r.Results,
				note,
			)
		}
		return tw.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var rep analysis.Report
		if err := client.getJSON(cmd.Context(), "/runs/"+url.PathEscape(args[0]), &rep); err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), rep)
		}
		printReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", paint(ansiBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	riskCmd.Flags().Bool("json", false, "print the raw report")
	refreshCmd.Flags().Bool("wait", false, "wait for the run and print its report")
	assessCmd.Flags().Float64("lat", 0, "latitude in decimal degrees")
	assessCmd.Flags().Float64("lon", 0, "longitude in decimal degrees (negative west of Greenwich)")
	assessCmd.Flags().String("name", "", "label for the location")
	assessCmd.MarkFlagRequired("lat")
	assessCmd.MarkFlagRequired("lon")
	analyzeCmd.Flags().Bool("save", false, "record the run in the history database")
	analyzeCmd.Flags().Bool("json", false, "print the raw report")

	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	runsListCmd.Flags().Int("offset", 0, "number of runs to skip")
	runsShowCmd.Flags().Bool("json", false, "print the raw report")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
