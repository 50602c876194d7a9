package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/kalambet/firewatch/internal/pipeline"
	"github.com/kalambet/firewatch/internal/risk"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

// noColor is set by the --no-color flag or NO_COLOR.
var noColor = os.Getenv("NO_COLOR") != ""

// stderr receives status lines so stdout stays clean for tables and JSON.
var stderr io.Writer = os.Stderr

func paint(ansi, text string) string {
	if noColor || ansi == "" {
		return text
	}
	return ansi + text + ansiReset
}

func notice(ansi, glyph, format string, args []any) {
	fmt.Fprintln(stderr, paint(ansi, glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notice(ansiGreen, "✓", format, args) }
func printError(format string, args ...any) { notice(ansiRed, "✗", format, args) }
func printWarning(format string, args ...any) { notice(ansiYellow, "!", format, args) }
func printStep(format string, args ...any) { notice(ansiCyan, "→", format, args) }

func printStatus(label, format string, args ...any) {
	fmt.Fprintf(stderr, "  %-12s %s\n", paint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}

func levelColor(l risk.Level) string {
	switch l {
	case risk.Extreme:
		return ansiRed
	case risk.High:
		return ansiYellow
	case risk.Moderate:
		return ansiCyan
	default:
		return ansiGreen
	}
}

// riskRow is one line of a risk table; rank 0 prints as "-".
type riskRow struct {
	rank int
	pipeline.Enriched
}

func writeRiskTable(w io.Writer, rows []riskRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLOCATION\tRISK\tSCORE\tTEMP\tRH\tWIND\tFORECAST")
	for _, r := range rows {
		rank := "-"
		if r.rank > 0 {
			rank = fmt.Sprint(r.rank)
		}
		c := r.Conditions
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.0f°F\t%.0f%%\t%.0f mph\t%s\n",
			rank,
			r.Place.Label(),
			paint(levelColor(r.Risk.Level), r.Risk.Level.String()),
			r.Risk.Score,
			c.Temperature,
			c.RelativeHumidity,
			c.WindSpeed,
			c.ShortForecast,
		)
	}
	tw.Flush()
}
