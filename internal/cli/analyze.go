package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-history/internal/analyzer"
	"github.com/aqasim81/migration-history/internal/migration"
)

var analyzeCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "analyze [migration-dir]",
	Short: "Analyze migrations for dangerous operations",
	Long: `Analyze migration files for DDL that takes heavy locks, rewrites
tables, or loses data. Reports findings with severity levels and suggests
safe alternatives.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	analyzeCmd.Flags().String("format", "", "output format (text, json); defaults to the configured format")
	analyzeCmd.Flags().Bool("fail-on-high", false, "exit with non-zero code if high/critical findings exist")
	rootCmd.AddCommand(analyzeCmd)
}

// errHighSeverityFindings is returned when --fail-on-high is set and high/critical findings exist.
var errHighSeverityFindings = errors.New("high or critical severity findings detected")

func runAnalyze(cmd *cobra.Command, args []string) error {
	dir := AppConfig.MigrationsDir
	if len(args) > 0 {
		dir = args[0]
	}

	format := AppConfig.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}

	if format != "text" && format != "json" {
		return fmt.Errorf("unknown output format %q (want text or json)", format)
	}

	seq, err := migration.ReadAll(dir, true)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	if seq.Len() == 0 && format == "text" {
		fmt.Fprintln(cmd.OutOrStdout(), "No migration files found.")
		return nil
	}

	results, err := newAnalyzer(AppConfig).AnalyzeAll(seq.Values())
	if err != nil {
		return fmt.Errorf("analyzing migrations: %w", err)
	}

	var hasHighOrCritical bool

	if format == "json" {
		hasHighOrCritical, err = printAnalysisJSON(cmd, results)
		if err != nil {
			return err
		}
	} else {
		hasHighOrCritical = printAnalysisResults(cmd, results)
	}

	failOnHigh, _ := cmd.Flags().GetBool("fail-on-high")
	if failOnHigh && hasHighOrCritical {
		return errHighSeverityFindings
	}

	return nil
}

func printAnalysisResults(cmd *cobra.Command, results []analyzer.AnalysisResult) bool {
	out := cmd.OutOrStdout()
	totalFindings := 0
	hasHighOrCritical := false

	for _, r := range results {
		if len(r.Findings) == 0 {
			continue
		}

		fmt.Fprintf(out, "\n=== %s ===\n", r.Source)

		for _, f := range r.Findings {
			fmt.Fprintf(out, "  [%s] %s\n", f.Severity.Color().Sprint(f.Severity), f.Message)

			if f.Table != "" {
				fmt.Fprintf(out, "    Table: %s\n", f.Table)
			}

			fmt.Fprintf(out, "    Rule:  %s\n", f.Rule)

			if f.Statement != "" {
				fmt.Fprintf(out, "    SQL:   %s\n", analyzer.TruncateSQL(f.Statement, maxStatementWidth))
			}

			fmt.Fprintf(out, "    Fix:   %s\n\n", f.Suggestion)
		}

		totalFindings += len(r.Findings)

		if r.HasHighOrCritical() {
			hasHighOrCritical = true
		}
	}

	if totalFindings == 0 {
		fmt.Fprintln(out, "No dangerous operations detected.")
	} else {
		fmt.Fprintf(out, "Found %d finding(s) across %d migration(s).\n", totalFindings, countMigrationsWithFindings(results))
	}

	return hasHighOrCritical
}

const maxStatementWidth = 120

type jsonFinding struct {
	Migration  string `json:"migration"`
	Rule       string `json:"rule"`
	Severity   string `json:"severity"`
	Table      string `json:"table,omitempty"`
	Statement  string `json:"statement,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
	LockType   string `json:"lock_type,omitempty"`
}

func printAnalysisJSON(cmd *cobra.Command, results []analyzer.AnalysisResult) (bool, error) {
	findings := make([]jsonFinding, 0)
	hasHighOrCritical := false

	for _, r := range results {
		for _, f := range r.Findings {
			findings = append(findings, jsonFinding{
				Migration:  r.Source,
				Rule:       f.Rule,
				Severity:   f.Severity.String(),
				Table:      f.Table,
				Statement:  f.Statement,
				Message:    f.Message,
				Suggestion: f.Suggestion,
				LockType:   f.LockType,
			})
		}

		if r.HasHighOrCritical() {
			hasHighOrCritical = true
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if err := enc.Encode(findings); err != nil {
		return false, fmt.Errorf("writing findings: %w", err)
	}

	return hasHighOrCritical, nil
}

func countMigrationsWithFindings(results []analyzer.AnalysisResult) int {
	count := 0

	for _, r := range results {
		if len(r.Findings) > 0 {
			count++
		}
	}

	return count
}
