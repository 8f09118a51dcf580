package main

import (
	"encoding/json"
	"fmt"

	"github.com/metalagman/swarm/internal/model"
	"github.com/metalagman/swarm/internal/report"
	"github.com/spf13/cobra"
)

func reportCmd() *cobra.Command {
	var format string
	var style string
	var width int
	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Show the report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outcome := rec.Outcome
			if outcome == nil {
				results, err := store.AgentResults(cmd.Context(), rec.RunID)
				if err != nil {
					return err
				}
				outcome = &model.OrchestrationOutcome{
					RunID:        rec.RunID,
					Strategy:     rec.Strategy.Kind,
					AgentResults: results,
					Error:        "run has not finished",
				}
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(outcome)
			case "markdown":
				fmt.Fprint(out, report.Markdown(*outcome, rec.Strategy.Weights))
				return nil
			case "table":
				fmt.Fprintln(out, report.Table(*outcome, rec.Strategy.Weights))
				fmt.Fprintln(out, report.Summary(*outcome))
				return nil
			case "", "terminal":
				rendered, err := report.Render(report.Markdown(*outcome, rec.Strategy.Weights), style, width)
				if err != nil {
					return err
				}
				fmt.Fprint(out, rendered)
				return nil
			}
			return fmt.Errorf("unknown format %q", format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "terminal", "output format: terminal, markdown, table or json")
	cmd.Flags().StringVar(&style, "style", "", "glamour style for terminal output (default: auto)")
	cmd.Flags().IntVar(&width, "width", 100, "word wrap width for terminal output")
	return cmd
}
