// cmd/meal-scan/parse.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"meal-scan/internal/nutrition"
)

var parseDominant bool

// parseCmd runs a saved model reply through the pipeline without calling the model.
var parseCmd = &cobra.Command{
	Use:   "parse [file|-]",
	Short: "Normalize a saved model reply and print the result as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		pipeline, err := nutrition.NewPipeline(cfg.Parse)
		if err != nil {
			return err
		}
		parsed, err := pipeline.Normalize(raw)
		if err != nil {
			return err
		}
		logger.Debug("reply parsed", "strategy_used", string(parsed.StrategyUsed), "items", len(parsed.Items))

		var out any = parsed
		if parseDominant {
			d, ok := nutrition.Dominant(parsed.Items)
			if !ok {
				return fmt.Errorf("no items parsed (strategy %s)", parsed.StrategyUsed)
			}
			out = d
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", args[0], err)
	}
	return string(b), nil
}

func init() {
	parseCmd.Flags().BoolVar(&parseDominant, "dominant", false, "Print only the highest-calorie item")
	rootCmd.AddCommand(parseCmd)
}
