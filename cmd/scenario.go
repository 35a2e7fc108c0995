package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/sohbench/qa/scenarios"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario file.yaml [file.yaml ...]",
	Short: "Run benchmark scenarios and check their expectations",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScenario,
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
}

func runScenario(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	failed := 0
	for _, path := range args {
		sc, err := scenarios.Load(path)
		if err != nil {
			return err
		}
		res, err := scenarios.Run(cmd.Context(), sc)
		if err != nil {
			return err
		}
		if res.Passed() {
			fmt.Fprintf(cmd.OutOrStdout(), "PASS %s (%d cells, %s)\n", sc.Name, len(res.Table.Cells), res.Elapsed)
			continue
		}
		failed++
		fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s\n", sc.Name)
		for _, f := range res.Failures {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", f)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(args))
	}
	return nil
}
