package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/sohbench/app"
	"github.com/kilianp07/sohbench/infra/logger"
)

var fitFlags struct {
	model  string
	data   string
	name   string
	origin string
	out    string
}

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a degradation model on a CSV dataset",
	RunE:  runFit,
}

func init() {
	f := fitCmd.Flags()
	f.StringVarP(&fitFlags.model, "model", "m", "", "model name, the first configured model when empty")
	f.StringVarP(&fitFlags.data, "data", "d", "", "dataset CSV file")
	f.StringVar(&fitFlags.name, "name", "", "dataset name, the file name when empty")
	f.StringVar(&fitFlags.origin, "origin", "", "RFC3339 origin of run-time timestamps")
	f.StringVarP(&fitFlags.out, "out", "o", "-", "parameters output file")
	_ = fitCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(fitCmd)
}

func runFit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ds, err := loadDataset(fitFlags.data, fitFlags.name, fitFlags.origin)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()

	modelID := fitFlags.model
	if modelID == "" {
		modelID = svc.Models()[0]
	}
	params, err := svc.Fit(cmd.Context(), modelID, ds.Observations)
	if err != nil {
		return err
	}
	w, closeOut, err := output(cmd, fitFlags.out)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(params); err != nil {
		_ = closeOut()
		return err
	}
	return closeOut()
}
