package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/sohbench/app"
	"github.com/kilianp07/sohbench/infra/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve online SoH estimates over MQTT and expose metrics",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
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
	return svc.Run(ctx, app.ServeOptions{
		PrometheusAddr: cfg.Metrics.PrometheusPort,
		MQTT:           cfg.MQTT,
	})
}
