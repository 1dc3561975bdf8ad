package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/meridian-lab/meridian-trading/internal/engine/live"
	"github.com/meridian-lab/meridian-trading/internal/logger"
)

// liveAction runs the live trading session until interrupted.
func liveAction(ctx context.Context, cmd *cli.Command) error {
	config, err := live.LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	// Secrets come from the environment, never the config file.
	if config.Gateway.APIKey == "" {
		config.Gateway.APIKey = os.Getenv("BINANCE_API_KEY")
	}

	if config.Gateway.SecretKey == "" {
		config.Gateway.SecretKey = os.Getenv("BINANCE_SECRET_KEY")
	}

	log, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	eng, err := live.New(config, log)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting live session; Ctrl-C to stop")

	if err := eng.Run(runCtx); err != nil {
		return err
	}

	stats := eng.Stats()
	fmt.Printf("Session closed: %d trades, realized P&L %.2f, fees %.2f\n",
		stats.NumberOfTrades, stats.RealizedPnL, stats.TotalFees)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "live",
		Usage: "Trade a strategy against the live brokerage gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the live engine YAML config",
				Required: true,
			},
		},
		Action: liveAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
