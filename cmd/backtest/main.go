package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/meridian-lab/meridian-trading/internal/datasource"
	"github.com/meridian-lab/meridian-trading/internal/engine"
	"github.com/meridian-lab/meridian-trading/internal/engine/backtest"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
)

// backtestAction loads the config, replays the data file through the engine
// and writes the run report.
func backtestAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	dataPath := cmd.String("data")
	reportPath := cmd.String("report")

	config, err := engine.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	source, err := datasource.NewDuckDBSource(dataPath, log)
	if err != nil {
		return err
	}
	defer source.Close()

	start := timestampOption(cmd, "start")
	end := timestampOption(cmd, "end")

	eng, err := backtest.New(config, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	total, err := source.Count(start, end)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Backtesting"),
		progressbar.OptionShowCount(),
	)
	eng.Progress = func() { bar.Add(1) }

	result, err := eng.Run(ctx, source, start, end)
	if err != nil {
		return err
	}

	bar.Finish()

	report := types.RunReport{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Symbols:      config.Symbols,
		StrategyName: eng.Strategy().Name(),
		Stats:        result.Stats,
		DataPath:     dataPath,
		ResultsPath:  config.ExportDir,
	}

	if err := types.WriteRunReport(reportPath, report); err != nil {
		return err
	}

	fmt.Printf("Processed %d bars, %d trades, total return %.2f%%\n",
		result.BarsProcessed, result.Stats.NumberOfTrades, result.Stats.TotalReturn*100)
	fmt.Printf("Report written to %s\n", reportPath)

	return nil
}

// timestampOption turns an optional timestamp flag into a range bound.
func timestampOption(cmd *cli.Command, name string) optional.Option[time.Time] {
	value := cmd.Timestamp(name)
	if value.IsZero() {
		return optional.None[time.Time]()
	}

	return optional.Some(value)
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Replay historical bars through a strategy with simulated execution",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the engine YAML config",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Path to the bar data file (csv or parquet)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "report",
				Aliases: []string{"r"},
				Usage:   "Path for the YAML run report",
				Value:   "backtest_report.yaml",
			},
			&cli.TimestampFlag{
				Name:  "start",
				Usage: "Replay start in `YYYY-MM-DD` format",
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.TimestampFlag{
				Name:  "end",
				Usage: "Replay end in `YYYY-MM-DD` format",
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
		},
		Action: backtestAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
