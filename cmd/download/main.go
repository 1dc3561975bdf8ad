package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/meridian-lab/meridian-trading/pkg/marketdata"
)

// downloadAction fetches historical bars and writes them as a CSV the
// backtest data sources can replay.
func downloadAction(ctx context.Context, cmd *cli.Command) error {
	symbol := cmd.String("symbol")
	providerName := marketdata.ProviderName(cmd.String("provider"))
	interval := marketdata.Interval(cmd.String("interval"))
	output := cmd.String("output")
	start := cmd.Timestamp("start")

	end := cmd.Timestamp("end")
	if end.IsZero() {
		end = time.Now().UTC()
	}

	provider, err := marketdata.NewProvider(providerName, os.Getenv("POLYGON_API_KEY"))
	if err != nil {
		return err
	}

	count, err := marketdata.DownloadCSV(ctx, provider, symbol, start, end, interval, output)
	if err != nil {
		return err
	}

	fmt.Printf("\nWrote %d bars to %s\n", count, output)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "download",
		Usage: "Download historical bars for backtesting",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "symbol",
				Aliases:  []string{"s"},
				Usage:    "Instrument symbol",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "provider",
				Aliases: []string{"p"},
				Usage:   fmt.Sprintf("Data provider (%s, %s)", marketdata.ProviderPolygon, marketdata.ProviderBinance),
				Value:   string(marketdata.ProviderBinance),
			},
			&cli.StringFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Bar interval (1m, 5m, 15m, 1h, 1d)",
				Value:   string(marketdata.Interval1m),
			},
			&cli.TimestampFlag{
				Name:     "start",
				Usage:    "Range start in `YYYY-MM-DD` format",
				Required: true,
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.TimestampFlag{
				Name:  "end",
				Usage: "Range end in `YYYY-MM-DD` format. Defaults to now.",
				Config: cli.TimestampConfig{
					Layouts: []string{"2006-01-02"},
				},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "CSV output path",
				Value:   "bars.csv",
			},
		},
		Action: downloadAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
