// Command mevbot is the single operational entry point for the three
// pipeline stages plus the health probe. CLI framing follows
// github.com/urfave/cli/v2, the same library go-ethereum's own cmd/geth
// is built on.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/thoerner/mev-bot/internal/cacheclient"
	"github.com/thoerner/mev-bot/internal/config"
	"github.com/thoerner/mev-bot/internal/detector"
	"github.com/thoerner/mev-bot/internal/stages"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   "config.yaml",
	Usage:   "path to the pipeline configuration file",
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	app := &cli.App{
		Name:  "mevbot",
		Usage: "cross-venue arbitrage detection and simulation pipeline",
		Commands: []*cli.Command{
			{
				Name:  "start-mempool",
				Usage: "run the mempool ingestor stage",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					return runStage(c.Context, log, c.String("config"), stages.RunMempool)
				},
			},
			{
				Name:  "start-arbitrage",
				Usage: "run the reserve view + arbitrage detector stage",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					return runStage(c.Context, log, c.String("config"), stages.RunArbitrage)
				},
			},
			{
				Name:  "start-simulate",
				Usage: "run the bundle simulator stage",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					return runStage(c.Context, log, c.String("config"), stages.RunSimulate)
				},
			},
			{
				Name:  "list-opportunities",
				Usage: "print currently published opportunities from the cache",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					listOpportunities(c.Context, cfg, log)
					return nil
				},
			},
			{
				Name:  "healthcheck",
				Usage: "probe the chain node's health endpoint and exit 0/1/2",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Required: true, Usage: "health endpoint, e.g. http://host/ext/health"},
					&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second},
				},
				Action: func(c *cli.Context) error {
					os.Exit(healthcheck(c.Context, c.String("url"), c.Duration("timeout")))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("mevbot exited with error")
	}
}

// runStage loads configuration, wires a cancellable context tied to
// SIGINT/SIGTERM, and hands off to one stage's run function.
func runStage(ctx context.Context, log zerolog.Logger, configPath string, run stages.RunFunc) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err // configuration error: refuse to start
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, log)
}

// listOpportunities formats the Detector's published opportunities as a
// fixed-precision table. Percentages and trade bounds are rounded through
// shopspring/decimal rather than fmt's binary-float formatting, so the
// printed figures never carry float64's trailing-digit noise.
func listOpportunities(ctx context.Context, cfg *config.Config, log zerolog.Logger) {
	cache := cacheclient.New(cfg.CacheAddr, cfg.MEV.CacheKeyPrefix, log)
	defer cache.Close()

	det := detector.New(nil, cache, nil, nil, log)
	opps := det.GetCurrentOpportunities(ctx)

	if len(opps) == 0 {
		fmt.Println("no opportunities currently published")
		return
	}

	for _, o := range opps {
		profit := decimal.NewFromFloat(o.ProfitPercent).Round(4)
		minTrade := decimal.NewFromFloat(o.MinTrade).Round(6)
		maxTrade := decimal.NewFromFloat(o.MaxTrade).Round(6)
		fmt.Printf("%s -> %s  buy=%s sell=%s  profit=%s%%  trade=[%s,%s]\n",
			o.TokenA.Hex(), o.TokenB.Hex(), o.BuyVenue, o.SellVenue, profit.String(), minTrade.String(), maxTrade.String())
	}
}

// healthcheck hits the chain node's health endpoint with a bounded
// timeout, prints one status line, and returns the process exit code (0
// healthy, 1 unreachable, 2 unhealthy). Block-lag checking is already
// done server-side by the health endpoint itself; this probe just
// relays that verdict.
func healthcheck(ctx context.Context, url string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Println("status=unreachable")
		return 1
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("status=unreachable")
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("status=unhealthy http=%d\n", resp.StatusCode)
		return 2
	}

	var body struct {
		Result struct {
			Healthy bool `json:"healthy"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !body.Result.Healthy {
		fmt.Println("status=unhealthy")
		return 2
	}
	fmt.Println("status=healthy")
	return 0
}
