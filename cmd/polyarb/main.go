// Command polyarb runs the Polymarket BTC 15-minute dual-strategy
// arbitrage bot.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"polyarb/internal/bot"
	"polyarb/internal/clob"
	"polyarb/internal/config"
	"polyarb/internal/detect"
	"polyarb/internal/execution"
	"polyarb/internal/feed"
	"polyarb/internal/gamma"
	"polyarb/internal/logging"
	"polyarb/internal/momentum"
	"polyarb/internal/notify"
	"polyarb/internal/obs"
	"polyarb/internal/risk"
	"polyarb/internal/sink"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "polyarb",
		Short: "Polymarket BTC 15-minute dual-strategy arbitrage bot",
		Long: `polyarb scans Polymarket's BTC up/down 15-minute markets for two
kinds of edge: pure arbitrage (both sides together priced under 1.00) and
temporal arbitrage (Binance shows BTC moving before the market reprices).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the scan loop until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runBot(cmd.Context(), cfg)
		},
	}
	root.AddCommand(run)
	return root
}

func runBot(parent context.Context, cfg config.Settings) error {
	log := logging.New(cfg.LogLevel, cfg.LogFile)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clobClient, err := clob.NewClient(cfg.ClobURL, clob.ApiKeyCreds{
		Key:        cfg.APIKey,
		Secret:     cfg.APISecret,
		Passphrase: cfg.APIPassphrase,
		Address:    cfg.APIAddress,
	}, log)
	if err != nil {
		return err
	}
	gammaClient, err := gamma.NewClient(cfg.GammaURL)
	if err != nil {
		return err
	}

	var router execution.Router = clobClient
	var sim *execution.SimRouter
	if cfg.DryRun {
		sim = execution.NewSimRouter(cfg.SimBalanceMicros())
		router = sim
	} else if !clobClient.HasCreds() {
		return fmt.Errorf("live trading requires POLYMARKET_API_KEY, POLYMARKET_API_SECRET and POLYMARKET_API_PASSPHRASE")
	}

	gate := risk.NewGate(risk.Limits{
		MaxDailyLossMicros: cfg.MaxDailyLossMicros(),
		MaxSingleBetMicros: cfg.MaxSingleBetMicros(),
		MaxPositionMicros:  cfg.MaxPositionSizeMicros(),
	}, log)

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		if err := gate.LoadFrom(store); err != nil {
			log.Warn().Err(err).Msg("risk state restore failed, starting fresh")
		}
	}

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	telegram := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.TelegramEnabled, log)

	sinks := sink.Fanout{metrics}
	if tradeLog := sink.NewTradeLog(cfg.TradeLog); tradeLog != nil {
		sinks = append(sinks, tradeLog)
	}
	if telegram.Enabled() {
		sinks = append(sinks, telegram)
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warn().Err(err).Msg("sink close failed")
		}
	}()

	priceFeed := feed.New(feed.DefaultRetention, log)

	b := bot.New(bot.Deps{
		Cfg:      cfg,
		Feed:     priceFeed,
		Momentum: momentum.NewEngine(priceFeed, log),
		Detector: detect.New(detect.Config{
			PairCostMaxMicros:      cfg.TargetPairCostMicros(),
			PureSizeMicros:         cfg.PureArbOrderSizeMicros(),
			TemporalEnabled:        cfg.TemporalArbEnabled,
			TemporalSizeMicros:     cfg.TemporalArbOrderSizeMicros(),
			TemporalConfidenceMin:  cfg.TemporalArbConfidenceMin(),
			TemporalPriceCapMicros: cfg.TemporalArbPriceCapMicros(),
		}, log),
		Gate:     gate,
		Engine:   execution.NewEngine(router, clobClient, execution.Config{}, log),
		Books:    clobClient,
		Finder:   gamma.NewFinder(gammaClient, log),
		Gamma:    gammaClient,
		Sinks:    sinks,
		Metrics:  metrics,
		Store:    store,
		Notifier: telegram,
		Sim:      sim,
		Log:      log,
	})

	if cfg.MetricsAddr != "" {
		srv := obs.NewServer(cfg.MetricsAddr, reg, gate, log)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	return b.Run(ctx)
}

func buildStore(cfg config.Settings) (risk.Store, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		return risk.NewRedisStore(redis.NewClient(opts), risk.DefaultRedisKey), nil
	}
	if cfg.RiskStatePath != "" {
		return risk.NewFileStore(cfg.RiskStatePath), nil
	}
	return nil, nil
}
