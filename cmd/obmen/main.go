// Command obmen runs the simulated wallet and swap service. It exposes an
// HTTP API for deposits, swaps, balances and history, backed by a chosen
// market rate provider (CoinGecko, Binance or Bybit).
//
// Usage:
//
//	obmen --setup                (interactive config wizard)
//	obmen --config config.yaml
//	obmen (uses CLI arguments)
//
// Optional environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vadiminshakov/obmen/config"
	"github.com/vadiminshakov/obmen/internal/notify"
	"github.com/vadiminshakov/obmen/internal/services/engine"
	"github.com/vadiminshakov/obmen/internal/services/ledger"
	"github.com/vadiminshakov/obmen/internal/services/rates"
	"github.com/vadiminshakov/obmen/internal/setup"
	"github.com/vadiminshakov/obmen/internal/storage/history"
	"github.com/vadiminshakov/obmen/internal/storage/wallets"
	"github.com/vadiminshakov/obmen/internal/web"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--setup" {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	provider, err := buildProvider(cfg)
	if err != nil {
		logger.Fatal("build rate provider", zap.Error(err))
	}

	rateSource, err := rates.NewSource(provider, rates.Config{
		TTL:          cfg.RateTTL,
		StaleAfter:   cfg.StaleAfter,
		FetchTimeout: cfg.FetchTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("build rate source", zap.Error(err))
	}

	walletStore, err := wallets.NewStore(cfg.DataDir)
	if err != nil {
		logger.Fatal("open wallet store", zap.Error(err))
	}

	var ledgerOpts []ledger.Option
	if cfg.SeedAmount.IsPositive() {
		ledgerOpts = append(ledgerOpts, ledger.WithSeed(cfg.SeedAsset, cfg.SeedAmount))
	}
	ledg, err := ledger.New(walletStore, logger, ledgerOpts...)
	if err != nil {
		logger.Fatal("build ledger", zap.Error(err))
	}

	historyStore, err := history.NewWALStore(cfg.DataDir)
	if err != nil {
		logger.Fatal("open history store", zap.Error(err))
	}
	defer historyStore.Close()

	broadcaster := notify.NewBroadcaster(64)
	notifiers := notify.Multi{broadcaster}

	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Fatal("connect to rabbitmq", zap.Error(err))
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("open rabbitmq channel", zap.Error(err))
		}
		defer ch.Close()

		publisher, err := notify.NewAMQPPublisher(ch, logger)
		if err != nil {
			logger.Fatal("declare rabbitmq exchange", zap.Error(err))
		}
		notifiers = append(notifiers, publisher)
	}

	eng, err := engine.New(rateSource, ledg, historyStore, notifiers, cfg.PivotAsset, logger)
	if err != nil {
		logger.Fatal("build swap engine", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := web.NewServer(cfg.ListenAddr, eng, ledg, historyStore, broadcaster, logger)

	logger.Info("starting swap service",
		zap.String("provider", cfg.Provider),
		zap.String("pivot", cfg.PivotAsset),
		zap.String("listen", cfg.ListenAddr),
		zap.String("data_dir", cfg.DataDir))

	if err := server.Start(ctx); err != nil {
		logger.Fatal("http server", zap.Error(err))
	}

	logger.Info("swap service stopped")
}

func buildProvider(cfg config.Config) (rates.Provider, error) {
	switch cfg.Provider {
	case "coingecko":
		return rates.NewCoingeckoProvider("", nil), nil
	case "binance":
		client := binance.NewClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
		return rates.NewBinanceProvider(client), nil
	case "bybit":
		client := bybit.NewClient()
		if key, secret := os.Getenv("BYBIT_API_KEY"), os.Getenv("BYBIT_API_SECRET"); key != "" && secret != "" {
			client = client.WithAuth(key, secret)
		}
		return rates.NewBybitProvider(client), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
