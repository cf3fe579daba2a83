// Candle ingestion CLI
// Copies Binance klines into the candlesticks table used by the postgres source
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/config"
	"github.com/ajitpratap0/sharpefolio/internal/db"
	"github.com/ajitpratap0/sharpefolio/internal/market"
	"github.com/ajitpratap0/sharpefolio/internal/vault"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default ./configs/config.yaml)")
	symbols := flag.String("symbols", "", "Comma-separated symbols, defaults to data.assets")
	days := flag.Int("days", 0, "History to fetch for symbols with no stored candles, defaults to data.days")
	flag.Parse()

	cfg, err := config.LoadWithSecrets(context.Background(), *configPath, vault.ApplySecrets)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	assets := cfg.Data.Assets
	if *symbols != "" {
		assets = strings.Split(*symbols, ",")
	}
	lookback := cfg.Data.Days
	if *days > 0 {
		lookback = *days
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	ingester := market.NewIngester(
		market.NewBinanceSource(cfg.Binance, cfg.Data.Interval),
		database.Candles(),
		cfg.Data.Interval,
	)
	since := time.Now().UTC().AddDate(0, 0, -lookback)

	failed := 0
	for _, symbol := range assets {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		if _, err := ingester.Ingest(ctx, symbol, since); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("Ingestion failed")
			failed++
		}
	}

	if failed > 0 {
		log.Error().Int("failed", failed).Msg("Ingestion finished with errors")
		database.Close()
		os.Exit(1)
	}
	log.Info().Int("symbols", len(assets)).Msg("Ingestion complete")
}
