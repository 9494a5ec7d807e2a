// Package main is the entry point of the ledger sniper bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/your-org/ledger-sniper-bot/internal/alert"
	"github.com/your-org/ledger-sniper-bot/internal/chain"
	"github.com/your-org/ledger-sniper-bot/internal/config"
	"github.com/your-org/ledger-sniper-bot/internal/dbwriter"
	"github.com/your-org/ledger-sniper-bot/internal/engine"
	"github.com/your-org/ledger-sniper-bot/internal/gate"
	"github.com/your-org/ledger-sniper-bot/internal/http/handler"
	"github.com/your-org/ledger-sniper-bot/internal/ledger"
	"github.com/your-org/ledger-sniper-bot/internal/metrics"
	"github.com/your-org/ledger-sniper-bot/internal/pricefeed"
	"github.com/your-org/ledger-sniper-bot/internal/sniper"
	"github.com/your-org/ledger-sniper-bot/internal/store"
	"github.com/your-org/ledger-sniper-bot/internal/trader"
	"github.com/your-org/ledger-sniper-bot/internal/venue"
	"github.com/your-org/ledger-sniper-bot/pkg/logger"
)

func main() {
	// --- Configuration ---
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	paperSOL := flag.Float64("paper-sol", 1, "Starting SOL balance of the paper executor when live trades are off")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.ReloadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger.SetGlobalLogLevel(cfg.LogLevel)
	logger.Info("Ledger sniper bot starting...")
	logger.Infof("Loaded configuration from: %s", *configPath)

	zapLogger, err := newZapLogger(cfg.LogLevel)
	if err != nil {
		logger.Fatalf("Failed to initialize Zap logger: %v", err)
	}
	defer func() {
		if err := zapLogger.Sync(); err != nil {
			// We can't use the logger here because it's being synced.
			fmt.Fprintf(os.Stderr, "Failed to sync zap logger: %v\n", err)
		}
	}()

	// --- Postgres (Optional) ---
	var pool *pgxpool.Pool
	if cfg.DBWriter.BatchSize > 0 || cfg.Store.Driver == "postgres" {
		pool, err = openDatabase(ctx, cfg.Database, zapLogger)
		if err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		defer pool.Close()
		logger.Info("Database connection established and migrated.")
	}

	// --- Journal ---
	var journal dbwriter.Writer
	if pool != nil && cfg.DBWriter.BatchSize > 0 {
		pgWriter, err := dbwriter.NewPGWriter(pool, cfg.DBWriter, zapLogger)
		if err != nil {
			logger.Fatalf("Failed to initialize journal writer: %v", err)
		}
		journal = pgWriter
	} else {
		journal = dbwriter.NewDummyWriter(logger.NewLogger(cfg.LogLevel))
	}
	defer journal.Close()

	// --- Trader state store ---
	var db store.DB
	if pool != nil {
		db = pool
	}
	states, err := store.Open(cfg.Store, db, zapLogger)
	if err != nil {
		logger.Fatalf("Failed to open trader state store: %v", err)
	}

	// --- Metrics and notifications ---
	m := metrics.New()
	notifier := newNotifier(cfg.Discord, zapLogger)
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Errorf("Failed to close notifier: %v", err)
		}
	}()

	// --- Execution ---
	rpcClient := chain.NewClient(cfg.RPC.Endpoint, cfg.RPC.Commitment, zapLogger)
	submitter := chain.NewSubmitter(rpcClient, zapLogger)
	venues := newVenues(cfg, submitter, zapLogger)

	var executor engine.Executor
	if cfg.Execution.LiveTrades.Bool() {
		signer, err := chain.ParseSigner(cfg.Secret)
		if err != nil {
			logger.Fatalf("Live trading needs a valid BOT_SECRET: %v", err)
		}
		orchestrator, err := engine.NewOrchestrator(venues, submitter, signer, cfg.Execution, journal, zapLogger, engine.WithRecorder(m))
		if err != nil {
			logger.Fatalf("Failed to build execution orchestrator: %v", err)
		}
		executor = orchestrator
		logger.Infof("Live trading enabled for wallet %s", signer.PublicKey())
	} else {
		prices := engine.VenuePrices{Venues: venues, Timeout: cfg.Execution.PrecheckTimeout()}
		executor = engine.NewPaperExecutor(prices, decimal.NewFromFloat(*paperSOL), journal)
		logger.Infof("Paper trading with %.4f SOL", *paperSOL)
	}

	// --- Price feed ---
	priceSource := &pricefeed.Source{Fallback: executor, Logger: zapLogger}
	feedTimeout := time.Duration(cfg.PriceFeed.TimeoutMs) * time.Millisecond
	if cfg.PriceFeed.HTTPURL != "" {
		priceSource.HTTP = pricefeed.NewHTTPFeed(cfg.PriceFeed.HTTPURL, feedTimeout)
	}
	if cfg.PriceFeed.UseWS.Bool() && cfg.PriceFeed.WSURL != "" {
		ws := pricefeed.NewWSFeed(cfg.PriceFeed.WSURL, zapLogger)
		ws.OnReconnect = m.IncFeedReconnect
		priceSource.WS = ws
		go func() {
			if err := ws.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Price websocket exited with error: %v", err)
			}
		}()
	}

	// --- Trade loops ---
	traders := trader.NewManager(cfg.Trader, trader.Deps{
		Executor:   executor,
		Prices:     priceSource,
		Indicators: trader.NewIndicatorClient(cfg.Indicators.BaseURL, time.Duration(cfg.Indicators.TimeoutMs)*time.Millisecond, zapLogger),
		Store:      states,
		Journal:    journal,
		Notifier:   notifier,
		Observer:   m,
		Logger:     zapLogger,
	})
	if n, err := traders.Resume(ctx); err != nil {
		logger.Errorf("Failed to resume traders: %v", err)
	} else if n > 0 {
		logger.Infof("Resumed %d trade loops", n)
	}

	// --- Signal engine and sniper ---
	ledgerEngine := ledger.New(ledger.Options{
		WindowDepth:      cfg.Ledger.WindowDepth,
		DensityThreshold: cfg.Ledger.DensityThreshold,
		RequiredBits:     cfg.Ledger.RequiredBits,
		MaxFreshAssets:   cfg.Ledger.MaxFreshAssets,
		SameAuthority:    cfg.Ledger.SameAuthority.Bool(),
		Observer:         m.ObserveFunding,
	})
	snipes := sniper.New(ctx, ledgerEngine, gate.FromConfig(cfg.Gate), cfg.Snipe, journal, zapLogger, sniper.Options{
		Buyer:    executor,
		Traders:  traders,
		Recorder: m,
		Notifier: notifier,
	})

	// --- HTTP API ---
	router := handler.NewRouter(m.Handler(),
		handler.NewEventsHandler(snipes, zapLogger),
		handler.NewTradersHandler(traders, states, zapLogger),
	)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("HTTP server starting on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server failed: %v", err)
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown: %v", err)
	}
	traders.Close()
	snipes.Wait()
	logger.Info("Ledger sniper bot shut down gracefully.")
}

func newZapLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openDatabase(ctx context.Context, dbCfg config.DatabaseConfig, zapLogger *zap.Logger) (*pgxpool.Pool, error) {
	dsn := dbCfg.DSN()
	if err := store.Migrate(dsn, zapLogger); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

func newNotifier(cfg config.DiscordConfig, zapLogger *zap.Logger) alert.Notifier {
	if cfg.BotToken == "" || cfg.UserID == "" {
		return alert.NewNoOpNotifier()
	}
	n, err := alert.NewDiscordNotifier(cfg, zapLogger)
	if err != nil {
		logger.Warnf("Discord notifier disabled: %v", err)
		return alert.NewNoOpNotifier()
	}
	logger.Info("Discord notifier enabled.")
	return n
}

// newVenues returns the venues in preference order.
func newVenues(cfg *config.Config, sub *chain.Submitter, zapLogger *zap.Logger) []venue.Venue {
	opts := func(v config.VenueConfig) venue.Options {
		return venue.Options{
			BaseURL:              v.BaseURL,
			PriceURL:             v.PriceURL,
			Timeout:              time.Duration(v.TimeoutMs) * time.Millisecond,
			SellRetrySlippageBps: cfg.Execution.SellRetrySlippageBps,
			ForceSend:            cfg.Execution.ForceSendOnSimFail.Bool(),
			MinOut:               cfg.Execution.PrecheckMinOut,
		}
	}
	return []venue.Venue{
		venue.NewJupiter(opts(cfg.Jupiter), sub, zapLogger),
		venue.NewRaydium(opts(cfg.Raydium), sub, zapLogger),
	}
}
