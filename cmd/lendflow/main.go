package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marwinsteiner/lendflow/internal/config"
	"github.com/marwinsteiner/lendflow/internal/event"
	"github.com/marwinsteiner/lendflow/internal/ingestion"
	"github.com/marwinsteiner/lendflow/internal/liquidation"
	"github.com/marwinsteiner/lendflow/internal/loan"
	"github.com/marwinsteiner/lendflow/internal/observability"
	"github.com/marwinsteiner/lendflow/internal/oracle"
	"github.com/marwinsteiner/lendflow/internal/persistence"
	"github.com/marwinsteiner/lendflow/internal/pool"
	"github.com/marwinsteiner/lendflow/internal/protocol"
	"github.com/marwinsteiner/lendflow/internal/query"
	"github.com/marwinsteiner/lendflow/internal/risk"
	"github.com/marwinsteiner/lendflow/internal/server"
)

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("LendFlow starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Oracle ---
	priceFeed := oracle.NewFeed(cfg.PriceStaleAfter, nil)

	// --- Protocol core ---
	persistChan := make(chan event.Envelope, cfg.PersistChanSize)
	publishChan := make(chan event.Envelope, cfg.PublishChanSize)

	params, err := risk.NewParamStore(risk.DefaultParameters())
	if err != nil {
		log.Fatal().Err(err).Msg("risk parameters")
	}
	engine := risk.NewEngine(params, priceFeed)

	controller := protocol.NewController(
		pool.New(cfg.ReserveFactor, cfg.MaxDeposit),
		loan.NewBook(),
		params,
		engine,
		priceFeed,
		protocol.Config{
			Admin:           cfg.AdminID,
			CollateralAsset: oracle.AssetETH,
			TermDuration:    cfg.LoanTerm,
			PersistChan:     persistChan,
			PublishChan:     publishChan,
			Logger:          observability.NewLogger("controller"),
			Metrics:         metrics,
		},
	)

	// --- Event replay ---
	last, err := persistence.ReadEventsFrom(ctx, db, 0, controller.Replay)
	if err != nil {
		log.Fatal().Err(err).Msg("event replay")
	}
	controller.FinishReplay()
	log.Info().Int64("sequence", last).Msg("state rebuilt from event log")

	// --- NATS ---
	natsLog := observability.NewLogger("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLog)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js, natsLog); err != nil {
		log.Fatal().Err(err).Msg("ensure NATS streams")
	}

	priceSubscriber := ingestion.NewPriceSubscriber(js, priceFeed, observability.NewLogger("prices"), metrics)
	if err := priceSubscriber.Subscribe(ctx); err != nil {
		log.Fatal().Err(err).Msg("subscribe prices")
	}

	// --- Read side ---
	scanner := liquidation.NewScanner(
		liquidation.SourceFunc(func() []loan.Loan { return controller.View().Loans }),
		engine, priceFeed, oracle.AssetETH,
		observability.NewLogger("scanner"), metrics,
	)
	queryService := query.NewService(controller, engine, priceFeed, oracle.AssetETH, scanner, nil)

	// --- Workers ---
	errChan := make(chan error, 4)

	persistWorker := persistence.NewWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		observability.NewLogger("persistence"), metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))
	go func() {
		errChan <- publisher.Run(ctx)
	}()

	// --- HTTP API ---
	api := server.New(controller, queryService, healthChecker, cfg.AdminToken, observability.NewLogger("http"), metrics)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.Router(),
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		httpServer.Shutdown(shutCtx)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	// --- Metrics server ---
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Int64("sequence", last).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("LendFlow ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("worker failed, shutting down")
	}

	healthChecker.SetReady(false)
	cancel()
	priceSubscriber.Stop()

	// Let in-flight HTTP requests finish before the event channels close;
	// a commit racing a closed persist channel would panic.
	time.Sleep(time.Second)
	close(persistChan)
	close(publishChan)
	time.Sleep(time.Second)

	log.Info().Msg("LendFlow shutdown complete")
}
