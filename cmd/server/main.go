package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/typosquad/typerace/internal/config"
	"github.com/typosquad/typerace/internal/game/cache"
	"github.com/typosquad/typerace/internal/game/coordinator"
	"github.com/typosquad/typerace/internal/game/finalizer"
	"github.com/typosquad/typerace/internal/game/publish"
	"github.com/typosquad/typerace/internal/game/repository"
	"github.com/typosquad/typerace/internal/game/session"
	"github.com/typosquad/typerace/internal/gateway"
	"github.com/typosquad/typerace/internal/rooms"
	"github.com/typosquad/typerace/internal/users"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create database pool")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", cfg.Database.Database).
		Str("nats_url", cfg.NATS.URL).
		Str("port", cfg.Server.Port).
		Msg("starting race server")

	// Session mirror bucket; its TTL doubles as the abandoned-race bound.
	mirrorCfg := cache.DefaultConfig()
	mirrorCfg.URL = cfg.NATS.URL
	mirrorCfg.TTL = cfg.Game.SessionTTL()
	mirror, err := cache.NewSessionMirror(ctx, mirrorCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session mirror")
	}
	defer mirror.Close()

	// Game-finished publisher shares the mirror's NATS connection.
	publisher, err := publish.NewJetStreamPublisher(ctx, mirror.Conn(), publish.DefaultJetStreamConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create game event publisher")
	}

	clock := clockwork.NewRealClock()

	recordRepo := repository.NewRecordRepository(pool)
	statsRepo := users.NewStatsRepository(pool)
	roomRepo := rooms.NewRepository(pool)
	resolver := users.NewTokenResolver(pool)

	fin := finalizer.New(recordRepo, statsRepo, publisher, clock)

	store := session.NewStore(mirror, time.Now)

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	coordCfg := coordinator.DefaultConfig()
	coordCfg.Countdown = cfg.Game.Countdown()
	coordCfg.SessionTTL = cfg.Game.SessionTTL()
	coord := coordinator.New(store, fin, manager, clock, coordCfg)

	gatewayService := gateway.NewService(manager, coord, roomRepo, resolver)

	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      corsHandler.Handler(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start gateway broadcast loop and the idle-session reaper
	go gatewayService.Start(ctx)
	go coord.Run(ctx)

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()

	// Give the broadcast loop and reaper time to drain
	time.Sleep(1 * time.Second)

	log.Info().Msg("race server shutdown complete")
}
