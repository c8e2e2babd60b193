// README: Entry point; loads config, wires collaborators, starts the operator API.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"routescc/internal/auth"
	"routescc/internal/config"
	httptransport "routescc/internal/http"
	"routescc/internal/infra"
	"routescc/internal/logging"
	"routescc/internal/maps"
	"routescc/internal/modules/matching"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Maps.APIKey == "" {
		log.Fatal("GOOGLE_MAPS_API_KEY is required")
	}

	mongoClient, err := infra.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.User, cfg.Mongo.Password)
	if err != nil {
		log.Fatalf("mongo init: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(shutdownCtx)
	}()
	db := mongoClient.Database(cfg.Mongo.Database)

	redisClient := infra.NewRedis(cfg.Redis.Addr)

	distance, err := maps.NewDistanceService(cfg.Maps.APIKey, redisClient)
	if err != nil {
		log.Fatalf("maps init: %v", err)
	}

	engine, err := matching.NewService(ctx, matching.NewStore(db), distance, logger, cfg.Matching)
	if err != nil {
		log.Fatalf("engine init: %v", err)
	}

	authStore := auth.NewStore(db)
	authSvc := auth.NewService(authStore, authStore, logger)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Engine: engine,
		Auth:   authSvc,
		Log:    logger,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
