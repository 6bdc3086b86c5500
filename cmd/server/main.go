package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brightpath/backend/internal/config"
	"github.com/brightpath/backend/internal/database"
	"github.com/brightpath/backend/internal/gamification"
	"github.com/brightpath/backend/internal/logger"
	"github.com/brightpath/backend/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, dotenv := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	if !dotenv {
		log.Debug("no .env file found, using environment only")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rules, err := gamification.LoadRules(cfg.RulesFile)
	if err != nil {
		log.Fatal("failed to load gamification rules", "error", err)
	}
	if cfg.Timezone != "" {
		rules.Timezone = cfg.Timezone
	}

	clock := clockwork.NewRealClock()

	var (
		store gamification.Store
		ping  = func(context.Context) error { return nil }
	)
	switch cfg.Store {
	case "memory":
		log.Warn("using the in-memory gamification store, nothing survives a restart")
		store = gamification.NewMemStore(clock)
	case "postgres":
		db, err := database.Connect(ctx, cfg)
		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
		defer db.Close()

		if err := database.Migrate(db); err != nil {
			log.Fatal("failed to run migrations", "error", err)
		}
		store = gamification.NewPGStore(db)
		ping = db.PingContext
	default:
		log.Fatal("unknown GAMIFICATION_STORE", "store", cfg.Store)
	}

	opts := []gamification.Option{gamification.WithLogger(log)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		opts = append(opts, gamification.WithLeaderboard(gamification.NewRedisLeaderboard(rdb)))
	}

	engine, err := gamification.NewEngine(store, rules, clock, opts...)
	if err != nil {
		log.Fatal("invalid gamification configuration", "error", err)
	}
	if cfg.RedisAddr != "" {
		if n, err := engine.WarmLeaderboard(ctx, 1000); err != nil {
			log.Warn("leaderboard warm-up failed", "error", err)
		} else {
			log.Info("leaderboard warmed", "profiles", n)
		}
	}

	sweeper, err := gamification.NewStreakSweeper(engine, cfg.StreakSweep, log)
	if err != nil {
		log.Fatal("failed to schedule streak sweeper", "error", err)
	}
	sweeper.Start()

	// Initialize handlers
	gamHandler := gamification.NewHandler(engine, log)

	// Setup router
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware([]byte(cfg.JWTSecret)))
	gamHandler.RegisterRoutes(protected)

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := sweeper.Stop(); err != nil {
			log.Warn("sweeper shutdown", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		return
	}
	log.Info("server stopped")
}
