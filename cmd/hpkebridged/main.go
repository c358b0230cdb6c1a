package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collapsinghierarchy/hpkebridge/config"
	"github.com/collapsinghierarchy/hpkebridge/pkc/hpke"
	"github.com/collapsinghierarchy/hpkebridge/routes"
	"github.com/collapsinghierarchy/hpkebridge/service"
	"github.com/collapsinghierarchy/hpkebridge/store/postgres"
)

func main() {
	//----------------------------------------------------------------------
	// 1. env config
	//----------------------------------------------------------------------
	cfg := config.Config{
		Addr:            ":" + getenv("PORT", "1234"),
		DatabaseURL:     mustEnv("DATABASE_URL"),
		StrictReplay:    envBool("STRICT_REPLAY", false),
		MaxMessageBytes: int64(envInt("MAX_MSG", 64*1024)),
	}

	//----------------------------------------------------------------------
	// 2. Postgres (recipient key directory)
	//----------------------------------------------------------------------
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()

	//----------------------------------------------------------------------
	// 3. store → service → routes
	//----------------------------------------------------------------------
	st := postgres.NewStore(pool)
	policy := hpke.ReplayLenient
	if cfg.StrictReplay {
		policy = hpke.ReplayStrictSequential
	}
	svc := service.New(st, service.WithReplayPolicy(policy))

	root := http.MaxBytesHandler(routes.SetupRoutes(svc), cfg.MaxMessageBytes)

	//----------------------------------------------------------------------
	// 4. HTTP server with graceful shutdown
	//----------------------------------------------------------------------
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("hpkebridge listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	// CTRL-C → graceful stop
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down …")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown: %v", err)
	}
	// Drain the handle table last so every live context is zeroed.
	svc.Shutdown()
}

// ─── helpers ────────────────────────────────────────────────────────────────────

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("%s env var is required", key)
	}
	return v
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Fatalf("%s must be an integer", key)
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Fatalf("%s must be a boolean", key)
		}
		return b
	}
	return def
}
