package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"curlsync/internal/collab"
	"curlsync/internal/platform/config"
	"curlsync/internal/platform/logger"
	"curlsync/internal/platform/metrics"
	"curlsync/internal/relay"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.LoadServer()

	var extra []io.Writer
	logFile, err := logger.OpenFile(cfg.LogFile)
	if err != nil {
		slog.Error("open log file", "path", cfg.LogFile, "error", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
		extra = append(extra, logFile)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, extra...)

	met := metrics.New()
	hub := collab.NewHub(collab.NewInMemoryRepository(), log, met)
	h := collab.NewHandler(hub, log, collab.HandlerOptions{
		AuthToken:       cfg.AuthToken,
		AllowedOrigins:  cfg.AllowedOrigins,
		SendQueueSize:   cfg.SendQueueSize,
		MaxMessageBytes: int64(cfg.MaxMessageBytes),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		rl := relay.New(rdb, cfg.RedisChannel, log)
		hub.SetPublisher(rl)
		go func() {
			if err := rl.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped, serving local sessions only", "error", err)
			}
			hub.SetPublisher(nil)
		}()
	}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(hub.SessionCount()) }).ServeHTTP(w, r)
	})
	r.Get("/healthz", h.Healthz)
	r.Get("/ws", h.ServeWS)
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Get("/command", h.GetCommand)
	})
	if cfg.StaticDir != "" {
		r.Handle("/*", collab.SPAHandler(cfg.StaticDir))
	}

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"tls", cfg.TLSEnabled(),
		"relay", cfg.RedisAddr != "",
		"auth_token_required", cfg.AuthToken != "",
		"log_level", cfg.LogLevel,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, closing sessions")
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
