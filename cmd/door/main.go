package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facedoor/internal/config"
	"github.com/your-org/facedoor/internal/door"
	"github.com/your-org/facedoor/internal/observability"
	"github.com/your-org/facedoor/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.NATS.URL == "" {
		slog.Error("door agent requires nats.url")
		os.Exit(1)
	}

	slog.Info("starting door agent", "device_id", cfg.Door.DeviceID, "hook", cfg.Door.Hook)

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	var actuator door.Actuator = door.LogActuator{}
	if cfg.Door.Hook != "" {
		actuator = door.HookActuator{Path: cfg.Door.Hook, Timeout: cfg.Door.OpenDuration}
	}
	agent := door.NewAgent(door.Config{
		DeviceID: cfg.Door.DeviceID,
		MaxAge:   cfg.Door.MaxCommandAge,
		Cooldown: cfg.Door.OpenDuration,
	}, actuator, producer, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.SubscribeDoorCommands(ctx, agent.Handle); err != nil {
		slog.Error("subscribe door commands", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := producer.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"nats disconnected"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Door.MetricsPort), Handler: mux}
	go func() {
		slog.Info("door agent metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down door agent...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	slog.Info("door agent stopped")
}
