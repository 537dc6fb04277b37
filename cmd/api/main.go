package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/your-org/facedoor/internal/api"
	"github.com/your-org/facedoor/internal/api/handlers"
	"github.com/your-org/facedoor/internal/api/ws"
	"github.com/your-org/facedoor/internal/capture"
	"github.com/your-org/facedoor/internal/config"
	"github.com/your-org/facedoor/internal/distance"
	"github.com/your-org/facedoor/internal/identity"
	"github.com/your-org/facedoor/internal/matcher"
	"github.com/your-org/facedoor/internal/models"
	"github.com/your-org/facedoor/internal/observability"
	"github.com/your-org/facedoor/internal/queue"
	"github.com/your-org/facedoor/internal/service"
	"github.com/your-org/facedoor/internal/storage"
	"github.com/your-org/facedoor/internal/vision"
	"github.com/your-org/facedoor/internal/vision/cascade"
	"github.com/your-org/facedoor/internal/vision/onnx"
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

	slog.Info("starting facedoor API service", "port", cfg.Server.Port,
		"store", cfg.Store.Backend, "vision", cfg.Vision.Backend, "model", cfg.Recognition.Model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handlers.Check{}

	// Postgres (identity store backend and access log)
	var db *storage.PostgresStore
	if cfg.Database.Enabled() {
		db, err = storage.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		checks["postgres"] = db.Ping
	}

	// MinIO (optional image mirror)
	var objects service.ObjectStore
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		objects = minioStore
		checks["minio"] = minioStore.Ping
	}
	images := service.NewImageFiles(cfg.Store.ImageDir, objects, slog.Default())

	// Identity store
	var persister identity.Persister
	switch cfg.Store.Backend {
	case "postgres":
		persister = db
	default:
		persister = identity.NewFilePersister(cfg.Store.Dir)
	}
	store, err := identity.Open(ctx, persister, identity.WithImageCleaner(images))
	if err != nil {
		slog.Error("open identity store", "error", err)
		os.Exit(1)
	}

	// Embedding backend
	backend, closeBackend, err := newBackend(cfg)
	if err != nil {
		slog.Error("init embedding backend", "error", err)
		os.Exit(1)
	}
	defer closeBackend()
	extractor := vision.NewExtractor(backend, cfg.Vision.DefaultDetector, slog.Default())

	metric, err := distance.ParseMetric(cfg.Recognition.Metric)
	if err != nil {
		slog.Error("parse metric", "error", err)
		os.Exit(1)
	}
	m := matcher.New(store, store,
		matcher.DefaultThresholds().Override(cfg.Recognition.Thresholds), slog.Default())

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	opts := []service.Option{
		service.WithImages(images),
		service.WithCamera(capture.NewFFmpegSource(cfg.Capture.URL, cfg.Capture.Timeout, slog.Default())),
	}
	if db != nil {
		opts = append(opts, service.WithAccessLog(db))
	}

	// NATS (door commands and access events). Without a broker the hub
	// receives events directly and no door command is sent.
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		checks["nats"] = func(context.Context) error { return producer.Ping() }
		opts = append(opts, service.WithPublisher(producer))

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create access event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		if err := consumer.ConsumeAccessEvents(ctx, "api-access-events", hub.HandleAccessEvent); err != nil {
			slog.Warn("start access event consumer", "error", err)
		}
		err = consumer.SubscribeDoorAcks(ctx, func(ack models.DoorAck) {
			slog.Info("door command acknowledged",
				"device_id", ack.DeviceID, "command_id", ack.CommandID, "status", ack.Status)
		})
		if err != nil {
			slog.Warn("subscribe door acks", "error", err)
		}
	} else {
		slog.Warn("nats not configured; door commands disabled")
		opts = append(opts, service.WithPublisher(localPublisher{hub: hub}))
	}

	svc := service.New(store, extractor, m, service.Config{
		Model:             cfg.Recognition.Model,
		Metric:            metric,
		MinConfidence:     cfg.Recognition.MinConfidence,
		TopN:              cfg.Recognition.TopN,
		Enrollment:        profile(cfg.Recognition.Enrollment),
		Recognition:       profile(cfg.Recognition.Recognition),
		KeepVisitorImages: objects != nil,
	}, opts...)

	routerCfg := api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		Faces:          svc,
		Checks:         checks,
		Hub:            hub,
		RecognizeRate:  cfg.Server.RecognizeRate,
		RecognizeBurst: cfg.Server.RecognizeBurst,
	}
	if db != nil {
		routerCfg.Events = db
	}
	router := api.NewRouter(routerCfg)

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}

// newBackend builds the configured embedding backend and its cleanup.
func newBackend(cfg *config.Config) (vision.Backend, func(), error) {
	if cfg.Vision.Backend == "remote" {
		b := vision.NewRemoteBackend(vision.RemoteConfig{
			URL:     cfg.Vision.RemoteURL,
			TempDir: cfg.Vision.TempDir,
			Timeout: cfg.Vision.RemoteTimeout,
		})
		return b, func() {}, nil
	}

	if err := onnx.InitRuntime(getONNXLibPath()); err != nil {
		return nil, nil, err
	}
	b, err := onnx.New(onnx.Config{
		ModelsDir:          cfg.Vision.ModelsDir,
		DetectionThreshold: cfg.Vision.DetectionThreshold,
	})
	if err != nil {
		onnx.DestroyRuntime()
		return nil, nil, err
	}

	closers := []func(){b.Close, onnx.DestroyRuntime}
	if det, err := cascade.New(cfg.Vision.CascadePath); err != nil {
		slog.Warn("haar cascade unavailable; opencv detector falls back to retinaface", "path", cfg.Vision.CascadePath, "error", err)
	} else {
		b.WithDetector(vision.DetectorOpenCV, det)
		closers = append([]func(){det.Close}, closers...)
	}

	return b, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func profile(p config.ProfileConfig) vision.Options {
	return vision.Options{
		Detector:         p.Detector,
		EnforceDetection: p.EnforceDetection,
		Align:            p.Align,
		Normalization:    p.Normalization,
	}
}

// localPublisher feeds access events straight into the hub when no
// broker is configured.
type localPublisher struct {
	hub *ws.Hub
}

func (p localPublisher) PublishAccessEvent(ctx context.Context, ev *models.AccessEvent) error {
	return p.hub.PublishAccessEvent(ctx, ev)
}

func (localPublisher) PublishDoorCommand(context.Context, *models.DoorCommand) error {
	return errors.New("no door command transport configured")
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
