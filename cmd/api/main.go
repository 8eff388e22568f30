package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coachdocs/docs"
	"coachdocs/internal/blob"
	"coachdocs/internal/config"
	handlers "coachdocs/internal/http/handler"
	"coachdocs/internal/http/middleware"
	"coachdocs/internal/logging"
	"coachdocs/internal/otel"
	"coachdocs/internal/service"
	"coachdocs/internal/storage"
	"coachdocs/internal/store"
)

// @title Coachee Document API
// @version 1.0
// @BasePath /
func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.Log, cfg.Location())
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server_exit", "status", "error", "error_message", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// The store opens lazily; the retrying Initialize below only warms it up.
	docStore := store.NewManager(store.SQLOpener(cfg.Database, logger), logger)
	if err := docStore.Register(reg); err != nil {
		return fmt.Errorf("register store metrics: %w", err)
	}
	defer docStore.Close()

	handles, memHandles, err := newHandles(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init resource handles: %w", err)
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "document_handles_live",
		Help: "Resource handles created and not yet released.",
	}, func() float64 { return float64(handles.Live()) }))

	docSvc := service.NewDocumentService(docStore, handles, logger)

	promMiddleware, err := middleware.NewPrometheusMiddleware(reg, "/health", "/healthz")
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		BodyLimit:             32 << 20,
		DisableStartupMessage: true,
	})

	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(logger))
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	handlers.RegisterRoutes(app, handlers.Deps{
		Store:     docStore,
		Documents: docSvc,
		Blobs:     memHandles,
	})

	// Requests answer STORE_UNAVAILABLE while the store keeps failing to open.
	go func() {
		retry := backoff.NewExponentialBackOff()
		retry.MaxInterval = 30 * time.Second
		if _, err := docStore.InitializeWithRetry(ctx, retry); err != nil {
			logger.Error("store_unavailable", "component", "main", "status", "error", "error_message", err.Error())
		}
	}()

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info("server_start", "component", "main", "addr", addr, "store_driver", cfg.Database.Driver, "handles_backend", cfg.Handles.Backend)
		errc <- app.Listen(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("server_stop", "component", "main", "status", "draining")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(sctx)
}

type liveHandles interface {
	blob.HandleStore
	Live() int
}

// newHandles builds the configured handle backend. The in-memory registry is
// also returned so its content can be served over HTTP.
func newHandles(ctx context.Context, cfg *config.AppConfig) (liveHandles, *blob.MemoryHandles, error) {
	switch cfg.Handles.Backend {
	case config.HandlesMemory, "":
		mem := blob.NewMemoryHandles(cfg.Handles.BaseURL)
		return mem, mem, nil
	case config.HandlesMinIO:
		objStore, err := storage.NewMinIO(ctx, cfg.MinIO)
		if err != nil {
			return nil, nil, err
		}
		return blob.NewObjectHandles(objStore, cfg.Handles.Expiry()), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported handles backend %q", cfg.Handles.Backend)
	}
}
