package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	httpapi "github.com/i474232898/climate-predict/internal/api/http"
	"github.com/i474232898/climate-predict/internal/config"
	applog "github.com/i474232898/climate-predict/internal/logger"
	"github.com/i474232898/climate-predict/internal/metrics"
	"github.com/i474232898/climate-predict/internal/registry"
	"github.com/i474232898/climate-predict/internal/scheduler"
	"github.com/i474232898/climate-predict/internal/weather"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := applog.New(cfg)

	// Models are loaded once; a malformed file aborts startup.
	reg, err := registry.Load(cfg.ModelDir, log)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ModelDir).Msg("failed to load models")
	}
	metrics.ModelsLoaded.Set(float64(reg.Len()))

	service := weather.NewService(reg, weather.BreakerConfig{
		Failures: cfg.BreakerFailures,
		Cooldown: cfg.BreakerCooldown,
	}, log)

	// Periodic per-model usage report.
	sched := scheduler.New(cfg.StatsInterval, service, log)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               cfg.ServiceName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		Views:                 httpapi.NewViews(),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${locals:requestid} ${status} - ${method} ${path} ${latency}\n",
		Output: log,
	}))
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, service, cfg.ServiceName)

	go func() {
		log.Info().Str("addr", cfg.Addr()).Strs("models", reg.Names()).Msg("starting server")
		if err := app.Listen(cfg.Addr()); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
