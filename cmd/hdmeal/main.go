package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	httpapi "github.com/hyunbridge/hdmeal-backend/internal/api/http"
	"github.com/hyunbridge/hdmeal-backend/internal/config"
	"github.com/hyunbridge/hdmeal-backend/internal/fetch"
	"github.com/hyunbridge/hdmeal-backend/internal/ingest"
	"github.com/hyunbridge/hdmeal-backend/internal/logging"
	"github.com/hyunbridge/hdmeal-backend/internal/scheduler"
	"github.com/hyunbridge/hdmeal-backend/internal/source"
	"github.com/hyunbridge/hdmeal-backend/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := store.Open(cfg.DBPath, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer db.Close()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureSchema(startupCtx); err != nil {
		startupCancel()
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}
	startupCancel()

	// Shared HTTP client for all outbound upstream calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	fetcher := fetch.New(httpClient, logger.Named("fetch"))

	neis := source.NewNEIS(fetcher, logger.Named("neis"), cfg.NEISAPIKey, cfg.NEISOfficeCode, cfg.NEISSchoolCode)
	kma := source.NewKMA(fetcher, logger.Named("kma"), cfg.KMAAPIKey, cfg.KMANx, cfg.KMANy)
	water := source.NewSeoulWater(fetcher, logger.Named("water"), cfg.SeoulDataToken)

	syncer := ingest.NewSyncer(db, neis, kma, water, logger.Named("sync"), cfg.WindowDaysBefore, cfg.WindowDaysAfter)
	guard := ingest.NewGuard(db, syncer, logger.Named("guard"), ingest.GuardConfig{
		SchoolWait:    cfg.SchoolEnsureWait,
		AuxWait:       cfg.AuxEnsureWait,
		WeatherMaxAge: cfg.WeatherMaxAge,
		WaterMaxAge:   cfg.WaterTempMaxAge,
	})

	// Warm the cache before serving; a failed warm-up is not fatal.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.RefreshTimeout)
	if err := syncer.SyncWindow(warmCtx); err != nil {
		logger.Warn("startup sync failed; continuing without warm cache", zap.Error(err))
	}
	warmCancel()

	refresher := scheduler.New(syncer, logger.Named("scheduler"), cfg.RefreshInterval, cfg.RefreshTimeout)
	if err := refresher.Start(); err != nil {
		logger.Fatal("failed to start refresher", zap.Error(err))
	}
	defer refresher.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "hdmeal-backend",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "hdmeal-backend",
		})
	})

	httpapi.RegisterRoutes(app, httpapi.Core{
		Store:      db,
		Guard:      guard,
		Syncer:     syncer,
		NumGrades:  cfg.NumGrades,
		NumClasses: cfg.NumClasses,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("fiber server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}

	// Let background refreshes spawned by the guard land before the store
	// closes.
	guard.Wait()
}
