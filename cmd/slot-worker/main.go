package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/booking-api/internal/clinic"
	"github.com/clinicdesk/booking-api/internal/config"
	"github.com/clinicdesk/booking-api/internal/db"
)

// slot-worker keeps the rolling window of bookable slots topped up: every
// interval it generates the missing hourly slots for each doctor over the
// configured number of future days. Slots that already exist, booked or not,
// are never touched.
func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load error", zap.Error(err))
	}

	log.Info("slot-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Int("window_days", cfg.SlotWindowDays),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	repo := clinic.NewPgRepository(pgPool)
	svc := clinic.NewService(repo, log)

	// Run once at startup
	runOnce(rootCtx, svc, cfg, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping slot worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg, log)
		}
	}
}

func runOnce(ctx context.Context, svc *clinic.Service, cfg config.Config, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()
	inserted, err := svc.EnsureSlotWindow(runCtx, cfg.SlotWindowDays, cfg.SlotDayStart, cfg.SlotDayEnd)
	if err != nil {
		log.Error("slot window run error", zap.Error(err))
		return
	}

	log.Info("slot window run complete",
		zap.Int64("slots_inserted", inserted),
		zap.Duration("took", time.Since(start)),
	)
}
