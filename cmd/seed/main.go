package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking-api/internal/clinic"
	"github.com/clinicdesk/booking-api/internal/config"
	"github.com/clinicdesk/booking-api/internal/db"
)

// Every seeded patient gets this password so the simulator and manual testing
// can sign in.
const demoPassword = "password123"

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

	doctorCount := getInt("SEED_DOCTORS", 10)
	patientCount := getInt("SEED_PATIENTS", 50)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatal("schema setup", zap.Error(err))
	}

	gofakeit.Seed(time.Now().UnixNano())

	repo := clinic.NewPgRepository(pool)
	svc := clinic.NewService(repo, log)

	doctorIDs, err := seedDoctors(ctx, pool, doctorCount, log)
	if err != nil {
		log.Fatal("seed doctors", zap.Error(err))
	}

	if err := seedPatients(ctx, svc, doctorIDs, patientCount, log); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	inserted, err := svc.EnsureSlotWindow(ctx, cfg.SlotWindowDays, cfg.SlotDayStart, cfg.SlotDayEnd)
	if err != nil {
		log.Fatal("seed slots", zap.Error(err))
	}

	log.Info("seed complete",
		zap.Int("doctors", len(doctorIDs)),
		zap.Int64("slots_inserted", inserted),
		zap.String("patient_password", demoPassword),
	)
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, log *zap.Logger) ([]int64, error) {
	log.Info("seeding doctors", zap.Int("count", count))

	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		name := "Dr. " + gofakeit.Name()
		maxPatients := gofakeit.Number(80, 120)

		var id int64
		err := pool.QueryRow(ctx, `
			INSERT INTO doctors (full_name, max_patients)
			VALUES ($1, $2)
			RETURNING id
		`, name, maxPatients).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func seedPatients(ctx context.Context, svc *clinic.Service, doctorIDs []int64, count int, log *zap.Logger) error {
	log.Info("seeding patients", zap.Int("count", count))

	created := 0
	for i := 0; created < count && i < count*2; i++ {
		birthDate := gofakeit.DateRange(
			time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2006, 12, 31, 0, 0, 0, 0, time.UTC),
		)

		np := clinic.NewPatient{
			FullName:  gofakeit.Name(),
			BirthDate: birthDate,
			Phone:     gofakeit.Phone(),
			Email:     gofakeit.Email(),
			Gender:    gofakeit.Gender(),
			DoctorID:  doctorIDs[created%len(doctorIDs)],
		}

		// Registration goes through the service so capacity accounting stays
		// consistent with the live API.
		_, err := svc.RegisterPatient(ctx, np, demoPassword)
		if err != nil {
			if errors.Is(err, clinic.ErrEmailTaken) {
				continue // gofakeit collision, try another
			}
			if errors.Is(err, clinic.ErrDoctorFull) {
				log.Warn("doctor at capacity during seeding", zap.Int64("doctor_id", np.DoctorID))
				continue
			}
			return err
		}
		created++
	}

	log.Info("patients seeded", zap.Int("created", created))
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		fmt.Fprintf(os.Stderr, "invalid integer for %s=%q, using default %d\n", key, v, def)
	}
	return def
}
