package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-booking/internal/db"
	"github.com/hackgods/telehealth-booking/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	_ = godotenv.Load()

	logger := logging.Must(os.Getenv("APP_ENV")).Named("seed")
	defer func() { _ = logger.Sync() }()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	// 0 asks gofakeit for a random seed
	_ = gofakeit.Seed(0)

	doctors := getInt("SEED_DOCTORS", 50)
	patients := getInt("SEED_PATIENTS", 5000)

	if err := seedDoctors(context.Background(), pool, logger, doctors); err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedPatients(context.Background(), pool, logger, patients); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	logger.Info("seed complete", zap.Int("doctors", doctors), zap.Int("patients", patients))
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, count int) error {
	logger.Info("seeding doctors", zap.Int("count", count))

	return db.WithTx(ctx, pool, func(ctx context.Context) error {
		q := db.Conn(ctx, pool)
		for i := 0; i < count; i++ {
			// fees land on whole hundreds of minor units, 300.00 to 1500.00
			fee := int64(gofakeit.Number(3, 15)) * 10000

			_, err := q.Exec(ctx, `
				INSERT INTO doctors (id, name, specialty, consultation_fee_minor, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, uuid.New(), "Dr. "+gofakeit.Name(), gofakeit.RandomString(specialties), fee)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, count int) error {
	logger.Info("seeding patients", zap.Int("count", count))

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := db.WithTx(ctx, pool, func(ctx context.Context) error {
			q := db.Conn(ctx, pool)
			for i := offset; i < end; i++ {
				_, err := q.Exec(ctx, `
					INSERT INTO patients (id, name, email, phone, created_at, updated_at)
					VALUES ($1, $2, $3, $4, now(), now())
				`, uuid.New(), gofakeit.Name(), gofakeit.Email(), gofakeit.Phone())
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Debug("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}

	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
