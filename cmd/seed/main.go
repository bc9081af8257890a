package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"campusattend/internal/attendance"
	"campusattend/internal/config"
	"campusattend/internal/logger"
	"campusattend/internal/seed"
	"campusattend/internal/store"
)

// Seed applies the schema to DATABASE_URL and loads the demo data.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		zl.Fatal("schema failed", zap.Error(err))
	}

	repo := attendance.NewRepository(db.Client)
	dir := attendance.NewDirectory(repo, zl)
	tt := attendance.NewTimetable(repo, cfg.Location, nil, nil, zl)
	if err := seed.Demo(ctx, dir, tt, zl); err != nil {
		zl.Fatal("seed failed", zap.Error(err))
	}
}
