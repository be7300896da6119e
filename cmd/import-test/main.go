package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

func main() {
	var publish bool
	flag.BoolVar(&publish, "publish", false, "Publish and cache the test after import")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: import-test [-publish] <test.json>...")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	tests := service.NewTestService(repository.NewTestRepository(pool), rdb, cfg.TestCacheTTL, log)

	failed := 0
	for _, path := range flag.Args() {
		imp, err := readImport(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Skipping file")
			failed++
			continue
		}
		imp.Publish = imp.Publish || publish

		created, err := tests.Import(ctx, imp)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Import failed")
			failed++
			continue
		}
		log.Info().
			Str("file", path).
			Str("test_id", created.ID).
			Str("status", string(created.Status)).
			Int("sections", created.SectionCount).
			Int("questions", created.QuestionCount).
			Msg("Test imported")
	}

	if failed > 0 {
		log.Fatal().Int("failed", failed).Int("total", flag.NArg()).Msg("Some tests were not imported")
	}
}

func readImport(path string) (*model.TestImport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var imp model.TestImport
	if err := json.Unmarshal(data, &imp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if fields := validator.Struct(&imp); fields != nil {
		return nil, fmt.Errorf("validate %s: %v", path, fields)
	}
	return &imp, nil
}
