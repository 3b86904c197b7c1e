package main

import (
	"github.com/bardlex/snapminer/internal/config"
	"github.com/bardlex/snapminer/internal/database"
	"github.com/bardlex/snapminer/internal/database/influx"
	"github.com/bardlex/snapminer/internal/database/postgres"
	"github.com/bardlex/snapminer/internal/database/redis"
	"github.com/bardlex/snapminer/internal/pow"
)

// hashParams builds the proof-of-work parameters from the configuration.
func hashParams(cfg *config.Config) (pow.Params, error) {
	salt, err := cfg.Salt()
	if err != nil {
		return pow.Params{}, err
	}
	return pow.Params{
		MemoryKiB:   cfg.Argon2MemoryKiB,
		Time:        cfg.Argon2Time,
		Parallelism: cfg.Argon2Parallelism,
		OutputLen:   cfg.Argon2OutputLen,
		Variant:     cfg.Argon2Variant,
		Version:     cfg.Argon2Version,
		Salt:        salt,
	}, nil
}

// newEvaluator validates the hash parameters and the memory they need for
// the given number of workers.
func newEvaluator(cfg *config.Config, workers int) (*pow.Evaluator, error) {
	params, err := hashParams(cfg)
	if err != nil {
		return nil, err
	}
	evaluator, err := pow.NewEvaluator(params)
	if err != nil {
		return nil, err
	}
	if err := pow.CheckMemoryBudget(params, workers); err != nil {
		return nil, err
	}
	return evaluator, nil
}

// databaseConfig selects the backends whose URL is set.
func databaseConfig(cfg *config.Config) *database.Config {
	dbCfg := &database.Config{}
	if cfg.PostgresURL != "" {
		dbCfg.Postgres = postgres.DefaultConfig(cfg.PostgresURL)
	}
	if cfg.RedisURL != "" {
		dbCfg.Redis = redis.DefaultConfig(cfg.RedisURL)
	}
	if cfg.InfluxURL != "" {
		dbCfg.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
	}
	return dbCfg
}
