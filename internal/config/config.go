// Package config reads the service settings from the environment, optionally
// seeded from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting of the service.
type Config struct {
	Addr string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI string

	RegistryURL string

	GroqAPIKey string
	GroqModel  string

	IndexTimeout time.Duration
	VariantTTL   time.Duration

	LogLevel string
}

// Load reads .env (when present) and the environment. Variables already set in the
// environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: .env: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("config: REDIS_DB: %w", err)
	}
	indexTimeout, err := time.ParseDuration(getEnv("INDEX_TIMEOUT", "10s"))
	if err != nil || indexTimeout <= 0 {
		return Config{}, fmt.Errorf("config: INDEX_TIMEOUT must be a positive duration, got %q", os.Getenv("INDEX_TIMEOUT"))
	}
	variantTTL, err := time.ParseDuration(getEnv("VARIANT_TTL", "5m"))
	if err != nil || variantTTL <= 0 {
		return Config{}, fmt.Errorf("config: VARIANT_TTL must be a positive duration, got %q", os.Getenv("VARIANT_TTL"))
	}

	return Config{
		Addr:          getEnv("ADDR", ":8080"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		RegistryURL:   getEnv("CNAE_REGISTRY_URL", "https://servicodados.ibge.gov.br/api/v2/cnae/subclasses"),
		GroqAPIKey:    os.Getenv("GROQ_API_KEY"),
		GroqModel:     getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		IndexTimeout:  indexTimeout,
		VariantTTL:    variantTTL,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
