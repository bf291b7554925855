package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	MongoURI               string
	MongoDatabase          string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ImportReportTTLMinutes int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	LogLevel               string
	SeedAdminEmail         string
	SeedAdminPasswordIsSet bool
}

// LoadEnvFile copies the variables of ENV_FILE (default .env) into the
// process environment. Variables that are already set win. A missing file is
// not an error.
func LoadEnvFile() (string, error) {
	path := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return path, fmt.Errorf("load %s: %w", path, err)
	}
	return path, nil
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	reportTTL := getPositiveInt("IMPORT_REPORT_TTL_MINUTES", 1440)
	tokenTTL := getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MongoURI:               strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDatabase:          getEnv("MONGO_DATABASE", "bitetrack"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		ImportReportTTLMinutes: reportTTL,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		SeedAdminEmail:         getEnv("SEED_ADMIN_EMAIL", "admin@bitetrack.local"),
		SeedAdminPasswordIsSet: strings.TrimSpace(os.Getenv("SEED_ADMIN_PASSWORD")) != "",
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) ImportReportTTL() time.Duration {
	return time.Duration(c.ImportReportTTLMinutes) * time.Minute
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// StoreKind names the backing store selected by the connection settings.
func (c Config) StoreKind() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.MongoURI != "":
		return "mongodb"
	default:
		return "memory"
	}
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
