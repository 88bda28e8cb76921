package ops

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment keys. Secrets and DSNs never live in the JSON file.
const (
	EnvSQLitePath     = "TRADECORE_SQLITE_PATH"
	EnvPostgresDSN    = "TRADECORE_POSTGRES_DSN"
	EnvRedisAddr      = "TRADECORE_REDIS_ADDR"
	EnvRedisPassword  = "TRADECORE_REDIS_PASSWORD"
	EnvRedisDB        = "TRADECORE_REDIS_DB"
	EnvPyroscopeURL   = "TRADECORE_PYROSCOPE_URL"
	EnvPyroscopeAppID = "TRADECORE_PYROSCOPE_APP"
)

// Env holds settings read from the process environment. Empty values disable the component.
type Env struct {
	SQLitePath     string
	PostgresDSN    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        string
	PyroscopeURL   string
	PyroscopeAppID string
}

// LoadEnv reads a .env file in the working directory when present, then the environment.
func LoadEnv(files ...string) Env {
	_ = godotenv.Load(files...)
	return Env{
		SQLitePath:     os.Getenv(EnvSQLitePath),
		PostgresDSN:    os.Getenv(EnvPostgresDSN),
		RedisAddr:      os.Getenv(EnvRedisAddr),
		RedisPassword:  os.Getenv(EnvRedisPassword),
		RedisDB:        os.Getenv(EnvRedisDB),
		PyroscopeURL:   os.Getenv(EnvPyroscopeURL),
		PyroscopeAppID: envOr(EnvPyroscopeAppID, "tradecore"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
