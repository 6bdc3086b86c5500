package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds process-level settings read from the environment.
type Config struct {
	Port           string
	DatabaseURL    string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	JWTSecret      string
	// Store is "postgres" or "memory". The memory store keeps nothing across
	// restarts and is meant for local runs.
	Store          string
	RedisAddr      string
	// Timezone overrides the rules file's default timezone when set.
	Timezone       string
	RulesFile      string
	LogMode        string
	AllowedOrigins []string
	StreakSweep    string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, bool) {
	dotenv := godotenv.Load() == nil

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "brightpath"),
		DBPassword:  getEnv("DB_PASSWORD", "brightpath"),
		DBName:      getEnv("DB_NAME", "brightpath"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		Store:       strings.ToLower(strings.TrimSpace(getEnv("GAMIFICATION_STORE", ""))),
		RedisAddr:   strings.TrimSpace(getEnv("REDIS_ADDR", "")),
		Timezone:    getEnv("GAMIFICATION_TIMEZONE", ""),
		RulesFile:   getEnv("GAMIFICATION_RULES_FILE", ""),
		LogMode:     getEnv("LOG_MODE", "dev"),
		StreakSweep: getEnv("STREAK_SWEEP_CRON", "5 0 * * *"),
	}

	if cfg.Store == "" {
		cfg.Store = "postgres"
	}

	for _, origin := range strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	return cfg, dotenv
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
