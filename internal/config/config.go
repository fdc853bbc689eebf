package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	SalesURL         string
	SinkURL          string
	SinkSecret       string
	MySQLDSN         string
	MySQLTable       string
	AnalysisConfig   string
	AnalysisSchedule string
	Port             string
	HTTPTimeout      time.Duration
	LogLevel         slog.Level
}

func FromEnv() Config {
	// .env is optional; real env wins over it.
	_ = godotenv.Load()

	to := 15 * time.Second
	if v := os.Getenv("HTTP_TIMEOUT_SECONDS"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			to = d
		}
	}
	lvl := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		lvl = slog.LevelDebug
	}
	return Config{
		SalesURL:         os.Getenv("SALES_API_URL"),
		SinkURL:          os.Getenv("SINK_URL"),
		SinkSecret:       os.Getenv("SINK_SECRET"),
		MySQLDSN:         os.Getenv("MYSQL_DSN"),
		MySQLTable:       envOr("MYSQL_TABLE", "sales_events"),
		AnalysisConfig:   os.Getenv("ANALYSIS_CONFIG"),
		AnalysisSchedule: os.Getenv("ANALYSIS_SCHEDULE"),
		Port:             envOr("PORT", "8080"),
		HTTPTimeout:      to,
		LogLevel:         lvl,
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
