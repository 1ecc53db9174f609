package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Ledger backends.
const (
	LedgerFile     = "file"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

// Config holds process configuration.
type Config struct {
	Addr          string
	LogLevel      string
	DataDir       string
	Ledger        string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	Mode          string
	ProfilePath   string
	JWTSecret     string
	RateRPS       float64
	RateBurst     int
	OTLPEndpoint  string
	ArtifactStore string
	CORSOrigins   string
}

// Load loads configuration from environment variables.
func Load() *Config {
	addr := os.Getenv("PILGRIM_ADDR")
	if addr == "" {
		addr = ":8787"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dataDir := os.Getenv("PILGRIM_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	ledger := os.Getenv("PILGRIM_LEDGER")
	if ledger == "" {
		ledger = LedgerFile
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://pilgrim@localhost:5432/pilgrim?sslmode=disable"
	}

	mode := os.Getenv("PILGRIM_MODE")
	if mode == "" {
		mode = "enforce"
	}

	rps, err := strconv.ParseFloat(os.Getenv("PILGRIM_RATE_RPS"), 64)
	if err != nil || rps <= 0 {
		rps = 20
	}
	burst, err := strconv.Atoi(os.Getenv("PILGRIM_RATE_BURST"))
	if err != nil || burst <= 0 {
		burst = 40
	}

	artifacts := os.Getenv("ARTIFACT_STORAGE_TYPE")
	if artifacts == "" {
		artifacts = "none"
	}

	return &Config{
		Addr:          addr,
		LogLevel:      logLevel,
		DataDir:       dataDir,
		Ledger:        ledger,
		DatabaseURL:   dbURL,
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		Mode:          mode,
		ProfilePath:   os.Getenv("PILGRIM_PROFILE"),
		JWTSecret:     os.Getenv("PILGRIM_JWT_SECRET"),
		RateRPS:       rps,
		RateBurst:     burst,
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ArtifactStore: artifacts,
		CORSOrigins:   os.Getenv("PILGRIM_CORS_ORIGINS"),
	}
}

// LedgerPath is the JSONL file used by the file backend.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.DataDir, "ledger.jsonl")
}

// SQLitePath is the database file used by the sqlite backend.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "pilgrim.db")
}

// HaltDir is where enforced halts leave their record.
func (c *Config) HaltDir() string {
	return filepath.Join(c.DataDir, "halt")
}
