package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache backends.
const (
	CacheMemory   = "memory"
	CacheRedis    = "redis"
	CachePostgres = "postgres"
)

type AppConfig struct {
	Port        string
	HTTPTimeout time.Duration

	LogLevel string
	LogEnv   string
	LogFile  string

	// DotEnvErr records why .env could not be loaded; nil when it was.
	DotEnvErr error

	OpenWeatherAPIKey string
	WeatherAPIKey     string
	GeocoderAPIKey    string

	// Archive endpoint override; empty uses the public Open-Meteo archive.
	ArchiveURL string

	CacheBackend string
	CacheTTL     time.Duration
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	PostgresDSN  string

	// Fetch scheduling.
	FetchConcurrency int
	FetchMaxPerPass  int
	FetchBatchDelay  time.Duration
	RequestTimeout   time.Duration

	// Visibility.
	MinVisibilityInterval time.Duration
	MaxCameraDistance     float64

	MaxCells int

	SessionIdle   time.Duration
	ReapInterval  time.Duration
	PurgeInterval time.Duration

	PreloadTTL time.Duration
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	envErr := godotenv.Load()
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	cfg.DotEnvErr = envErr
	return cfg, nil
}

// FromEnv reads configuration from the process environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:              getenvDefault("PORT", "8080"),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
		LogEnv:            getenvDefault("APP_ENV", "development"),
		LogFile:           os.Getenv("LOG_FILE"),
		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
		WeatherAPIKey:     os.Getenv("WEATHERAPI_API_KEY"),
		GeocoderAPIKey:    os.Getenv("GEOCODER_API_KEY"),
		ArchiveURL:        os.Getenv("ARCHIVE_URL"),
		CacheBackend:      strings.ToLower(getenvDefault("CACHE_BACKEND", CacheMemory)),
		RedisAddr:         getenvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPass:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getenvInt("REDIS_DB", 0),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		FetchConcurrency:  getenvInt("FETCH_CONCURRENCY", 3),
		FetchMaxPerPass:   getenvInt("FETCH_MAX_PER_PASS", 10),
		MaxCells:          getenvInt("GRID_MAX_CELLS", 32768),
	}

	var err error
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", "10s", &cfg.HTTPTimeout},
		{"CACHE_TTL", "24h", &cfg.CacheTTL},
		{"FETCH_BATCH_DELAY", "200ms", &cfg.FetchBatchDelay},
		{"FETCH_REQUEST_TIMEOUT", "5s", &cfg.RequestTimeout},
		{"VISIBILITY_MIN_INTERVAL", "250ms", &cfg.MinVisibilityInterval},
		{"SESSION_IDLE_TIMEOUT", "30m", &cfg.SessionIdle},
		{"SESSION_REAP_INTERVAL", "1m", &cfg.ReapInterval},
		{"CACHE_PURGE_INTERVAL", "1h", &cfg.PurgeInterval},
		{"PRELOAD_TTL", "10m", &cfg.PreloadTTL},
	}
	for _, d := range durations {
		if *d.dst, err = getenvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.MaxCameraDistance, err = getenvFloat("VISIBILITY_MAX_CAMERA_DISTANCE", 10); err != nil {
		return nil, err
	}

	switch cfg.CacheBackend {
	case CacheMemory, CacheRedis:
	case CachePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required for the postgres cache backend")
		}
	default:
		return nil, fmt.Errorf("invalid CACHE_BACKEND %q", cfg.CacheBackend)
	}

	if cfg.FetchConcurrency <= 0 {
		return nil, fmt.Errorf("FETCH_CONCURRENCY must be positive")
	}
	if cfg.FetchMaxPerPass <= 0 {
		return nil, fmt.Errorf("FETCH_MAX_PER_PASS must be positive")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
