package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Index    IndexConfig
	Match    MatchConfig
	Audit    AuditConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host   string
	Port   int
	APIKey string // required for all /api routes except health
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// IndexConfig selects and configures the similarity index backend.
type IndexConfig struct {
	Kind         string // "remote", "local" or "memory"
	URL          string // remote index base URL
	APIKey       string // remote index API key
	ExtractorURL string // descriptor extractor URL for the local backend
	Dim          int    // embedding dimension for the local backend (default 512)
}

type MatchConfig struct {
	Cap              int     // max historical matches kept per face record (default 150)
	SearchThreshold  float64 // percent, lowest threshold of any consumer
	SearchMaxResults int
	Thresholds       ThresholdConfig
	PhotoConcurrency int // parallel photo updates per reconciliation (default 4)
	CacheSize        int // photo record LRU size (default 1024)
	CacheTTL         time.Duration
}

// ThresholdConfig holds the per-operation similarity thresholds in percent.
type ThresholdConfig struct {
	Registration float64 `yaml:"registration"`
	Audit        float64 `yaml:"audit"`
	Upload       float64 `yaml:"upload"`
}

type AuditConfig struct {
	PageSize  int           // face record scan page size (default 100)
	UserDelay time.Duration // pause between users during a full audit (default 500ms)
}

type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type thresholdDefaults struct {
	Thresholds ThresholdConfig `yaml:"thresholds"`
	Search     struct {
		Threshold  float64 `yaml:"threshold"`
		MaxResults int     `yaml:"max_results"`
	} `yaml:"search"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable and parses it as a duration.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var defaults thresholdDefaults
	if err := yaml.Unmarshal(thresholdsYAML, &defaults); err != nil {
		// Embedded file, so this can only be a build-time mistake.
		panic("failed to unmarshal embedded thresholds.yaml: " + err.Error())
	}

	return &Config{
		Server: ServerConfig{
			Host:   envString("SERVER_HOST", "0.0.0.0"),
			Port:   envInt("SERVER_PORT", 8080),
			APIKey: os.Getenv("SERVER_API_KEY"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Index: IndexConfig{
			Kind:         envString("INDEX_KIND", "local"),
			URL:          os.Getenv("INDEX_URL"),
			APIKey:       os.Getenv("INDEX_API_KEY"),
			ExtractorURL: envString("EXTRACTOR_URL", "http://localhost:8000"),
			Dim:          envInt("EXTRACTOR_DIM", 512),
		},
		Match: MatchConfig{
			Cap:              envInt("MATCH_CAP", 150),
			SearchThreshold:  envFloat("MATCH_SEARCH_THRESHOLD", defaults.Search.Threshold),
			SearchMaxResults: envInt("MATCH_SEARCH_MAX_RESULTS", defaults.Search.MaxResults),
			Thresholds: ThresholdConfig{
				Registration: envFloat("MATCH_THRESHOLD_REGISTRATION", defaults.Thresholds.Registration),
				Audit:        envFloat("MATCH_THRESHOLD_AUDIT", defaults.Thresholds.Audit),
				Upload:       envFloat("MATCH_THRESHOLD_UPLOAD", defaults.Thresholds.Upload),
			},
			PhotoConcurrency: envInt("MATCH_PHOTO_CONCURRENCY", 4),
			CacheSize:        envInt("MATCH_CACHE_SIZE", 1024),
			CacheTTL:         envDuration("MATCH_CACHE_TTL", 5*time.Minute),
		},
		Audit: AuditConfig{
			PageSize:  envInt("AUDIT_PAGE_SIZE", 100),
			UserDelay: envDuration("AUDIT_USER_DELAY", 500*time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
	}
}
