package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process configuration shared by the BotNode services.
type Config struct {
	Port     string
	LogLevel string

	// Upstreams of the hybrid gateway.
	BackendURL        string
	LawVURL           string
	CRIURL            string
	EnableLawV        bool
	HTTPTimeout       time.Duration
	HTTPMaxRetries    int
	InternalAPIKey    string
	SkillsCatalogPath string

	// CRI event journal. DatabaseURL wins over SQLitePath; neither means
	// purely in-memory state.
	DatabaseURL string
	SQLitePath  string
	SeedDemo    bool

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RateLimitRPS   int
	RateLimitBurst int

	OTelEnabled    bool
	OTelEndpoint   string
	OTelInsecure   bool
	OTelSampleRate float64
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:     os.Getenv("PORT"),
		LogLevel: strings.ToUpper(getenv("LOG_LEVEL", "INFO")),

		BackendURL:        trimURL(getenv("BACKEND_URL", "http://localhost:8000")),
		LawVURL:           trimURL(getenv("LAW_V_API_URL", "http://localhost:8110")),
		CRIURL:            trimURL(getenv("CRI_API_URL", "http://localhost:8111")),
		EnableLawV:        truthy(getenv("ENABLE_LAW_V", "true")),
		HTTPTimeout:       seconds(os.Getenv("HTTP_TIMEOUT_SECONDS"), 3*time.Second),
		HTTPMaxRetries:    atoi(os.Getenv("HTTP_MAX_RETRIES"), 2),
		InternalAPIKey:    os.Getenv("INTERNAL_API_KEY"),
		SkillsCatalogPath: os.Getenv("SKILLS_CATALOG_PATH"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
		SeedDemo:    truthy(os.Getenv("CRI_SEED_DEMO")),

		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        atoi(os.Getenv("REDIS_DB"), 0),
		RateLimitRPS:   atoi(os.Getenv("RATE_LIMIT_RPS"), 50),
		RateLimitBurst: atoi(os.Getenv("RATE_LIMIT_BURST"), 100),

		OTelEnabled:    truthy(os.Getenv("OTEL_ENABLED")),
		OTelEndpoint:   getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure:   truthy(getenv("OTEL_INSECURE", "true")),
		OTelSampleRate: float(os.Getenv("OTEL_SAMPLE_RATE"), 1.0),
	}
}

// ListenAddr returns ":PORT", or ":fallback" when PORT is unset.
func (c *Config) ListenAddr(fallback string) string {
	if c.Port != "" {
		return ":" + c.Port
	}
	return ":" + fallback
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func trimURL(u string) string {
	return strings.TrimRight(u, "/")
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func atoi(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return def
	}
	return n
}

func float(v string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func seconds(v string, def time.Duration) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f <= 0 {
		return def
	}
	return time.Duration(f * float64(time.Second))
}
