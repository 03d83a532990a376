package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/langchou/garagebook/internal/models"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// Storage，为空时使用内存实现
	DatabaseURL string
	RedisURL    string

	// DVLA 车辆登记 API
	RegistryBaseURL   string
	RegistryAPIKey    string
	RegistryRateLimit float64

	// DVSA MOT 历史 API
	MOTBaseURL      string
	MOTTokenURL     string
	MOTClientID     string
	MOTClientSecret string
	MOTScope        string
	MOTAPIKey       string
	MOTRateLimit    float64

	// 超时与缓存
	UpstreamTimeout time.Duration
	LookupTimeout   time.Duration
	VehicleCacheTTL time.Duration
	MOTCacheTTL     time.Duration
	ProfileCacheTTL time.Duration

	// 排期
	Timezone      string
	Location      *time.Location
	SlotStep      time.Duration
	HorizonDays   int
	HoldWindow    time.Duration
	SweepInterval time.Duration
	Resources     []models.Resource
	OpeningHours  models.OpeningHours

	// 服务目录
	CatalogueFile string
	Catalogue     *models.Catalogue

	// OpenTelemetry，endpoint 为空时不导出
	OTLPEndpoint   string
	MetricInterval time.Duration
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:        getEnv("PORT", "4000"),
		Debug:             getEnvBool("DEBUG", false),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		RegistryBaseURL:   getEnv("DVLA_API_HOST", "https://driver-vehicle-licensing.api.gov.uk"),
		RegistryAPIKey:    getEnv("DVLA_API_KEY", ""),
		RegistryRateLimit: getEnvFloat("DVLA_RATE_LIMIT", 10),
		MOTBaseURL:        getEnv("MOT_API_HOST", "https://history.mot.api.gov.uk"),
		MOTTokenURL:       getEnv("MOT_TOKEN_URL", ""),
		MOTClientID:       getEnv("MOT_CLIENT_ID", ""),
		MOTClientSecret:   getEnv("MOT_CLIENT_SECRET", ""),
		MOTScope:          getEnv("MOT_SCOPE", "https://tapi.dvsa.gov.uk/.default"),
		MOTAPIKey:         getEnv("MOT_API_KEY", ""),
		MOTRateLimit:      getEnvFloat("MOT_RATE_LIMIT", 15),
		UpstreamTimeout:   getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		LookupTimeout:     getEnvDuration("LOOKUP_TIMEOUT", 15*time.Second),
		VehicleCacheTTL:   getEnvDuration("VEHICLE_CACHE_TTL", time.Hour),
		MOTCacheTTL:       getEnvDuration("MOT_CACHE_TTL", 24*time.Hour),
		ProfileCacheTTL:   getEnvDuration("PROFILE_CACHE_TTL", time.Hour),
		Timezone:          getEnv("TIMEZONE", "Europe/London"),
		SlotStep:          getEnvDuration("SLOT_STEP", 30*time.Minute),
		HorizonDays:       getEnvInt("BOOKING_HORIZON_DAYS", 30),
		HoldWindow:        getEnvDuration("HOLD_WINDOW", 15*time.Minute),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", time.Minute),
		CatalogueFile:     getEnv("CATALOGUE_FILE", ""),
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricInterval:    getEnvDuration("OTEL_METRIC_INTERVAL", 30*time.Second),
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.Resources, err = ParseResources(getEnv("BAYS", DefaultBays)); err != nil {
		return nil, err
	}
	if cfg.OpeningHours, err = ParseOpeningHours(getEnv("OPENING_HOURS", DefaultOpeningHours)); err != nil {
		return nil, err
	}

	if cfg.CatalogueFile != "" {
		if cfg.Catalogue, err = LoadCatalogue(cfg.CatalogueFile); err != nil {
			return nil, err
		}
	} else {
		cfg.Catalogue = DefaultCatalogue()
	}

	return cfg, nil
}

// RegistryConfigured 是否配置了 DVLA 凭证
func (c *Config) RegistryConfigured() bool {
	return c.RegistryAPIKey != ""
}

// MOTConfigured 是否配置了 DVSA 凭证
func (c *Config) MOTConfigured() bool {
	return c.MOTClientID != "" && c.MOTClientSecret != "" && c.MOTTokenURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
