package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/medcapture/capture-gateway/internal/models"
)

// Config holds the full application configuration
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Redis    RedisConfig
	PACS     PACSConfig
	Queue    QueueConfig
	Encoder  EncoderConfig
	Worklist WorklistConfig
	CORS     CORSConfig
	Metrics  MetricsConfig

	// EmergencyTemplates are the break-glass patient templates offered
	// when no worklist entry applies
	EmergencyTemplates []models.PatientTemplate
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string

	// HistoryRetention bounds how long completed export records are
	// kept; PurgeInterval is how often the sweep runs
	HistoryRetention time.Duration
	PurgeInterval    time.Duration
}

type CacheConfig struct {
	Type            string // "memory" or "redis"
	CleanupInterval time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// PACSConfig identifies the target PACS server
type PACSConfig struct {
	Host       string
	Port       int
	CalledAE   string
	CallingAE  string
	TimeoutSec int
}

// Endpoint converts the PACS configuration into an upload endpoint
func (p PACSConfig) Endpoint() models.PACSEndpoint {
	return models.PACSEndpoint{
		Host:       p.Host,
		Port:       p.Port,
		CalledAE:   p.CalledAE,
		CallingAE:  p.CallingAE,
		TimeoutSec: p.TimeoutSec,
	}
}

// QueueConfig is the export queue retry/backoff policy
type QueueConfig struct {
	Workers     int
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// EncoderConfig is the DICOM encoding policy
type EncoderConfig struct {
	MaxVideoFrames int
}

// WorklistConfig is the worklist cache policy
type WorklistConfig struct {
	TTL             time.Duration
	RefreshInterval time.Duration
	StationAE       string
	Modality        string
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from the environment, with .env support for
// development setups
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "127.0.0.1"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "capture"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "capture_gateway"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),

			HistoryRetention: getEnvDuration("DB_HISTORY_RETENTION", 90*24*time.Hour),
			PurgeInterval:    getEnvDuration("DB_PURGE_INTERVAL", 24*time.Hour),
		},
		Cache: CacheConfig{
			Type:            getEnv("CACHE_TYPE", "memory"),
			CleanupInterval: getEnvDuration("CACHE_CLEANUP_INTERVAL", time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		PACS: PACSConfig{
			Host:       getEnv("PACS_HOST", "localhost"),
			Port:       getEnvInt("PACS_PORT", 104),
			CalledAE:   getEnv("PACS_CALLED_AE", "PACS"),
			CallingAE:  getEnv("PACS_CALLING_AE", "CAPTURE_GW"),
			TimeoutSec: getEnvInt("PACS_TIMEOUT_SEC", 30),
		},
		Queue: QueueConfig{
			Workers:     getEnvInt("QUEUE_WORKERS", 2),
			MaxRetries:  getEnvInt("QUEUE_MAX_RETRIES", 3),
			BaseBackoff: getEnvDuration("QUEUE_BASE_BACKOFF", 5*time.Second),
			MaxBackoff:  getEnvDuration("QUEUE_MAX_BACKOFF", 5*time.Minute),
		},
		Encoder: EncoderConfig{
			MaxVideoFrames: getEnvInt("ENCODER_MAX_VIDEO_FRAMES", 600),
		},
		Worklist: WorklistConfig{
			TTL:             getEnvDuration("WORKLIST_TTL", 15*time.Minute),
			RefreshInterval: getEnvDuration("WORKLIST_REFRESH_INTERVAL", 5*time.Minute),
			StationAE:       getEnv("WORKLIST_STATION_AE", ""),
			Modality:        getEnv("WORKLIST_MODALITY", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{getEnv("CORS_ALLOWED_ORIGINS", "*")},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		EmergencyTemplates: defaultEmergencyTemplates(),
	}

	return cfg, nil
}

// Validate checks the fields without which the gateway cannot operate
func (c *Config) Validate() error {
	if c.PACS.Host == "" {
		return fmt.Errorf("PACS host must be set")
	}
	if c.PACS.Port <= 0 || c.PACS.Port > 65535 {
		return fmt.Errorf("invalid PACS port %d", c.PACS.Port)
	}
	if c.PACS.CalledAE == "" || c.PACS.CallingAE == "" {
		return fmt.Errorf("PACS AE titles must be set")
	}
	if len(c.PACS.CalledAE) > 16 || len(c.PACS.CallingAE) > 16 {
		return fmt.Errorf("AE titles are limited to 16 characters")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be >= 1")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue max retries must be >= 0")
	}
	if c.Encoder.MaxVideoFrames < 1 {
		return fmt.Errorf("encoder max video frames must be >= 1")
	}
	if c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		return fmt.Errorf("unknown cache type %q", c.Cache.Type)
	}
	return nil
}

func defaultEmergencyTemplates() []models.PatientTemplate {
	return []models.PatientTemplate{
		{
			ID:               "emergency-male",
			DisplayName:      "Emergency male",
			PatientName:      "Emergency^Male",
			PatientID:        "EMERGENCY-M",
			Sex:              "M",
			BirthDate:        "TODAY-40Y",
			StudyDescription: "Emergency examination",
		},
		{
			ID:               "emergency-female",
			DisplayName:      "Emergency female",
			PatientName:      "Emergency^Female",
			PatientID:        "EMERGENCY-F",
			Sex:              "F",
			BirthDate:        "TODAY-40Y",
			StudyDescription: "Emergency examination",
		},
		{
			ID:               "emergency-child",
			DisplayName:      "Emergency child",
			PatientName:      "Emergency^Child",
			PatientID:        "EMERGENCY-C",
			Sex:              "O",
			BirthDate:        "TODAY-10Y",
			StudyDescription: "Emergency examination, pediatric",
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
