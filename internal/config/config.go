package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server     ServerConfig
	Congressus CongressusConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Auth       AuthConfig
	Attendance AttendanceConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AllowedOrigins enables CORS for dashboards served from another host.
	AllowedOrigins []string
}

type CongressusConfig struct {
	BaseURL    string
	APIKey     string
	APIKeyFile string
	PageSize   int
	Timeout    time.Duration
}

type DatabaseConfig struct {
	Driver string // sqlite or postgres
	DSN    string
	// AutoMigrate applies pending postgres migrations on startup. SQLite
	// tables are always created on open.
	AutoMigrate bool
}

type RedisConfig struct {
	Addr    string
	Enabled bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type AuthConfig struct {
	// JWTSecret protects the presence mutation routes when set.
	JWTSecret string
}

type AttendanceConfig struct {
	TimeZone  string
	StaticDir string
	PublicURL string
}

// fileConfig mirrors the subset of settings that may come from a TOML file
// named by CONFIG_FILE. Environment variables still win.
type fileConfig struct {
	Congressus struct {
		BaseURL  string `toml:"base_url"`
		PageSize int    `toml:"page_size"`
		Timeout  string `toml:"timeout"`
	} `toml:"congressus"`
	Database struct {
		Driver string `toml:"driver"`
		DSN    string `toml:"dsn"`
	} `toml:"database"`
	Attendance struct {
		TimeZone  string `toml:"time_zone"`
		StaticDir string `toml:"static_dir"`
		PublicURL string `toml:"public_url"`
	} `toml:"attendance"`
}

func Load() (*Config, error) {
	// .env is optional; the container usually provides the environment.
	_ = godotenv.Load()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", ":8000"),
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		},
		Congressus: CongressusConfig{
			BaseURL:    strings.TrimRight(getEnv("CONGRESSUS_API_URL", "https://api.congressus.nl/v30"), "/"),
			APIKey:     os.Getenv("CONGRESSUS_API_KEY"),
			APIKeyFile: getEnv("CONGRESSUS_API_KEY_FILE", "api-key-2.txt"),
			PageSize:   getEnvInt("CONGRESSUS_PAGE_SIZE", 100),
			Timeout:    getEnvDuration("CONGRESSUS_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:      getEnv("DB_DRIVER", DriverSQLite),
			DSN:         getEnv("CONGRESSUS_CACHE_DB", "/db/congressus_cache.db"),
			AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled: getEnvBool("REDIS_ENABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:   getEnv("KAFKA_TOPIC_PRESENCE", "congressus.ticket.presence"),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		},
		Attendance: AttendanceConfig{
			TimeZone:  getEnv("ATTENDANCE_TIME_ZONE", "Europe/Amsterdam"),
			StaticDir: getEnv("STATIC_DIR", "html"),
			PublicURL: strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8000"), "/"),
		},
	}

	if cfg.Congressus.APIKey == "" {
		key, err := readAPIKey(cfg.Congressus.APIKeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Congressus.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Congressus.APIKey == "" {
		return errors.New("config: CONGRESSUS_API_KEY or a readable CONGRESSUS_API_KEY_FILE is required")
	}
	if c.Congressus.BaseURL == "" {
		return errors.New("config: CONGRESSUS_API_URL must not be empty")
	}
	if c.Congressus.PageSize <= 0 {
		return fmt.Errorf("config: CONGRESSUS_PAGE_SIZE must be positive, got %d", c.Congressus.PageSize)
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the time zone used to decide which events start soon.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Attendance.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("config: invalid ATTENDANCE_TIME_ZONE %q: %w", c.Attendance.TimeZone, err)
	}
	return loc, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func readAPIKey(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: read api key file %s: %w", path, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// applyFile exports values from the TOML file as environment defaults, so
// the getEnv helpers below stay the single source of lookups.
func applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	defaults := map[string]string{
		"CONGRESSUS_API_URL":   fc.Congressus.BaseURL,
		"CONGRESSUS_TIMEOUT":   fc.Congressus.Timeout,
		"DB_DRIVER":            fc.Database.Driver,
		"CONGRESSUS_CACHE_DB":  fc.Database.DSN,
		"ATTENDANCE_TIME_ZONE": fc.Attendance.TimeZone,
		"STATIC_DIR":           fc.Attendance.StaticDir,
		"PUBLIC_URL":           fc.Attendance.PublicURL,
	}
	if fc.Congressus.PageSize > 0 {
		defaults["CONGRESSUS_PAGE_SIZE"] = strconv.Itoa(fc.Congressus.PageSize)
	}
	for key, value := range defaults {
		if value == "" || os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("config: set %s: %w", key, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
