package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Rail     RailConfig     `yaml:"rail"`
	Query    QueryConfig    `yaml:"query"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver" validate:"oneof=postgres sqlite"`
	URL        string `yaml:"url"`
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	DBName     string `yaml:"dbname"`
	SSLMode    string `yaml:"sslmode"`
	SQLitePath string `yaml:"sqlite_path"`
}

// IngestConfig for loading a GTFS feed into the store
type IngestConfig struct {
	FeedDir         string        `yaml:"feed_dir"`
	FeedURL         string        `yaml:"feed_url" validate:"omitempty,url"`
	APIKey          string        `yaml:"api_key"`
	DownloadDir     string        `yaml:"download_dir"`
	BatchSize       int           `yaml:"batch_size" validate:"gt=0"`
	LargeBatchSize  int           `yaml:"large_batch_size" validate:"gt=0"`
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gte=0"`
}

type RailConfig struct {
	KeepSnapshots int `yaml:"keep_snapshots" validate:"gte=0"`
}

// QueryConfig holds limits applied by the departure planner
type QueryConfig struct {
	CandidateLimit  int    `yaml:"candidate_limit" validate:"gt=0"`
	DepartureLimit  int    `yaml:"departure_limit" validate:"gt=0"`
	StationLimit    int    `yaml:"station_limit" validate:"gt=0"`
	StopSearchLimit int    `yaml:"stop_search_limit" validate:"gt=0"`
	MaxLimit        int    `yaml:"max_limit" validate:"gtefield=DepartureLimit"`
	Timezone        string `yaml:"timezone" validate:"required"`
}

type APIConfig struct {
	Addr           string        `yaml:"addr" validate:"required"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Load builds the configuration from environment variables, then applies the
// optional YAML file named by RAILQUERY_CONFIG, then validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "postgres"),
			URL:        getEnv("DATABASE_URL", ""),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", "railquery"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("SQLITE_DATABASE", "railquery.db"),
		},
		Ingest: IngestConfig{
			FeedDir:         getEnv("GTFS_FEED_DIR", ""),
			FeedURL:         getEnv("GTFS_FEED_URL", ""),
			APIKey:          getEnv("TRAFIKLAB_API_KEY", ""),
			DownloadDir:     getEnv("GTFS_DOWNLOAD_DIR", "/tmp/gtfs-static"),
			BatchSize:       getIntEnv("INGEST_BATCH_SIZE", 1000),
			LargeBatchSize:  getIntEnv("INGEST_LARGE_BATCH_SIZE", 250),
			RefreshInterval: getDurationEnv("GTFS_REFRESH_INTERVAL", 0),
		},
		Rail: RailConfig{
			KeepSnapshots: getIntEnv("RAIL_KEEP_SNAPSHOTS", 1),
		},
		Query: QueryConfig{
			CandidateLimit:  getIntEnv("QUERY_CANDIDATE_LIMIT", 3),
			DepartureLimit:  getIntEnv("QUERY_DEPARTURE_LIMIT", 50),
			StationLimit:    getIntEnv("QUERY_STATION_LIMIT", 20),
			StopSearchLimit: getIntEnv("QUERY_STOP_SEARCH_LIMIT", 10),
			MaxLimit:        getIntEnv("QUERY_MAX_LIMIT", 200),
			Timezone:        getEnv("QUERY_TIMEZONE", "Europe/Stockholm"),
		},
		API: APIConfig{
			Addr:           getEnv("API_ADDR", ":8080"),
			AllowedOrigins: getListEnv("API_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			RequestTimeout: getDurationEnv("API_REQUEST_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", "railquery.log"),
		},
	}

	if path := os.Getenv("RAILQUERY_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFile overlays the YAML file onto cfg; keys absent from the file keep
// their environment values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(c.Query.Timezone); err != nil {
		return fmt.Errorf("invalid configuration: timezone %q: %w", c.Query.Timezone, err)
	}
	return nil
}

// Location returns the timezone queries without an explicit date resolve in
func (q QueryConfig) Location() *time.Location {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DataSource returns the driver-specific connection string
func (c *DatabaseConfig) DataSource() string {
	if c.Driver == "sqlite" {
		return c.SQLitePath
	}
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
