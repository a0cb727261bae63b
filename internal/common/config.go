package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Documented fallbacks for the poll cadence when the variables are unset.
const (
	DefaultPollInterval = 2000 * time.Millisecond
	DefaultPollTimeout  = 300000 * time.Millisecond
)

// Config holds all application configuration
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	Storage   StorageConfig   `yaml:"storage"`
	Converter ConverterConfig `yaml:"converter"`
	LogLevel  string          `yaml:"log_level"`
}

// ClientConfig holds the conversion wizard's remote-service settings
type ClientConfig struct {
	APIBaseURL   string        `yaml:"api_base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
}

// millis reads a YAML poll setting the way the environment does: a bare
// integer is milliseconds. Duration strings such as "2s" are also accepted.
type millis time.Duration

func (m *millis) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		if n <= 0 {
			return fmt.Errorf("line %d: must be a positive number of milliseconds, got %d", value.Line, n)
		}
		*m = millis(time.Duration(n) * time.Millisecond)
		return nil
	}
	var d time.Duration
	if err := value.Decode(&d); err != nil {
		return fmt.Errorf("line %d: want milliseconds or a duration like 2s, got %q", value.Line, value.Value)
	}
	*m = millis(d)
	return nil
}

// UnmarshalYAML applies a client block on top of the current values so that
// poll_interval and poll_timeout share the millisecond unit of their
// environment variables.
func (c *ClientConfig) UnmarshalYAML(value *yaml.Node) error {
	aux := struct {
		APIBaseURL   string        `yaml:"api_base_url"`
		PollInterval millis        `yaml:"poll_interval"`
		PollTimeout  millis        `yaml:"poll_timeout"`
		HTTPTimeout  time.Duration `yaml:"http_timeout"`
	}{
		APIBaseURL:   c.APIBaseURL,
		PollInterval: millis(c.PollInterval),
		PollTimeout:  millis(c.PollTimeout),
		HTTPTimeout:  c.HTTPTimeout,
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	c.APIBaseURL = aux.APIBaseURL
	c.PollInterval = time.Duration(aux.PollInterval)
	c.PollTimeout = time.Duration(aux.PollTimeout)
	c.HTTPTimeout = aux.HTTPTimeout
	return nil
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	GRPCAddr       string   `yaml:"grpc_addr"`
	PublicURL      string   `yaml:"public_url"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // sqlite | postgres
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// QueueConfig holds job queue configuration
type QueueConfig struct {
	Driver        string        `yaml:"driver"` // memory | redis
	RedisURL      string        `yaml:"redis_url"`
	RedisKey      string        `yaml:"redis_key"`
	Workers       int           `yaml:"workers"`
	Size          int           `yaml:"size"`
	TaskTimeLimit time.Duration `yaml:"task_time_limit"`
}

// StorageConfig holds artifact storage configuration
type StorageConfig struct {
	Driver    string        `yaml:"driver"` // fs | s3
	Dir       string        `yaml:"dir"`
	Bucket    string        `yaml:"bucket"`
	Region    string        `yaml:"region"`
	Endpoint  string        `yaml:"endpoint"`
	Prefix    string        `yaml:"prefix"`
	URLExpiry time.Duration `yaml:"url_expiry"`
}

// ConverterConfig holds document converter configuration
type ConverterConfig struct {
	Driver        string        `yaml:"driver"` // unoserver | soffice
	UnoserverHost string        `yaml:"unoserver_host"`
	UnoserverPort string        `yaml:"unoserver_port"`
	Timeout       time.Duration `yaml:"timeout"`
	SofficePath   string        `yaml:"soffice_path"`
	WorkDir       string        `yaml:"work_dir"`
}

// LoadConfig loads configuration from environment variables, then applies the
// YAML file named by DECKCONVERT_CONFIG on top when it is set.
// Malformed numeric values are reported instead of silently defaulted.
func LoadConfig() (*Config, error) {
	p := &envParser{}
	cfg := &Config{
		Client: ClientConfig{
			APIBaseURL:   getEnv("API_BASE_URL", "http://localhost:8000"),
			PollInterval: p.millis("POLL_INTERVAL", DefaultPollInterval),
			PollTimeout:  p.millis("POLL_TIMEOUT", DefaultPollTimeout),
			HTTPTimeout:  p.duration("HTTP_TIMEOUT", 30*time.Second),
		},
		Server: ServerConfig{
			HTTPAddr:       getEnv("HTTP_ADDR", ":8000"),
			GRPCAddr:       getEnv("GRPC_ADDR", ":8081"),
			PublicURL:      getEnv("PUBLIC_URL", "http://localhost:8000"),
			MaxUploadBytes: p.int64("MAX_UPLOAD_BYTES", 50<<20),
			RateLimitRPS:   p.float("RATE_LIMIT_RPS", 2),
			RateLimitBurst: p.int("RATE_LIMIT_BURST", 5),
			CORSOrigins:    getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "sqlite"),
			DSN:              getEnv("DB_URL", "./tmp/deckconvert.db"),
			MaxConns:         int32(p.int("DB_MAX_CONNS", 10)),
			MinConns:         int32(p.int("DB_MIN_CONNS", 1)),
			MaxConnLifetime:  p.duration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  p.duration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      p.duration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: p.duration("DB_STATEMENT_TIMEOUT", 0),
		},
		Queue: QueueConfig{
			Driver:        getEnv("QUEUE_DRIVER", "memory"),
			RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			RedisKey:      getEnv("REDIS_QUEUE_KEY", "deckconvert:jobs"),
			Workers:       p.int("QUEUE_WORKERS", 2),
			Size:          p.int("QUEUE_SIZE", 128),
			TaskTimeLimit: p.duration("TASK_TIME_LIMIT", 6*time.Minute),
		},
		Storage: StorageConfig{
			Driver:    getEnv("STORAGE_DRIVER", "fs"),
			Dir:       getEnv("STORAGE_DIR", "./tmp/artifacts"),
			Bucket:    getEnv("AWS_S3_BUCKET", ""),
			Region:    getEnv("AWS_REGION", "us-east-1"),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			Prefix:    getEnv("S3_PREFIX", ""),
			URLExpiry: p.duration("URL_EXPIRY", time.Hour),
		},
		Converter: ConverterConfig{
			Driver:        getEnv("CONVERTER", "unoserver"),
			UnoserverHost: getEnv("UNOSERVER_HOST", "unoserver"),
			UnoserverPort: getEnv("UNOSERVER_PORT", "2004"),
			Timeout:       p.duration("CONVERT_TIMEOUT", 5*time.Minute),
			SofficePath:   getEnv("SOFFICE_PATH", "soffice"),
			WorkDir:       getEnv("CONVERT_WORK_DIR", os.TempDir()),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	if err := p.err(); err != nil {
		return nil, err
	}

	if path := os.Getenv("DECKCONVERT_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// applyFile overlays the YAML document at path onto c. Keys absent from the
// file keep their environment values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("read config file %q", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("parse config file %q", path), err)
	}
	return nil
}

// ValidateClient validates the settings the conversion wizard depends on.
func (c *Config) ValidateClient() error {
	v := NewValidator().
		Field("API_BASE_URL", c.Client.APIBaseURL, Required, URL).
		Field("POLL_INTERVAL", c.Client.PollInterval, PositiveDuration).
		Field("POLL_TIMEOUT", c.Client.PollTimeout, PositiveDuration)
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrConfig)
	}
	return nil
}

// ValidateServer validates the settings the conversion daemon depends on.
func (c *Config) ValidateServer() error {
	v := NewValidator().
		Field("HTTP_ADDR", c.Server.HTTPAddr, Required).
		Field("PUBLIC_URL", c.Server.PublicURL, Required, URL).
		Field("DB_URL", c.Database.DSN, Required).
		Field("DB_DRIVER", c.Database.Driver, OneOf("sqlite", "postgres")).
		Field("QUEUE_DRIVER", c.Queue.Driver, OneOf("memory", "redis")).
		Field("STORAGE_DRIVER", c.Storage.Driver, OneOf("fs", "s3")).
		Field("CONVERTER", c.Converter.Driver, OneOf("unoserver", "soffice")).
		Field("TASK_TIME_LIMIT", c.Queue.TaskTimeLimit, PositiveDuration).
		Field("URL_EXPIRY", c.Storage.URLExpiry, PositiveDuration)
	if c.Storage.Driver == "s3" {
		v.Field("AWS_S3_BUCKET", c.Storage.Bucket, Required)
	}
	if c.Queue.Driver == "redis" {
		v.Field("REDIS_URL", c.Queue.RedisURL, Required)
	}
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrConfig)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
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

// envParser collects parse failures so LoadConfig can report all of them at once.
type envParser struct {
	v *Validator
}

func (p *envParser) fail(key, value, msg string) {
	if p.v == nil {
		p.v = NewValidator()
	}
	p.v.errors = append(p.v.errors, ValidationError{Field: key, Value: value, Message: msg})
}

func (p *envParser) err() error {
	if p.v == nil || !p.v.HasErrors() {
		return nil
	}
	return NewAppError("CONFIG_ERROR", p.v.ErrorMessage(), ErrConfig)
}

func (p *envParser) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, "must be an integer")
		return defaultValue
	}
	return intVal
}

func (p *envParser) int64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		p.fail(key, value, "must be an integer")
		return defaultValue
	}
	return intVal
}

func (p *envParser) float(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, value, "must be a number")
		return defaultValue
	}
	return floatVal
}

func (p *envParser) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.fail(key, value, "must be a duration such as 30s")
		return defaultValue
	}
	return d
}

// millis parses a bare millisecond count, the unit the poll settings use.
func (p *envParser) millis(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		p.fail(key, value, "must be a whole number of milliseconds")
		return defaultValue
	}
	if ms <= 0 {
		p.fail(key, value, "must be greater than zero")
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}
