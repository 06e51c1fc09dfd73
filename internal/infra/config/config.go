package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`

	Uploader  Uploader  `yaml:"uploader"`
	Recording Recording `yaml:"recording"`

	Redis Redis `yaml:"redis"`
	MinIO MinIO `yaml:"minio"`
	NATS  NATS  `yaml:"nats"`
}

type Uploader struct {
	MaxConcurrent int   `yaml:"max_concurrent"`
	MaxMemoryMB   int64 `yaml:"max_memory_mb"`
	MaxFileSizeMB int64 `yaml:"max_file_size_mb"`

	TaskTimeout            time.Duration `yaml:"task_timeout"`
	SweepInterval          time.Duration `yaml:"sweep_interval"`
	CompletedEvictionDelay time.Duration `yaml:"completed_eviction_delay"`
	FailedEvictionDelay    time.Duration `yaml:"failed_eviction_delay"`

	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

type Recording struct {
	Endpoint          string        `yaml:"endpoint"`
	ThumbnailEndpoint string        `yaml:"thumbnail_endpoint"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

type Redis struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	SnapshotKey string        `yaml:"snapshot_key"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	BasePath        string `yaml:"base_path"`
}

type NATS struct {
	URL             string `yaml:"url"`
	Name            string `yaml:"name"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	SnapshotSubject string `yaml:"snapshot_subject"`
	ControlSubject  string `yaml:"control_subject"`
	ControlQueue    string `yaml:"control_queue"`
}

func (r Redis) Enabled() bool { return r.Addr != "" }
func (m MinIO) Enabled() bool { return m.Endpoint != "" }
func (n NATS) Enabled() bool  { return n.URL != "" }

func MustLoad(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	return cfg
}

// Parse decodes YAML, fills in defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal yaml: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	u := &c.Uploader
	if u.MaxConcurrent <= 0 {
		u.MaxConcurrent = 2
	}
	if u.MaxMemoryMB <= 0 {
		u.MaxMemoryMB = 500
	}
	if u.MaxFileSizeMB <= 0 {
		u.MaxFileSizeMB = 200
	}
	if u.TaskTimeout <= 0 {
		u.TaskTimeout = 5 * time.Minute
	}
	if u.SweepInterval <= 0 {
		u.SweepInterval = 2 * time.Minute
	}
	if u.CompletedEvictionDelay <= 0 {
		u.CompletedEvictionDelay = 3 * time.Second
	}
	if u.FailedEvictionDelay <= 0 {
		u.FailedEvictionDelay = 10 * time.Second
	}
	if u.NotifyTimeout <= 0 {
		u.NotifyTimeout = 5 * time.Second
	}

	if c.Redis.SnapshotKey == "" {
		c.Redis.SnapshotKey = "uploads:snapshot"
	}
	if c.Redis.SnapshotTTL <= 0 {
		c.Redis.SnapshotTTL = 10 * time.Minute
	}

	if c.NATS.Name == "" {
		c.NATS.Name = "recuploader"
	}
	if c.NATS.SnapshotSubject == "" {
		c.NATS.SnapshotSubject = "uploads.snapshot"
	}
	if c.NATS.ControlSubject == "" {
		c.NATS.ControlSubject = "uploads.control"
	}
	if c.NATS.ControlQueue == "" {
		c.NATS.ControlQueue = "recuploader"
	}
}

func (c *Config) validate() error {
	if c.Recording.Endpoint == "" {
		return fmt.Errorf("recording.endpoint is empty")
	}
	if c.Uploader.MaxFileSizeMB > c.Uploader.MaxMemoryMB {
		return fmt.Errorf("uploader.max_file_size_mb (%d) exceeds uploader.max_memory_mb (%d)",
			c.Uploader.MaxFileSizeMB, c.Uploader.MaxMemoryMB)
	}
	if c.Recording.RequestTimeout < 0 {
		return fmt.Errorf("recording.request_timeout must not be negative, got %s", c.Recording.RequestTimeout)
	}
	if c.MinIO.Enabled() && c.MinIO.Bucket == "" {
		return fmt.Errorf("minio.bucket is empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
	}
}
