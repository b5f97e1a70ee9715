package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Vision     VisionConfig     `yaml:"vision"`
	Matching   MatchingConfig   `yaml:"matching"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Capture    CaptureConfig    `yaml:"capture"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// OperatorKey guards enrollment; TerminalKey only allows recognition.
	OperatorKey string `yaml:"operator_key"`
	TerminalKey string `yaml:"terminal_key"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	MetadataFile string `yaml:"metadata_file"`
	// ImagesDriver is "filesystem" or "minio".
	ImagesDriver string `yaml:"images_driver"`
	ImagesDir    string `yaml:"images_dir"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type EmbeddingsConfig struct {
	// Cache is "memory", "file" or "postgres".
	Cache string `yaml:"cache"`
	File  string `yaml:"file"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// NATSConfig enables member event publishing when URL is set.
type NATSConfig struct {
	URL string `yaml:"url"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectorModel      string  `yaml:"detector_model"`
	EmbedderModel      string  `yaml:"embedder_model"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	ONNXLibrary        string  `yaml:"onnx_library"`
}

// MatchingConfig holds the calibration constants of the embedding model in use.
type MatchingConfig struct {
	AcceptThreshold   float64 `yaml:"accept_threshold"`
	ConfidenceDivisor float64 `yaml:"confidence_divisor"`
}

type DispatchConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

type CaptureConfig struct {
	Source string `yaml:"source"`
	Width  int    `yaml:"width"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A missing file is not an error: defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	if c.Matching.AcceptThreshold <= 0 {
		return fmt.Errorf("matching.accept_threshold must be positive, got %v", c.Matching.AcceptThreshold)
	}
	if c.Matching.ConfidenceDivisor <= 0 {
		return fmt.Errorf("matching.confidence_divisor must be positive, got %v", c.Matching.ConfidenceDivisor)
	}
	switch c.Storage.ImagesDriver {
	case "filesystem":
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("minio images driver requires minio.endpoint and minio.bucket")
		}
	default:
		return fmt.Errorf("unknown storage.images_driver %q", c.Storage.ImagesDriver)
	}
	switch c.Embeddings.Cache {
	case "memory", "file", "postgres":
	default:
		return fmt.Errorf("unknown embeddings.cache %q", c.Embeddings.Cache)
	}
	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("dispatch.workers must be at least 1, got %d", c.Dispatch.Workers)
	}
	return nil
}

// DetectorPath returns the detection model location.
func (v VisionConfig) DetectorPath() string {
	return filepath.Join(v.ModelsDir, v.DetectorModel)
}

// EmbedderPath returns the embedding model location.
func (v VisionConfig) EmbedderPath() string {
	return filepath.Join(v.ModelsDir, v.EmbedderModel)
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 10
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.MetadataFile == "" {
		cfg.Storage.MetadataFile = filepath.Join(cfg.Storage.DataDir, "members.json")
	}
	if cfg.Storage.ImagesDriver == "" {
		cfg.Storage.ImagesDriver = "filesystem"
	}
	if cfg.Storage.ImagesDir == "" {
		cfg.Storage.ImagesDir = filepath.Join(cfg.Storage.DataDir, "faces")
	}
	if cfg.MinIO.Prefix == "" {
		cfg.MinIO.Prefix = "faces"
	}
	if cfg.Embeddings.Cache == "" {
		cfg.Embeddings.Cache = "memory"
	}
	if cfg.Embeddings.File == "" {
		cfg.Embeddings.File = filepath.Join(cfg.Storage.DataDir, "embeddings.cbor")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 4
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.DetectorModel == "" {
		cfg.Vision.DetectorModel = "det_10g.onnx"
	}
	if cfg.Vision.EmbedderModel == "" {
		cfg.Vision.EmbedderModel = "w600k_r50.onnx"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Matching.AcceptThreshold == 0 {
		cfg.Matching.AcceptThreshold = 0.6
	}
	if cfg.Matching.ConfidenceDivisor == 0 {
		cfg.Matching.ConfidenceDivisor = 1.5
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 2
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = 16
	}
	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = 20 * time.Second
	}
	if cfg.Capture.Width == 0 {
		cfg.Capture.Width = 640
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEGATE_OPERATOR_KEY"); v != "" {
		cfg.Server.OperatorKey = v
	}
	if v := os.Getenv("FACEGATE_TERMINAL_KEY"); v != "" {
		cfg.Server.TerminalKey = v
	}
	if v := os.Getenv("FACEGATE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("FACEGATE_IMAGES_DRIVER"); v != "" {
		cfg.Storage.ImagesDriver = v
	}
	if v := os.Getenv("FACEGATE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEGATE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEGATE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEGATE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEGATE_EMBEDDINGS_CACHE"); v != "" {
		cfg.Embeddings.Cache = v
	}
	if v := os.Getenv("FACEGATE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEGATE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEGATE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEGATE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEGATE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEGATE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEGATE_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FACEGATE_ONNX_LIBRARY"); v != "" {
		cfg.Vision.ONNXLibrary = v
	}
	if v := os.Getenv("FACEGATE_ACCEPT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.AcceptThreshold = f
		}
	}
	if v := os.Getenv("FACEGATE_DISPATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.Workers = n
		}
	}
	if v := os.Getenv("FACEGATE_CAPTURE_SOURCE"); v != "" {
		cfg.Capture.Source = v
	}
	if v := os.Getenv("FACEGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
