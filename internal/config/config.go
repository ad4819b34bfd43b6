package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/kdimtricp/lipreader/internal/capture"
	"github.com/kdimtricp/lipreader/internal/database"
	"github.com/kdimtricp/lipreader/internal/inference"
	"github.com/kdimtricp/lipreader/internal/recorder"
	"github.com/kdimtricp/lipreader/internal/storage"
)

type Config struct {
	Port     string `env:"PORT"      envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	BackendURL     string        `env:"BACKEND_URL"     envDefault:"http://127.0.0.1:5000"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"0s"`
	MaxUploadSize  int64         `env:"MAX_UPLOAD_SIZE" envDefault:"16777216"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"local"`
	UploadDir      string `env:"UPLOAD_DIR"      envDefault:"./uploads"`

	MinIOEndpoint  string `env:"MINIO_ENDPOINT"   envDefault:"localhost:9000"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY" envDefault:"minioadmin"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY" envDefault:"minioadmin"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL"    envDefault:"false"`
	MinIOBucket    string `env:"MINIO_BUCKET"     envDefault:"pending-clips"`

	DBType         string `env:"DB_TYPE"         envDefault:"sqlite"`
	DBPath         string `env:"DB_PATH"         envDefault:"./lipreader.db"`
	DBHost         string `env:"DB_HOST"         envDefault:"localhost"`
	DBPort         int    `env:"DB_PORT"         envDefault:"5432"`
	DBUser         string `env:"DB_USER"         envDefault:"lipreader"`
	DBPassword     string `env:"DB_PASSWORD"     envDefault:"lipreader_dev"`
	DBName         string `env:"DB_NAME"         envDefault:"lipreader"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"./migrations"`

	FFmpegPath       string `env:"FFMPEG_PATH"        envDefault:"ffmpeg"`
	CaptureDevice    string `env:"CAPTURE_DEVICE"`
	CaptureFormat    string `env:"CAPTURE_FORMAT"     envDefault:"v4l2"`
	CaptureChunkSize int    `env:"CAPTURE_CHUNK_SIZE" envDefault:"65536"`

	RecordMaxBytes    int64         `env:"RECORD_MAX_BYTES"    envDefault:"16777216"`
	RecordMaxDuration time.Duration `env:"RECORD_MAX_DURATION" envDefault:"30s"`

	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"30m"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND: %s", c.StorageBackend)
	}
	switch c.DBType {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_TYPE: %s", c.DBType)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if c.CaptureChunkSize <= 0 {
		return fmt.Errorf("CAPTURE_CHUNK_SIZE must be positive")
	}
	return nil
}

func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Type:       c.DBType,
		Host:       c.DBHost,
		Port:       c.DBPort,
		User:       c.DBUser,
		Password:   c.DBPassword,
		Name:       c.DBName,
		SQLitePath: c.DBPath,
	}
}

func (c *Config) MinIOConfig() storage.MinIOConfig {
	return storage.MinIOConfig{
		Endpoint:  c.MinIOEndpoint,
		AccessKey: c.MinIOAccessKey,
		SecretKey: c.MinIOSecretKey,
		UseSSL:    c.MinIOUseSSL,
		Bucket:    c.MinIOBucket,
	}
}

func (c *Config) CameraConfig() capture.CameraConfig {
	return capture.CameraConfig{
		FFmpegPath: c.FFmpegPath,
		Device:     c.CaptureDevice,
		Format:     c.CaptureFormat,
		ChunkSize:  c.CaptureChunkSize,
	}
}

func (c *Config) RecorderConfig() recorder.Config {
	return recorder.Config{
		MaxBytes:    c.RecordMaxBytes,
		MaxDuration: c.RecordMaxDuration,
	}
}

func (c *Config) InferenceConfig() inference.Config {
	return inference.Config{
		BaseURL: c.BackendURL,
		Timeout: c.BackendTimeout,
	}
}
