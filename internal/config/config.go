package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"claimguard-images"`
	S3Region    string `envconfig:"S3_REGION" default:"ap-northeast-1"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	SentryDSN         string  `envconfig:"SENTRY_DSN"`
	SentryEnvironment string  `envconfig:"SENTRY_ENVIRONMENT" default:"development"`
	SentrySampleRate  float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE" default:"1.0"`

	// Admission queue ceiling: how many checks run at once.
	MaxConcurrentChecks int `envconfig:"MAX_CONCURRENT_CHECKS" default:"3"`

	// Stream timers. Image windows are longer because OCR extends the
	// pipeline upstream.
	StreamTextProgressTimeout    time.Duration `envconfig:"STREAM_TEXT_PROGRESS_TIMEOUT" default:"20s"`
	StreamImageProgressTimeout   time.Duration `envconfig:"STREAM_IMAGE_PROGRESS_TIMEOUT" default:"45s"`
	StreamTextConnectionTimeout  time.Duration `envconfig:"STREAM_TEXT_CONNECTION_TIMEOUT" default:"60s"`
	StreamImageConnectionTimeout time.Duration `envconfig:"STREAM_IMAGE_CONNECTION_TIMEOUT" default:"120s"`
	StreamHeartbeatInterval      time.Duration `envconfig:"STREAM_HEARTBEAT_INTERVAL" default:"10s"`

	// Bootstrap: create initial organization and admin token on startup
	InitOrgName string `envconfig:"INIT_ORG_NAME"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CLAIMGUARD", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}
