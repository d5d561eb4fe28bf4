package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string         `yaml:"log_level"`
	RunTimeout time.Duration  `yaml:"run_timeout"`
	Database   DatabaseConfig `yaml:"database"`
	LLM        LLMConfig      `yaml:"llm"`
	Image      ImageConfig    `yaml:"image"`
	Storage    StorageConfig  `yaml:"storage"`
	Ingest     IngestConfig   `yaml:"ingest"`
	Carousel   CarouselConfig `yaml:"carousel"`
	Governor   GovernorConfig `yaml:"governor"`
	Retry      RetryConfig    `yaml:"retry"`
}

// DatabaseConfig points at the external record store. Driver is "pgdriver"
// (bun's native driver) or "pq".
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// LLMConfig configures the OpenAI-compatible text generation endpoint.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

// ImageConfig selects the image generation backend: "openai" or "gemini".
type ImageConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
	Size     string `yaml:"size"`
	Style    string `yaml:"style"`
}

type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PublicBaseURL   string `yaml:"public_base_url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	Prefix          string `yaml:"prefix"`
}

// IngestConfig bounds document ingestion and context synthesis.
type IngestConfig struct {
	MaxDocumentBytes int64    `yaml:"max_document_bytes"`
	AllowedFormats   []string `yaml:"allowed_formats"`
	MaxDocumentChars int      `yaml:"max_document_chars"`
	MaxTokens        int      `yaml:"max_tokens"`
	Temperature      *float64 `yaml:"temperature"`
}

// CarouselConfig bounds slide generation and publishing.
type CarouselConfig struct {
	MinSlides         int      `yaml:"min_slides"`
	MaxSlides         int      `yaml:"max_slides"`
	LinesPerSlide     int      `yaml:"lines_per_slide"`
	MaxTokens         int      `yaml:"max_tokens"`
	Temperature       *float64 `yaml:"temperature"`
	MalformedRetries  int      `yaml:"malformed_retries"`
	FormatFlag        string   `yaml:"format_flag"`
	UploadConcurrency int      `yaml:"upload_concurrency"`
}

// GovernorConfig holds the per-run spend ceiling and the price table used
// to estimate calls before they are issued. Prices are USD.
type GovernorConfig struct {
	MaxCostPerRun  float64 `yaml:"max_cost_per_run"`
	InputPer1K     float64 `yaml:"input_per_1k"`
	OutputPer1K    float64 `yaml:"output_per_1k"`
	ImageCost      float64 `yaml:"image_cost"`
	ExpectedOutput int     `yaml:"expected_output_tokens"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Secrets are read from CAROUSEL_* environment variables and override the
// values from the YAML file when set.
type Secrets struct {
	LLMKey             string `envconfig:"LLM_KEY"`
	ImageKey           string `envconfig:"IMAGE_KEY"`
	DatabaseDSN        string `envconfig:"DATABASE_DSN"`
	DatabasePassword   string `envconfig:"DATABASE_PASSWORD"`
	StorageAccessKeyID string `envconfig:"STORAGE_ACCESS_KEY_ID"`
	StorageSecretKey   string `envconfig:"STORAGE_SECRET_ACCESS_KEY"`
}

const envPrefix = "carousel"

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process(envPrefix, &secrets); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.applySecrets(secrets)

	ApplyDefaults(&cfg)
	return &cfg, nil
}

func (c *Config) applySecrets(s Secrets) {
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&c.LLM.Key, s.LLMKey)
	override(&c.Image.Key, s.ImageKey)
	override(&c.Database.DSN, s.DatabaseDSN)
	override(&c.Database.Password, s.DatabasePassword)
	override(&c.Storage.AccessKeyID, s.StorageAccessKeyID)
	override(&c.Storage.SecretAccessKey, s.StorageSecretKey)
}

// Validate reports settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	switch c.Image.Provider {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("image.provider %q not supported", c.Image.Provider))
	}
	switch c.Database.Driver {
	case "pgdriver", "pq":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q not supported", c.Database.Driver))
	}
	if c.Carousel.MinSlides > c.Carousel.MaxSlides {
		errs = append(errs, fmt.Errorf("carousel.min_slides (%d) exceeds carousel.max_slides (%d)",
			c.Carousel.MinSlides, c.Carousel.MaxSlides))
	}
	if c.Governor.MaxCostPerRun <= 0 {
		errs = append(errs, errors.New("governor.max_cost_per_run must be positive"))
	}
	return errors.Join(errs...)
}
