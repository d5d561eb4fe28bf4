package config

import "time"

const (
	defaultMaxDocumentBytes = 10 * 1024 * 1024
	defaultMaxDocumentChars = 15000
	defaultSynthesisTokens  = 4000
	defaultSynthesisTemp    = 0.1
	defaultCarouselTokens   = 1000
	defaultCarouselTemp     = 0.7
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = 300 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Image.Provider == "" {
		cfg.Image.Provider = "openai"
	}
	if cfg.Image.Model == "" {
		switch cfg.Image.Provider {
		case "gemini":
			cfg.Image.Model = "imagen-3.0-generate-002"
		default:
			cfg.Image.Model = "dall-e-3"
		}
	}
	if cfg.Image.Size == "" {
		cfg.Image.Size = "1024x1024"
	}
	if cfg.Image.Style == "" {
		cfg.Image.Style = "professional"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}

	if cfg.Ingest.MaxDocumentBytes == 0 {
		cfg.Ingest.MaxDocumentBytes = defaultMaxDocumentBytes
	}
	if cfg.Ingest.AllowedFormats == nil {
		cfg.Ingest.AllowedFormats = []string{"pdf", "docx", "txt", "md"}
	}
	if cfg.Ingest.MaxDocumentChars == 0 {
		cfg.Ingest.MaxDocumentChars = defaultMaxDocumentChars
	}
	if cfg.Ingest.MaxTokens == 0 {
		cfg.Ingest.MaxTokens = defaultSynthesisTokens
	}
	if cfg.Ingest.Temperature == nil {
		t := defaultSynthesisTemp
		cfg.Ingest.Temperature = &t
	}

	if cfg.Carousel.MinSlides == 0 {
		cfg.Carousel.MinSlides = 1
	}
	if cfg.Carousel.MaxSlides == 0 {
		cfg.Carousel.MaxSlides = 7
	}
	if cfg.Carousel.LinesPerSlide == 0 {
		cfg.Carousel.LinesPerSlide = 2
	}
	if cfg.Carousel.MaxTokens == 0 {
		cfg.Carousel.MaxTokens = defaultCarouselTokens
	}
	if cfg.Carousel.Temperature == nil {
		t := defaultCarouselTemp
		cfg.Carousel.Temperature = &t
	}
	if cfg.Carousel.MalformedRetries == 0 {
		cfg.Carousel.MalformedRetries = 1
	}
	if cfg.Carousel.FormatFlag == "" {
		cfg.Carousel.FormatFlag = "Carousel"
	}
	if cfg.Carousel.UploadConcurrency == 0 {
		cfg.Carousel.UploadConcurrency = 4
	}

	if cfg.Governor.MaxCostPerRun == 0 {
		cfg.Governor.MaxCostPerRun = 10.00
	}
	if cfg.Governor.InputPer1K == 0 {
		cfg.Governor.InputPer1K = 0.03
	}
	if cfg.Governor.OutputPer1K == 0 {
		cfg.Governor.OutputPer1K = 0.06
	}
	if cfg.Governor.ImageCost == 0 {
		cfg.Governor.ImageCost = 0.04
	}
	if cfg.Governor.ExpectedOutput == 0 {
		cfg.Governor.ExpectedOutput = 500
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 10 * time.Second
	}
}
