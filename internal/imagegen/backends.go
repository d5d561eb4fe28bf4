package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"carousel-engine/internal/config"
	"carousel-engine/internal/errs"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// Image is raw image bytes returned by a backend.
type Image struct {
	Data        []byte
	ContentType string
}

// Backend generates one image from a text description.
type Backend interface {
	GenerateImage(ctx context.Context, prompt string) (Image, error)
}

// NewBackend builds the backend selected by cfg.Provider.
func NewBackend(ctx context.Context, cfg config.ImageConfig) (Backend, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIBackend(cfg), nil
	case "gemini":
		return NewGeminiBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported image provider %q", cfg.Provider)
	}
}

// OpenAIBackend uses the OpenAI images endpoint.
type OpenAIBackend struct {
	client openai.Client
	model  string
	size   string
}

func NewOpenAIBackend(cfg config.ImageConfig) *OpenAIBackend {
	opts := []option.RequestOption{option.WithAPIKey(cfg.Key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIBackend{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		size:   cfg.Size,
	}
}

func (o *OpenAIBackend) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(o.model),
		Size:           openai.ImageGenerateParamsSize(o.size),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Image{}, &errs.APIError{Service: "openai images", StatusCode: apiErr.StatusCode, Message: "generate", Err: err}
		}
		return Image{}, errs.E(errs.KindUpstream, "openai images", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return Image{}, errors.New("openai images: empty response")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return Image{}, fmt.Errorf("openai images: decode: %w", err)
	}
	return Image{Data: data, ContentType: "image/png"}, nil
}

// GeminiBackend uses Imagen through the Gemini API.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

func NewGeminiBackend(ctx context.Context, cfg config.ImageConfig) (*GeminiBackend, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiBackend{client: client, model: cfg.Model}, nil
}

func (g *GeminiBackend) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.model, prompt, &genai.GenerateImagesConfig{
		AspectRatio: "1:1",
	})
	if err != nil {
		return Image{}, errs.E(errs.KindUpstream, "gemini images", err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return Image{}, errors.New("gemini images: empty response")
	}
	img := resp.GeneratedImages[0].Image
	contentType := img.MIMEType
	if contentType == "" {
		contentType = "image/png"
	}
	return Image{Data: img.ImageBytes, ContentType: contentType}, nil
}
