// Package imagegen produces one background image per carousel theme.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carousel-engine/internal/config"
	"carousel-engine/internal/errs"
	"carousel-engine/internal/governor"
	"carousel-engine/internal/helper"
	"carousel-engine/internal/models"
	"carousel-engine/internal/retry"

	"github.com/rs/zerolog/log"
)

type Generator struct {
	backend Backend
	pricing governor.Pricing
	retry   retry.Config
	style   string
}

func NewGenerator(backend Backend, cfg config.ImageConfig, pricing governor.Pricing, rc retry.Config) *Generator {
	return &Generator{backend: backend, pricing: pricing, retry: rc, style: cfg.Style}
}

// Result holds the generated asset per theme and the themes that failed.
type Result struct {
	Assets   map[string]models.ImageAsset
	Failures map[string]error
}

// AssetName is the deterministic file name for a theme's background.
// Themes that slugify alike still get distinct names.
func AssetName(theme, contentType string) string {
	ext := ".png"
	if strings.Contains(contentType, "jpeg") || strings.Contains(contentType, "jpg") {
		ext = ".jpg"
	} else if strings.Contains(contentType, "webp") {
		ext = ".webp"
	}
	return "background-" + helper.Slugify(theme) + "-" + helper.ShortHash(theme) + ext
}

// GenerateForSlides requests exactly one image per distinct theme and points
// every slide of that theme at it. A failed image leaves its slides without a
// background. Only budget trips and cancellation are returned as errors.
func (g *Generator) GenerateForSlides(ctx context.Context, budget *governor.Budget, title string, set *models.SlideSet) (Result, error) {
	result := Result{
		Assets:   make(map[string]models.ImageAsset),
		Failures: make(map[string]error),
	}

	for _, theme := range set.Themes() {
		img, err := g.generate(ctx, budget, title, theme)
		if err != nil {
			if errors.Is(err, errs.ErrBudgetExceeded) || ctx.Err() != nil {
				return result, fmt.Errorf("image for theme %q: %w", theme, err)
			}
			result.Failures[theme] = errs.E(errs.KindUpstream, "image "+theme,
				fmt.Errorf("%w: %v", errs.ErrImageGenerationFailed, err))
			log.Warn().Err(err).Str("theme", theme).Msg("Image generation failed, continuing without background")
			continue
		}
		result.Assets[theme] = models.ImageAsset{
			Theme:       theme,
			Name:        AssetName(theme, img.ContentType),
			ContentType: img.ContentType,
			Data:        img.Data,
		}
	}

	for i := range set.Slides {
		if asset, ok := result.Assets[set.Slides[i].Theme]; ok {
			set.Slides[i].ImageRef = asset.Name
		}
	}
	log.Info().Int("themes", len(result.Assets)+len(result.Failures)).Int("failed", len(result.Failures)).Msg("Generated background images")
	return result, nil
}

func (g *Generator) generate(ctx context.Context, budget *governor.Budget, title, theme string) (Image, error) {
	prompt := fmt.Sprintf(models.ImagePromptTemplate, g.style, theme)
	if title != "" && title != theme {
		prompt += fmt.Sprintf("\nThe carousel belongs to the campaign %q.", title)
	}

	var img Image
	err := retry.Do(ctx, g.retry, func(ctx context.Context) error {
		return budget.Charge(ctx, g.pricing.ImageCost(), func(ctx context.Context) (float64, error) {
			out, err := g.backend.GenerateImage(ctx, prompt)
			if err != nil {
				return 0, err
			}
			if len(out.Data) == 0 {
				return 0, errors.New("backend returned no image data")
			}
			img = out
			return g.pricing.ImageCost(), nil
		})
	})
	return img, err
}
