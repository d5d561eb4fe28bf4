// Package carousel turns a topic, seed content and client context into an
// ordered slide set.
package carousel

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"carousel-engine/internal/config"
	"carousel-engine/internal/errs"
	"carousel-engine/internal/governor"
	"carousel-engine/internal/llmservice"
	"carousel-engine/internal/models"
	"carousel-engine/internal/retry"

	"github.com/rs/zerolog/log"
)

var slideHeader = regexp.MustCompile(models.SlideHeaderRegex)

type Generator struct {
	gen              llmservice.TextGenerator
	pricing          governor.Pricing
	retry            retry.Config
	minSlides        int
	maxSlides        int
	linesPerSlide    int
	maxTokens        int
	temperature      float64
	malformedRetries int
}

func NewGenerator(gen llmservice.TextGenerator, cfg config.CarouselConfig, pricing governor.Pricing, rc retry.Config) *Generator {
	g := &Generator{
		gen:              gen,
		pricing:          pricing,
		retry:            rc,
		minSlides:        cfg.MinSlides,
		maxSlides:        cfg.MaxSlides,
		linesPerSlide:    cfg.LinesPerSlide,
		maxTokens:        cfg.MaxTokens,
		malformedRetries: cfg.MalformedRetries,
	}
	if cfg.Temperature != nil {
		g.temperature = *cfg.Temperature
	}
	if g.minSlides < 1 {
		g.minSlides = 1
	}
	if g.maxSlides < g.minSlides {
		g.maxSlides = g.minSlides
	}
	if g.malformedRetries < 0 {
		g.malformedRetries = 0
	}
	return g
}

// Input is everything one generation call needs.
type Input struct {
	SystemMessage string
	Topic         string
	Seed          string
}

// Generate issues one governed call and parses it. Unparseable output is
// retried with a stricter format instruction before it becomes fatal.
func (g *Generator) Generate(ctx context.Context, budget *governor.Budget, in Input) (models.SlideSet, error) {
	req := llmservice.Request{
		System:      g.systemPrompt(in.SystemMessage),
		Prompt:      g.userPrompt(in),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}

	var lastErr error
	for attempt := 0; attempt <= g.malformedRetries; attempt++ {
		if attempt > 0 {
			req.Prompt = g.userPrompt(in) + fmt.Sprintf(models.StricterFormatInstruction, g.minSlides, g.maxSlides)
		}
		resp, err := llmservice.Generate(ctx, g.gen, budget, g.pricing, g.retry, req)
		if err != nil {
			return models.SlideSet{}, fmt.Errorf("generate slides: %w", err)
		}

		set, err := Parse(resp.Text, in.Topic, g.minSlides, g.maxSlides)
		if err == nil {
			log.Info().Str("topic", in.Topic).Int("slides", set.Len()).Int("attempt", attempt+1).Msg("Generated slides")
			return set, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("Slide output malformed")
	}
	return models.SlideSet{}, errs.E(errs.KindMalformedOutput, "generate slides", lastErr)
}

func (g *Generator) systemPrompt(clientContext string) string {
	if strings.TrimSpace(clientContext) == "" {
		return models.CarouselSystemPrompt
	}
	return models.CarouselSystemPrompt + models.ClientContextHeader + clientContext
}

func (g *Generator) userPrompt(in Input) string {
	return fmt.Sprintf(models.CarouselPromptTemplate,
		in.Topic, g.minSlides, g.maxSlides, g.linesPerSlide, in.Topic, in.Seed)
}

// Parse splits "SLIDE N:" blocks into slides numbered 1..n in order of
// appearance. Text before the first header and boilerplate lines are
// dropped. Slides beyond maxSlides are discarded; fewer than minSlides is an
// error.
func Parse(output, theme string, minSlides, maxSlides int) (models.SlideSet, error) {
	var (
		blocks  [][]string
		current []string
		inSlide bool
	)
	flush := func() {
		if inSlide && len(current) > 0 {
			blocks = append(blocks, current)
		}
		current = nil
	}

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if m := slideHeader.FindStringSubmatch(line); m != nil {
			flush()
			inSlide = true
			if rest := strings.TrimSpace(strings.Trim(m[2], "*")); rest != "" && !isBoilerplate(rest) {
				current = append(current, rest)
			}
			continue
		}
		if !inSlide || line == "" || isBoilerplate(line) {
			continue
		}
		current = append(current, line)
	}
	flush()

	if len(blocks) == 0 {
		return models.SlideSet{}, fmt.Errorf("no SLIDE blocks found: %w", errs.ErrMalformedSlideOutput)
	}
	if len(blocks) < minSlides {
		return models.SlideSet{}, fmt.Errorf("%d slides, need at least %d: %w", len(blocks), minSlides, errs.ErrMalformedSlideOutput)
	}
	if maxSlides > 0 && len(blocks) > maxSlides {
		log.Debug().Int("parsed", len(blocks)).Int("max", maxSlides).Msg("Dropping slides beyond maximum")
		blocks = blocks[:maxSlides]
	}

	theme = strings.TrimSpace(theme)
	set := models.SlideSet{Slides: make([]models.Slide, len(blocks))}
	for i, lines := range blocks {
		set.Slides[i] = models.Slide{
			Position: i + 1,
			Text:     strings.Join(lines, "\n"),
			Theme:    theme,
		}
	}
	return set, nil
}

func isBoilerplate(line string) bool {
	for _, prefix := range models.UnwantedPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	lower := strings.ToLower(line)
	for _, phrase := range models.UnwantedPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
