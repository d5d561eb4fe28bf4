// Package synth merges extracted client documents into one system message.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"carousel-engine/internal/config"
	"carousel-engine/internal/errs"
	"carousel-engine/internal/governor"
	"carousel-engine/internal/llmservice"
	"carousel-engine/internal/models"
	"carousel-engine/internal/retry"

	"github.com/rs/zerolog/log"
)

var (
	segmentLabel  = regexp.MustCompile(models.SegmentLabelRegex)
	parenthetical = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
)

type Synthesizer struct {
	gen         llmservice.TextGenerator
	pricing     governor.Pricing
	retry       retry.Config
	maxChars    int
	maxTokens   int
	temperature float64
}

func NewSynthesizer(gen llmservice.TextGenerator, cfg config.IngestConfig, pricing governor.Pricing, rc retry.Config) *Synthesizer {
	s := &Synthesizer{
		gen:       gen,
		pricing:   pricing,
		retry:     rc,
		maxChars:  cfg.MaxDocumentChars,
		maxTokens: cfg.MaxTokens,
	}
	if cfg.Temperature != nil {
		s.temperature = *cfg.Temperature
	}
	return s
}

// Result is a synthesized system message plus the coverage report.
type Result struct {
	SystemMessage string
	Segments      []string
	Missing       []string
	Truncated     []string
}

// Synthesize issues exactly one governed generation call over the inputs.
func (s *Synthesizer) Synthesize(ctx context.Context, budget *governor.Budget, inputs []models.LabelledText) (Result, error) {
	if len(inputs) == 0 {
		return Result{}, errs.E(errs.KindInputValidation, "synthesize",
			fmt.Errorf("no documents to synthesize: %w", errs.ErrInvalidInput))
	}

	prepared, truncated := PrepareInputs(inputs, s.maxChars)
	for _, label := range truncated {
		log.Info().Str("document", label).Int("max_chars", s.maxChars).Msg("Truncated document for synthesis")
	}
	segments := ExtractSegments(prepared)
	prompt := BuildPrompt(prepared, segments)

	resp, err := llmservice.Generate(ctx, s.gen, budget, s.pricing, s.retry, llmservice.Request{
		Prompt:      prompt,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("synthesize context: %w", err)
	}

	message := strings.TrimSpace(resp.Text)
	if message == "" {
		return Result{}, errs.E(errs.KindEmptySynthesis, "synthesize", errs.ErrEmptySynthesis)
	}

	result := Result{
		SystemMessage: message,
		Segments:      segments,
		Missing:       missingFrom(segments, message),
		Truncated:     truncated,
	}
	if len(result.Missing) > 0 {
		log.Warn().Strs("missing", result.Missing).Msg("System message does not cover every audience segment")
	}
	log.Info().
		Int("documents", len(inputs)).
		Int("segments", len(segments)).
		Int("chars", utf8.RuneCountInString(message)).
		Msg("Synthesized system message")
	return result, nil
}

// PrepareInputs truncates every text to maxChars characters and reports
// which labels were cut.
func PrepareInputs(inputs []models.LabelledText, maxChars int) ([]models.LabelledText, []string) {
	prepared := make([]models.LabelledText, 0, len(inputs))
	var truncated []string
	for _, in := range inputs {
		t, cut := Truncate(in.Text, maxChars)
		if cut {
			truncated = append(truncated, in.Label)
		}
		prepared = append(prepared, models.LabelledText{Label: in.Label, Text: t})
	}
	return prepared, truncated
}

// Truncate cuts s to at most max runes. A non-positive max disables it.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i], true
		}
		n++
	}
	return s, false
}

func BuildPrompt(inputs []models.LabelledText, segments []string) string {
	docs := make([]string, 0, len(inputs))
	for _, in := range inputs {
		docs = append(docs, fmt.Sprintf("### %s\n%s", strings.ToUpper(in.Label), in.Text))
	}

	list := models.NoSegmentsListed
	if len(segments) > 0 {
		lines := make([]string, len(segments))
		for i, seg := range segments {
			lines[i] = "- " + seg
		}
		list = strings.Join(lines, "\n")
	}
	return fmt.Sprintf(models.SynthesisPromptTemplate, strings.Join(docs, models.DocumentSeparator), list)
}

// ExtractSegments collects audience segment names labelled in the inputs,
// deduplicated case-insensitively in first-seen order.
func ExtractSegments(inputs []models.LabelledText) []string {
	seen := make(map[string]bool)
	var segments []string
	for _, in := range inputs {
		for _, m := range segmentLabel.FindAllStringSubmatch(in.Text, -1) {
			name := cleanSegment(m[1])
			key := strings.ToLower(name)
			if name == "" || seen[key] {
				continue
			}
			seen[key] = true
			segments = append(segments, name)
		}
	}
	return segments
}

// MissingSegments lists the segments named in inputs that output never mentions.
func MissingSegments(inputs []models.LabelledText, output string) []string {
	return missingFrom(ExtractSegments(inputs), output)
}

func missingFrom(segments []string, output string) []string {
	lower := strings.ToLower(output)
	var missing []string
	for _, seg := range segments {
		if !strings.Contains(lower, strings.ToLower(seg)) {
			missing = append(missing, seg)
		}
	}
	return missing
}

func cleanSegment(name string) string {
	name = strings.Trim(name, " *_#:`\t")
	name = parenthetical.ReplaceAllString(name, "")
	return strings.TrimSpace(strings.TrimRight(name, ".;,"))
}
