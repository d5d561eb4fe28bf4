// Package governor enforces per-run spend ceilings and document intake limits.
package governor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"carousel-engine/internal/config"
	"carousel-engine/internal/errs"
	"carousel-engine/internal/models"

	"github.com/rs/zerolog/log"
)

const epsilon = 1e-9

// Pricing converts token usage and image counts into USD.
type Pricing struct {
	InputPer1K           float64
	OutputPer1K          float64
	PerImage             float64
	ExpectedOutputTokens int
}

func PricingFromConfig(cfg config.GovernorConfig) Pricing {
	return Pricing{
		InputPer1K:           cfg.InputPer1K,
		OutputPer1K:          cfg.OutputPer1K,
		PerImage:             cfg.ImageCost,
		ExpectedOutputTokens: cfg.ExpectedOutput,
	}
}

// EstimateText approximates a text call at four characters per token plus
// the expected completion size.
func (p Pricing) EstimateText(prompt string, maxOutputTokens int) float64 {
	out := p.ExpectedOutputTokens
	if maxOutputTokens > 0 && maxOutputTokens < out {
		out = maxOutputTokens
	}
	return p.TextCost(models.Usage{InputTokens: len(prompt) / 4, OutputTokens: out})
}

func (p Pricing) TextCost(u models.Usage) float64 {
	return float64(u.InputTokens)/1000*p.InputPer1K + float64(u.OutputTokens)/1000*p.OutputPer1K
}

func (p Pricing) ImageCost() float64 {
	return p.PerImage
}

// Budget tracks spend for one run. Safe for concurrent use: the estimate of
// an in-flight call stays reserved until the call returns.
type Budget struct {
	mu       sync.Mutex
	ceiling  float64
	spent    float64
	reserved float64
	calls    int
	rejected int
}

func NewBudget(ceiling float64) *Budget {
	return &Budget{ceiling: ceiling}
}

// Charge runs call only if spent+estimate stays within the ceiling. The call
// returns its actual cost; a non-positive cost records the estimate instead.
// Failed calls are not charged.
func (b *Budget) Charge(ctx context.Context, estimate float64, call func(ctx context.Context) (float64, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	projected := b.spent + b.reserved + estimate
	if projected > b.ceiling+epsilon {
		b.rejected++
		spent := b.spent
		b.mu.Unlock()
		log.Warn().
			Float64("spent", spent).
			Float64("estimate", estimate).
			Float64("ceiling", b.ceiling).
			Msg("Budget ceiling would be exceeded, call not issued")
		return fmt.Errorf("spent $%.4f + estimated $%.4f exceeds limit $%.2f: %w",
			spent, estimate, b.ceiling, errs.ErrBudgetExceeded)
	}
	b.reserved += estimate
	b.mu.Unlock()

	cost, err := call(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserved -= estimate
	if err != nil {
		return err
	}
	if cost <= 0 {
		cost = estimate
	}
	b.spent += cost
	b.calls++
	return nil
}

func (b *Budget) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}

func (b *Budget) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ceiling - b.spent - b.reserved
}

// Calls returns the number of charged calls and rejected calls.
func (b *Budget) Calls() (charged, rejected int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls, b.rejected
}

// Policy holds intake limits checked before any parsing or paid call.
type Policy struct {
	MaxDocumentBytes int64
	AllowedFormats   []string
}

func PolicyFromConfig(cfg config.IngestConfig) Policy {
	return Policy{MaxDocumentBytes: cfg.MaxDocumentBytes, AllowedFormats: cfg.AllowedFormats}
}

// NormalizeFormat lowercases a declared format and strips a leading dot.
func NormalizeFormat(format string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
}

// CheckDocument validates a document's declared format and raw size.
func (p Policy) CheckDocument(doc models.SourceDocument) error {
	format := NormalizeFormat(doc.Format)
	allowed := false
	for _, f := range p.AllowedFormats {
		if NormalizeFormat(f) == format {
			allowed = true
			break
		}
	}
	if !allowed {
		return errs.E(errs.KindInputValidation, "check "+doc.ID,
			fmt.Errorf("%q: %w", doc.Format, errs.ErrUnsupportedFormat))
	}

	size := doc.Size
	if int64(len(doc.Data)) > size {
		size = int64(len(doc.Data))
	}
	if p.MaxDocumentBytes > 0 && size > p.MaxDocumentBytes {
		return errs.E(errs.KindInputValidation, "check "+doc.ID,
			fmt.Errorf("%d bytes over %d: %w", size, p.MaxDocumentBytes, errs.ErrOversizeDocument))
	}
	return nil
}
