package synth

import (
	"context"
	"strings"
	"testing"
	"time"

	"carousel-engine/internal/config"
	"carousel-engine/internal/errs"
	"carousel-engine/internal/governor"
	"carousel-engine/internal/llmservice"
	"carousel-engine/internal/models"
	"carousel-engine/internal/retry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingGenerator struct {
	requests []llmservice.Request
	reply    func(req llmservice.Request) (llmservice.Response, error)
}

func (r *recordingGenerator) Generate(ctx context.Context, req llmservice.Request) (llmservice.Response, error) {
	r.requests = append(r.requests, req)
	return r.reply(req)
}

func echoSegments(req llmservice.Request) (llmservice.Response, error) {
	// Mentions every listed segment, as a compliant model would.
	var b strings.Builder
	b.WriteString("You are creating content as Acme Realty.\n")
	section := req.Prompt[strings.Index(req.Prompt, "## AUDIENCE SEGMENTS"):]
	for _, line := range strings.Split(section, "\n") {
		if strings.HasPrefix(line, "- ") && !strings.Contains(line, "(none") {
			b.WriteString("### " + strings.TrimPrefix(line, "- ") + "\n")
		}
	}
	return llmservice.Response{Text: b.String(), Usage: models.Usage{InputTokens: 100, OutputTokens: 100}}, nil
}

func newTestSynth(gen llmservice.TextGenerator) *Synthesizer {
	temp := 0.1
	cfg := config.IngestConfig{MaxDocumentChars: 15000, MaxTokens: 4000, Temperature: &temp}
	pricing := governor.Pricing{InputPer1K: 0.03, OutputPer1K: 0.06, ExpectedOutputTokens: 500}
	return NewSynthesizer(gen, cfg, pricing, retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func TestSynthesize_TruncationScenario(t *testing.T) {
	gen := &recordingGenerator{reply: echoSegments}
	inputs := []models.LabelledText{
		{Label: "client profile", Text: strings.Repeat("a", 2000)},
		{Label: "ideal client profile", Text: strings.Repeat("b", 15500)},
		{Label: "voice guide", Text: strings.Repeat("c", 500)},
	}

	result, err := newTestSynth(gen).Synthesize(context.Background(), governor.NewBudget(10), inputs)
	require.NoError(t, err)

	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	assert.Equal(t, 4000, req.MaxTokens)
	assert.InDelta(t, 0.1, req.Temperature, 1e-9)

	assert.Contains(t, req.Prompt, strings.Repeat("a", 2000))
	assert.Contains(t, req.Prompt, strings.Repeat("c", 500))
	assert.Contains(t, req.Prompt, strings.Repeat("b", 15000))
	assert.NotContains(t, req.Prompt, strings.Repeat("b", 15001))
	assert.Equal(t, []string{"ideal client profile"}, result.Truncated)
}

func TestSynthesize_CoversEverySegment(t *testing.T) {
	gen := &recordingGenerator{reply: echoSegments}
	inputs := []models.LabelledText{
		{Label: "icp", Text: "# Ideal Clients\n## Segment: First-Time Buyers (25-35)\nSaving hard.\n- Persona: Downsizers\n"},
		{Label: "icp-2", Text: "**Audience 3:** Relocating Professionals\nsegment: first-time buyers\n"},
	}

	result, err := newTestSynth(gen).Synthesize(context.Background(), governor.NewBudget(10), inputs)
	require.NoError(t, err)

	want := []string{"First-Time Buyers", "Downsizers", "Relocating Professionals"}
	if diff := cmp.Diff(want, result.Segments); diff != "" {
		t.Errorf("segments mismatch (-want +got):\n%s", diff)
	}
	for _, seg := range want {
		assert.Contains(t, gen.requests[0].Prompt, "- "+seg)
		assert.Contains(t, strings.ToLower(result.SystemMessage), strings.ToLower(seg))
	}
	assert.Empty(t, result.Missing)
	assert.Empty(t, MissingSegments(inputs, result.SystemMessage))
}

func TestSynthesize_ReportsMissingSegments(t *testing.T) {
	gen := &recordingGenerator{reply: func(llmservice.Request) (llmservice.Response, error) {
		return llmservice.Response{Text: "Only Downsizers are covered here."}, nil
	}}
	inputs := []models.LabelledText{{Label: "icp", Text: "Persona: Downsizers\nPersona: Investors\n"}}

	result, err := newTestSynth(gen).Synthesize(context.Background(), governor.NewBudget(10), inputs)
	require.NoError(t, err)
	assert.Equal(t, []string{"Investors"}, result.Missing)
}

func TestSynthesize_EmptyOutputNotRetried(t *testing.T) {
	gen := &recordingGenerator{reply: func(llmservice.Request) (llmservice.Response, error) {
		return llmservice.Response{Text: "   "}, nil
	}}
	_, err := newTestSynth(gen).Synthesize(context.Background(), governor.NewBudget(10),
		[]models.LabelledText{{Label: "a", Text: "text"}})

	assert.ErrorIs(t, err, errs.ErrEmptySynthesis)
	assert.Equal(t, errs.KindEmptySynthesis, errs.KindOf(err))
	assert.Len(t, gen.requests, 1)
}

func TestSynthesize_UpstreamErrorRetried(t *testing.T) {
	calls := 0
	gen := &recordingGenerator{reply: func(llmservice.Request) (llmservice.Response, error) {
		calls++
		return llmservice.Response{}, errs.NewAPIError("llm", 503, "unavailable")
	}}
	_, err := newTestSynth(gen).Synthesize(context.Background(), governor.NewBudget(10),
		[]models.LabelledText{{Label: "a", Text: "text"}})

	assert.Error(t, err)
	assert.Equal(t, errs.KindUpstream, errs.KindOf(err))
	assert.Equal(t, 2, calls)
}

func TestSynthesize_NoInputs(t *testing.T) {
	_, err := newTestSynth(&recordingGenerator{}).Synthesize(context.Background(), governor.NewBudget(10), nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestTruncate_RuneSafe(t *testing.T) {
	out, cut := Truncate("héllo wörld", 4)
	assert.True(t, cut)
	assert.Equal(t, "héll", out)

	out, cut = Truncate("short", 10)
	assert.False(t, cut)
	assert.Equal(t, "short", out)

	out, cut = Truncate("exact", 5)
	assert.False(t, cut)
	assert.Equal(t, "exact", out)

	_, cut = Truncate("anything", 0)
	assert.False(t, cut)
}

func TestBuildPrompt_NoSegments(t *testing.T) {
	prompt := BuildPrompt([]models.LabelledText{{Label: "voice", Text: "Be kind."}}, nil)
	assert.Contains(t, prompt, "### VOICE\nBe kind.")
	assert.Contains(t, prompt, models.NoSegmentsListed)
	assert.Contains(t, prompt, "Do not stop until all of them are covered")
}
