package llmservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"carousel-engine/internal/errs"
	"carousel-engine/internal/governor"
	"carousel-engine/internal/models"
	"carousel-engine/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	messages []llms.MessageContent
	options  llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.options)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func TestClient_Generate(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content: "<think>planning</think>\n  You are Acme Realty.  ",
		GenerationInfo: map[string]any{
			"PromptTokens":     1200,
			"CompletionTokens": 300,
		},
	}}}}

	resp, err := NewClientWithModel(model).Generate(context.Background(), Request{
		System:      "system text",
		Prompt:      "user text",
		MaxTokens:   4000,
		Temperature: 0.1,
	})
	require.NoError(t, err)

	assert.Equal(t, "You are Acme Realty.", resp.Text)
	assert.Equal(t, models.Usage{InputTokens: 1200, OutputTokens: 300}, resp.Usage)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.TextContent{Text: "user text"}, model.messages[1].Parts[0])
	assert.Equal(t, 4000, model.options.MaxTokens)
	assert.InDelta(t, 0.1, model.options.Temperature, 1e-9)
}

func TestClient_Generate_NoSystemNoChoices(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{}}
	resp, err := NewClientWithModel(model).Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Empty(t, resp.Text)
	assert.Len(t, model.messages, 1)
}

func TestClient_Generate_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limited", errors.New("API returned unexpected status code: 429: slow down"), true},
		{"server error", errors.New("API returned unexpected status code: 503: unavailable"), true},
		{"bad request", errors.New("API returned unexpected status code: 400: context length exceeded"), false},
		{"transport", errors.New("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClientWithModel(&fakeModel{err: tt.err}).Generate(context.Background(), Request{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, errs.KindUpstream, errs.KindOf(err))
			assert.Equal(t, tt.retryable, errs.IsRetryable(err))
		})
	}

	_, err := NewClientWithModel(&fakeModel{err: context.DeadlineExceeded}).Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errs.IsRetryable(err))
}

type scriptedGenerator struct {
	calls     int
	responses []Response
	errs      []error
}

func (s *scriptedGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return Response{}, err
	}
	return s.responses[i], nil
}

var testPricing = governor.Pricing{InputPer1K: 0.03, OutputPer1K: 0.06, PerImage: 0.04, ExpectedOutputTokens: 500}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestGenerate_RetriesTransientAndCharges(t *testing.T) {
	gen := &scriptedGenerator{
		errs:      []error{errs.ErrTimeout, nil},
		responses: []Response{{}, {Text: "ok", Usage: models.Usage{InputTokens: 1000, OutputTokens: 1000}}},
	}
	budget := governor.NewBudget(10)

	resp, err := Generate(context.Background(), gen, budget, testPricing, fastRetry(), Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 2, gen.calls)
	assert.InDelta(t, 0.09, budget.Spent(), 1e-9)
}

func TestGenerate_BudgetExceededNotRetried(t *testing.T) {
	gen := &scriptedGenerator{responses: []Response{{Text: "never"}}}
	budget := governor.NewBudget(0.001)

	_, err := Generate(context.Background(), gen, budget, testPricing, fastRetry(), Request{Prompt: "hello"})
	assert.ErrorIs(t, err, errs.ErrBudgetExceeded)
	assert.Zero(t, gen.calls)
}
