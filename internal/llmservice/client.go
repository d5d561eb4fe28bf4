package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"carousel-engine/internal/config"
	"carousel-engine/internal/errs"
	"carousel-engine/internal/governor"
	"carousel-engine/internal/models"
	"carousel-engine/internal/retry"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	thinkTag   = regexp.MustCompile(models.ThinkTag)
	statusCode = regexp.MustCompile(`status code:? (\d{3})`)
)

// Request is one text generation call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

type Response struct {
	Text  string
	Usage models.Usage
}

// TextGenerator issues a single text generation call.
type TextGenerator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Client calls an OpenAI-compatible chat endpoint through langchaingo.
type Client struct {
	llm llms.Model
}

func NewClient(llmConfig *config.LLMConfig) (*Client, error) {
	log.Debug().Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating LLM client")
	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, err
	}
	return &Client{llm: llm}, nil
}

// NewClientWithModel wraps an existing langchaingo model.
func NewClientWithModel(llm llms.Model) *Client {
	return &Client{llm: llm}
}

func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return Response{}, classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Response{}, nil
	}

	choice := resp.Choices[0]
	return Response{
		Text:  strings.TrimSpace(thinkTag.ReplaceAllString(choice.Content, "")),
		Usage: usageFrom(choice.GenerationInfo),
	}, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if m := statusCode.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return errs.E(errs.KindUpstream, "generate",
			&errs.APIError{Service: "llm", StatusCode: code, Message: "chat completion", Err: err})
	}
	return errs.E(errs.KindUpstream, "generate", fmt.Errorf("%w: %v", errs.ErrGenerationService, err))
}

func usageFrom(info map[string]any) models.Usage {
	return models.Usage{
		InputTokens:  intValue(info["PromptTokens"]),
		OutputTokens: intValue(info["CompletionTokens"]),
	}
}

func intValue(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// Generate runs req under the run's budget, retrying transient failures.
// Every attempt is a separately governed paid call.
func Generate(ctx context.Context, gen TextGenerator, budget *governor.Budget, pricing governor.Pricing, rc retry.Config, req Request) (Response, error) {
	estimate := pricing.EstimateText(req.System+req.Prompt, req.MaxTokens)
	var resp Response
	err := retry.Do(ctx, rc, func(ctx context.Context) error {
		return budget.Charge(ctx, estimate, func(ctx context.Context) (float64, error) {
			r, err := gen.Generate(ctx, req)
			if err != nil {
				return 0, err
			}
			resp = r
			return pricing.TextCost(r.Usage), nil
		})
	})
	return resp, err
}
