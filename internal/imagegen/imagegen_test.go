package imagegen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"carousel-engine/internal/config"
	"carousel-engine/internal/errs"
	"carousel-engine/internal/governor"
	"carousel-engine/internal/models"
	"carousel-engine/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	prompts []string
	fail    map[string]error
}

func (f *fakeBackend) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	for marker, err := range f.fail {
		if strings.Contains(prompt, marker) {
			return Image{}, err
		}
	}
	return Image{Data: []byte("png:" + prompt[:10]), ContentType: "image/png"}, nil
}

var testPricing = governor.Pricing{PerImage: 0.04}

func newTestGenerator(b Backend) *Generator {
	return NewGenerator(b, config.ImageConfig{Style: "professional"}, testPricing,
		retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func slides(themes ...string) *models.SlideSet {
	set := &models.SlideSet{}
	for i, th := range themes {
		set.Slides = append(set.Slides, models.Slide{Position: i + 1, Text: "text", Theme: th})
	}
	return set
}

func TestGenerateForSlides_OneImagePerTheme(t *testing.T) {
	backend := &fakeBackend{}
	set := slides("Spring Promotion", "Spring Promotion", "Spring Promotion", "Open House")
	budget := governor.NewBudget(10)

	result, err := newTestGenerator(backend).GenerateForSlides(context.Background(), budget, "Spring Promotion", set)
	require.NoError(t, err)

	assert.Len(t, backend.prompts, 2)
	assert.Len(t, result.Assets, 2)
	assert.Empty(t, result.Failures)
	assert.InDelta(t, 0.08, budget.Spent(), 1e-9)

	spring := result.Assets["Spring Promotion"].Name
	open := result.Assets["Open House"].Name
	assert.NotEqual(t, spring, open)
	for _, s := range set.Slides[:3] {
		assert.Equal(t, spring, s.ImageRef)
	}
	assert.Equal(t, open, set.Slides[3].ImageRef)
	assert.Contains(t, backend.prompts[0], "professional")
}

func TestGenerateForSlides_FailureDegrades(t *testing.T) {
	backend := &fakeBackend{fail: map[string]error{"Open House": errors.New("content policy")}}
	set := slides("Spring", "Open House")

	result, err := newTestGenerator(backend).GenerateForSlides(context.Background(), governor.NewBudget(10), "", set)
	require.NoError(t, err)

	assert.Len(t, result.Assets, 1)
	require.Contains(t, result.Failures, "Open House")
	assert.ErrorIs(t, result.Failures["Open House"], errs.ErrImageGenerationFailed)
	assert.NotEmpty(t, set.Slides[0].ImageRef)
	assert.Empty(t, set.Slides[1].ImageRef)
}

func TestGenerateForSlides_TransientRetried(t *testing.T) {
	calls := 0
	backend := backendFunc(func(ctx context.Context, prompt string) (Image, error) {
		calls++
		if calls == 1 {
			return Image{}, errs.NewAPIError("openai images", 503, "busy")
		}
		return Image{Data: []byte{1}, ContentType: "image/jpeg"}, nil
	})
	set := slides("Spring")
	result, err := newTestGenerator(backend).GenerateForSlides(context.Background(), governor.NewBudget(10), "", set)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, strings.HasSuffix(result.Assets["Spring"].Name, ".jpg"))
}

func TestGenerateForSlides_BudgetExceededSurfaces(t *testing.T) {
	backend := &fakeBackend{}
	_, err := newTestGenerator(backend).GenerateForSlides(context.Background(), governor.NewBudget(0.01), "", slides("Spring"))
	assert.ErrorIs(t, err, errs.ErrBudgetExceeded)
	assert.Empty(t, backend.prompts)
}

func TestAssetName(t *testing.T) {
	a := AssetName("Spring!", "image/png")
	b := AssetName("Spring?", "image/png")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "background-spring-"))
	assert.Equal(t, a, AssetName("Spring!", "image/png"))
	assert.True(t, strings.HasSuffix(AssetName("x", "image/webp"), ".webp"))
}

type backendFunc func(ctx context.Context, prompt string) (Image, error)

func (f backendFunc) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	return f(ctx, prompt)
}
