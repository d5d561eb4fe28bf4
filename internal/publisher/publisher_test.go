package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"carousel-engine/internal/errs"
	"carousel-engine/internal/models"
	"carousel-engine/internal/retry"
	"carousel-engine/internal/storage"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var testRetry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

func springSet() (models.SlideSet, map[string]models.ImageAsset) {
	set := models.SlideSet{Slides: []models.Slide{
		{Position: 1, Text: "Spring is here.\n**Save 20%** this week.", Theme: "Spring Promotion", ImageRef: "background-spring-promotion-abcd1234.png"},
		{Position: 2, Text: "Book a visit.", Theme: "Spring Promotion", ImageRef: "background-spring-promotion-abcd1234.png"},
		{Position: 3, Text: "See you <soon>.", Theme: "Spring Promotion", ImageRef: "background-spring-promotion-abcd1234.png"},
	}}
	assets := map[string]models.ImageAsset{
		"Spring Promotion": {Theme: "Spring Promotion", Name: "background-spring-promotion-abcd1234.png", ContentType: "image/png", Data: []byte("png")},
	}
	return set, assets
}

func TestFolder(t *testing.T) {
	assert.Equal(t, "acme-realty/req-42/", Folder("Acme Realty", "req-42"))
	assert.Equal(t, Folder("Acme Realty", "req-42"), Folder("Acme Realty", "req-42"))
	assert.Equal(t, "slide-07.html", SlideName(7))
}

func TestPublish_UploadsEverything(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := storage.NewMemoryStore("https://cdn.test")
	set, assets := springSet()
	p := NewPublisher(store, testRetry, 2)

	result, err := p.Publish(context.Background(), "Acme Realty", "req-42", "Spring Promotion", set, assets)
	require.NoError(t, err)

	want := []string{
		"acme-realty/req-42/background-spring-promotion-abcd1234.png",
		"acme-realty/req-42/manifest.json",
		"acme-realty/req-42/slide-01.html",
		"acme-realty/req-42/slide-02.html",
		"acme-realty/req-42/slide-03.html",
	}
	if diff := cmp.Diff(want, store.Keys()); diff != "" {
		t.Errorf("stored keys mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, result.Refs, 5)
	assert.Equal(t, "slide-01.html", result.Refs[0].Name)
	assert.Equal(t, ManifestName, result.Refs[4].Name)
	assert.Equal(t, "https://cdn.test/acme-realty/req-42/manifest.json", result.ManifestURL)

	page, ok := store.Get("acme-realty/req-42/slide-01.html")
	require.True(t, ok)
	html := string(page.Data)
	assert.Contains(t, html, "<strong>Save 20%</strong>")
	assert.Contains(t, html, "background-spring-promotion-abcd1234.png")
	assert.Contains(t, page.ContentType, "text/html")

	page, _ = store.Get("acme-realty/req-42/slide-03.html")
	assert.NotContains(t, string(page.Data), "<soon>")

	raw, _ := store.Get("acme-realty/req-42/manifest.json")
	var m Manifest
	require.NoError(t, json.Unmarshal(raw.Data, &m))
	assert.Equal(t, "req-42", m.RequestID)
	require.Len(t, m.Slides, 3)
	assert.Equal(t, "https://cdn.test/acme-realty/req-42/background-spring-promotion-abcd1234.png", m.Slides[2].ImageURL)

	assert.Equal(t, p.Refs("Acme Realty", "req-42", set, []string{"background-spring-promotion-abcd1234.png"}), result.Refs)
}

func TestPublish_RerunOverwritesSamePaths(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := storage.NewMemoryStore("mem://b")
	set, assets := springSet()
	p := NewPublisher(store, testRetry, 4)

	first, err := p.Publish(context.Background(), "acme", "r1", "Spring", set, assets)
	require.NoError(t, err)
	set.Slides[0].Text = "Changed"
	second, err := p.Publish(context.Background(), "acme", "r1", "Spring", set, assets)
	require.NoError(t, err)

	assert.Equal(t, first.Refs, second.Refs)
	assert.Len(t, store.Keys(), 5)
	page, _ := store.Get("acme/r1/slide-01.html")
	assert.Contains(t, string(page.Data), "Changed")
}

func TestPublish_TransientFailureRetried(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := storage.NewMemoryStore("mem://b")
	store.Fail = func(key string, attempt int) error {
		if strings.HasSuffix(key, "slide-02.html") && attempt == 1 {
			return errs.NewAPIError("s3", 503, "slow down")
		}
		return nil
	}
	set, assets := springSet()

	_, err := NewPublisher(store, testRetry, 3).Publish(context.Background(), "acme", "r1", "Spring", set, assets)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Attempts("acme/r1/slide-02.html"))
}

func TestPublish_PartialFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := storage.NewMemoryStore("mem://b")
	store.Fail = func(key string, attempt int) error {
		if strings.HasSuffix(key, "slide-03.html") {
			return errs.NewAPIError("s3", 403, "access denied")
		}
		return nil
	}
	set, assets := springSet()

	result, err := NewPublisher(store, testRetry, 2).Publish(context.Background(), "acme", "r1", "Spring", set, assets)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPublishFailed)
	assert.Equal(t, errs.KindPartialAsset, errs.KindOf(err))
	// 403 is not retryable
	assert.Equal(t, 1, store.Attempts("acme/r1/slide-03.html"))

	var pe *PublishError
	require.True(t, errors.As(err, &pe))
	assert.Len(t, pe.Succeeded, 4)
	assert.Contains(t, pe.Failed, "slide-03.html")
	assert.Len(t, result.Refs, 4)
	assert.Contains(t, err.Error(), "slide-03.html")
}

func TestPublish_NoImages(t *testing.T) {
	store := storage.NewMemoryStore("mem://b")
	set := models.SlideSet{Slides: []models.Slide{{Position: 1, Text: "Only text", Theme: "T"}}}

	result, err := NewPublisher(store, testRetry, 0).Publish(context.Background(), "acme", "r2", "T", set, nil)
	require.NoError(t, err)
	assert.Len(t, result.Refs, 2)
	page, _ := store.Get("acme/r2/slide-01.html")
	assert.NotContains(t, string(page.Data), "background-image")
}
