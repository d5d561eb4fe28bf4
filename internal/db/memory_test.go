package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"carousel-engine/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ProjectStore = (*Store)(nil)
	_ RequestStore = (*Store)(nil)
	_ ProjectStore = (*MemoryStore)(nil)
	_ RequestStore = (*MemoryStore)(nil)
)

func TestMemoryStore_Projects(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.FindProject(ctx, "acme")
	assert.ErrorIs(t, err, errs.ErrContextNotFound)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	p := &ClientProject{ProjectKey: "acme", SystemMessage: "v1", Uploaded: true}
	require.NoError(t, m.InsertProject(ctx, p))
	assert.Equal(t, int64(1), p.ID)

	// conflicting insert behaves like an upsert
	require.NoError(t, m.InsertProject(ctx, &ClientProject{ProjectKey: "acme", SystemMessage: "v2"}))
	got, err := m.FindProject(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.SystemMessage)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, 1, m.ProjectCount("acme"))

	err = m.UpdateProject(ctx, &ClientProject{ProjectKey: "nobody"})
	assert.ErrorIs(t, err, errs.ErrContextNotFound)

	now := time.Now()
	require.NoError(t, m.MarkProjectUsed(ctx, "acme", "req-1", now))
	got, _ = m.FindProject(ctx, "acme")
	assert.Equal(t, "req-1", got.LastUsedRequestID)
}

func TestMemoryStore_Requests(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.PutRequest(CarouselRequest{ID: "b", Format: "Carousel", Status: "Requested", UpdatedAt: base.Add(time.Minute)})
	m.PutRequest(CarouselRequest{ID: "a", Format: "Carousel", Status: "Requested", UpdatedAt: base})
	m.PutRequest(CarouselRequest{ID: "c", Format: "Reel", Status: "Requested", UpdatedAt: base})
	m.PutRequest(CarouselRequest{ID: "d", Format: "Carousel", Status: "Complete", UpdatedAt: base})

	pending, err := m.ListPending(ctx, "Carousel", []string{"Requested"}, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)

	pending, err = m.ListPending(ctx, "Carousel", []string{"Requested"}, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, m.UpdateRequestStatus(ctx, "a", StatusUpdate{Status: "Generating"}))
	require.NoError(t, m.UpdateRequestStatus(ctx, "a", StatusUpdate{Status: "Complete", AssetURL: "https://cdn/acme/a/"}))
	got, err := m.GetRequest(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Complete", got.Status)
	assert.Equal(t, "https://cdn/acme/a/", got.AssetURL)
	assert.Equal(t, []string{"Generating", "Complete"}, m.History["a"])

	_, err = m.GetRequest(ctx, "zzz")
	assert.ErrorIs(t, err, errs.ErrRequestNotFound)

	boom := errors.New("store offline")
	m.FailStatus["Failed"] = boom
	assert.ErrorIs(t, m.UpdateRequestStatus(ctx, "b", StatusUpdate{Status: "Failed"}), boom)
}
