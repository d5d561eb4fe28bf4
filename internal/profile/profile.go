// Package profile is the upsert-only adapter over client project records.
package profile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carousel-engine/internal/db"
	"carousel-engine/internal/errs"
	"carousel-engine/internal/models"
	"carousel-engine/internal/retry"

	"github.com/rs/zerolog/log"
)

// Adapter guarantees at most one record per project key. Writes for the same
// key are serialized in-process; across processes the store's unique index
// turns a racing insert into an update.
type Adapter struct {
	store db.ProjectStore
	retry retry.Config
	locks *keyedMutex
	now   func() time.Time
}

func NewAdapter(store db.ProjectStore, rc retry.Config) *Adapter {
	return &Adapter{
		store: store,
		retry: rc,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// UpsertContext updates the record for projectKey in place, or creates it.
// It reports whether a new record was created.
func (a *Adapter) UpsertContext(ctx context.Context, projectKey string, c models.ClientContext) (bool, error) {
	projectKey = strings.TrimSpace(projectKey)
	if projectKey == "" {
		return false, errs.E(errs.KindInputValidation, "upsert context",
			fmt.Errorf("empty project key: %w", errs.ErrInvalidInput))
	}

	unlock := a.locks.Lock(projectKey)
	defer unlock()

	var existing *db.ClientProject
	err := retry.Do(ctx, a.retry, func(ctx context.Context) error {
		var err error
		existing, err = a.store.FindProject(ctx, projectKey)
		return err
	})
	if err != nil && errs.KindOf(err) != errs.KindNotFound {
		return false, fmt.Errorf("upsert context %q: %w", projectKey, err)
	}

	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = a.now()
	}
	record := &db.ClientProject{
		ProjectKey:        projectKey,
		SystemMessage:     c.SystemMessage,
		SourceDocumentIDs: c.SourceDocumentIDs,
		Uploaded:          true,
		UpdatedAt:         updatedAt,
	}

	if existing != nil {
		err = retry.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.store.UpdateProject(ctx, record)
		})
		if err != nil {
			return false, fmt.Errorf("update context %q: %w", projectKey, err)
		}
		log.Info().Str("project_key", projectKey).Int64("id", existing.ID).Msg("Updated client context")
		return false, nil
	}

	record.CreatedAt = updatedAt
	err = retry.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.store.InsertProject(ctx, record)
	})
	if err != nil {
		return false, fmt.Errorf("create context %q: %w", projectKey, err)
	}
	log.Info().Str("project_key", projectKey).Int64("id", record.ID).Msg("Created client context")
	return true, nil
}

// GetContext returns the stored context or ErrContextNotFound. A record that
// exists without a system message counts as not found.
func (a *Adapter) GetContext(ctx context.Context, projectKey string) (models.ClientContext, error) {
	var p *db.ClientProject
	err := retry.Do(ctx, a.retry, func(ctx context.Context) error {
		var err error
		p, err = a.store.FindProject(ctx, projectKey)
		return err
	})
	if err != nil {
		return models.ClientContext{}, err
	}
	if strings.TrimSpace(p.SystemMessage) == "" {
		return models.ClientContext{}, errs.E(errs.KindNotFound, "get context",
			fmt.Errorf("%q has no system message: %w", projectKey, errs.ErrContextNotFound))
	}
	return models.ClientContext{
		ProjectKey:        p.ProjectKey,
		SystemMessage:     p.SystemMessage,
		SourceDocumentIDs: p.SourceDocumentIDs,
		UpdatedAt:         p.UpdatedAt,
	}, nil
}

// MarkUsed records which request last consumed the context. Failures are
// logged only.
func (a *Adapter) MarkUsed(ctx context.Context, projectKey, requestID string) {
	if err := a.store.MarkProjectUsed(ctx, projectKey, requestID, a.now()); err != nil {
		log.Warn().Err(err).Str("project_key", projectKey).Str("request_id", requestID).Msg("Failed to record context usage")
	}
}
