package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carousel-engine/internal/errs"

	"github.com/uptrace/bun"
)

// ProjectStore reads and writes client project records.
type ProjectStore interface {
	FindProject(ctx context.Context, projectKey string) (*ClientProject, error)
	InsertProject(ctx context.Context, p *ClientProject) error
	UpdateProject(ctx context.Context, p *ClientProject) error
	MarkProjectUsed(ctx context.Context, projectKey, requestID string, at time.Time) error
}

// RequestStore reads carousel requests and moves their status.
type RequestStore interface {
	GetRequest(ctx context.Context, id string) (*CarouselRequest, error)
	UpdateRequestStatus(ctx context.Context, id string, update StatusUpdate) error
	ListPending(ctx context.Context, format string, statuses []string, limit int) ([]CarouselRequest, error)
}

// StatusUpdate is the set of fields written on a status transition.
type StatusUpdate struct {
	Status   string
	Reason   string
	AssetURL string
}

// Store implements ProjectStore and RequestStore on Postgres.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func storeErr(op string, err error) error {
	return errs.E(errs.KindUpstream, op, err)
}

func (s *Store) FindProject(ctx context.Context, projectKey string) (*ClientProject, error) {
	p := new(ClientProject)
	err := s.db.NewSelect().
		Model(p).
		Where("project_key = ?", projectKey).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "find project", fmt.Errorf("%q: %w", projectKey, errs.ErrContextNotFound))
	}
	if err != nil {
		return nil, storeErr("find project", err)
	}
	return p, nil
}

// InsertProject inserts a new record. A concurrent insert from another process
// for the same key turns into an update of that row.
func (s *Store) InsertProject(ctx context.Context, p *ClientProject) error {
	_, err := s.db.NewInsert().
		Model(p).
		On("CONFLICT (project_key) DO UPDATE").
		Set("system_message = EXCLUDED.system_message").
		Set("source_document_ids = EXCLUDED.source_document_ids").
		Set("uploaded = EXCLUDED.uploaded").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return storeErr("insert project", err)
	}
	return nil
}

func (s *Store) UpdateProject(ctx context.Context, p *ClientProject) error {
	res, err := s.db.NewUpdate().
		Model(p).
		Column("system_message", "source_document_ids", "uploaded", "updated_at").
		Where("project_key = ?", p.ProjectKey).
		Exec(ctx)
	if err != nil {
		return storeErr("update project", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.E(errs.KindNotFound, "update project", fmt.Errorf("%q: %w", p.ProjectKey, errs.ErrContextNotFound))
	}
	return nil
}

func (s *Store) MarkProjectUsed(ctx context.Context, projectKey, requestID string, at time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*ClientProject)(nil)).
		Set("last_used_request_id = ?", requestID).
		Set("last_used_at = ?", at).
		Where("project_key = ?", projectKey).
		Exec(ctx)
	if err != nil {
		return storeErr("mark project used", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*CarouselRequest, error) {
	r := new(CarouselRequest)
	err := s.db.NewSelect().Model(r).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.E(errs.KindNotFound, "get request", fmt.Errorf("%q: %w", id, errs.ErrRequestNotFound))
	}
	if err != nil {
		return nil, storeErr("get request", err)
	}
	return r, nil
}

func (s *Store) UpdateRequestStatus(ctx context.Context, id string, update StatusUpdate) error {
	q := s.db.NewUpdate().
		Model((*CarouselRequest)(nil)).
		Set("status = ?", update.Status).
		Set("reason = ?", update.Reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if update.AssetURL != "" {
		q = q.Set("asset_url = ?", update.AssetURL)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return storeErr("update request status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.E(errs.KindNotFound, "update request status", fmt.Errorf("%q: %w", id, errs.ErrRequestNotFound))
	}
	return nil
}

func (s *Store) ListPending(ctx context.Context, format string, statuses []string, limit int) ([]CarouselRequest, error) {
	var reqs []CarouselRequest
	q := s.db.NewSelect().
		Model(&reqs).
		Where("format = ?", format).
		Where("status IN (?)", bun.In(statuses)).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, storeErr("list pending", err)
	}
	return reqs, nil
}
