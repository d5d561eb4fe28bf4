package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"carousel-engine/internal/errs"
)

// MemoryStore is an in-process ProjectStore and RequestStore for tests and
// dry runs. Nothing is written to disk.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	projects map[string]ClientProject
	requests map[string]CarouselRequest

	// Inserts counts InsertProject calls.
	Inserts int
	// History records every status written per request id.
	History map[string][]string
	// FailStatus makes UpdateRequestStatus fail when writing that status.
	FailStatus map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:   make(map[string]ClientProject),
		requests:   make(map[string]CarouselRequest),
		History:    make(map[string][]string),
		FailStatus: make(map[string]error),
	}
}

// PutRequest seeds a request as an external system would.
func (m *MemoryStore) PutRequest(r CarouselRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	m.requests[r.ID] = r
}

// ProjectCount returns how many records exist for projectKey.
func (m *MemoryStore) ProjectCount(projectKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[projectKey]; ok {
		return 1
	}
	return 0
}

func (m *MemoryStore) FindProject(ctx context.Context, projectKey string) (*ClientProject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectKey]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "find project", fmt.Errorf("%q: %w", projectKey, errs.ErrContextNotFound))
	}
	p.SourceDocumentIDs = append([]string(nil), p.SourceDocumentIDs...)
	return &p, nil
}

func (m *MemoryStore) InsertProject(ctx context.Context, p *ClientProject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Inserts++
	if existing, ok := m.projects[p.ProjectKey]; ok {
		// same outcome as ON CONFLICT DO UPDATE
		existing.SystemMessage = p.SystemMessage
		existing.SourceDocumentIDs = p.SourceDocumentIDs
		existing.Uploaded = p.Uploaded
		existing.UpdatedAt = p.UpdatedAt
		m.projects[p.ProjectKey] = existing
		p.ID = existing.ID
		return nil
	}
	m.nextID++
	p.ID = m.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.projects[p.ProjectKey] = *p
	return nil
}

func (m *MemoryStore) UpdateProject(ctx context.Context, p *ClientProject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.projects[p.ProjectKey]
	if !ok {
		return errs.E(errs.KindNotFound, "update project", fmt.Errorf("%q: %w", p.ProjectKey, errs.ErrContextNotFound))
	}
	existing.SystemMessage = p.SystemMessage
	existing.SourceDocumentIDs = p.SourceDocumentIDs
	existing.Uploaded = p.Uploaded
	existing.UpdatedAt = p.UpdatedAt
	m.projects[p.ProjectKey] = existing
	return nil
}

func (m *MemoryStore) MarkProjectUsed(ctx context.Context, projectKey, requestID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[projectKey]; ok {
		p.LastUsedRequestID = requestID
		p.LastUsedAt = at
		m.projects[projectKey] = p
	}
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*CarouselRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, errs.E(errs.KindNotFound, "get request", fmt.Errorf("%q: %w", id, errs.ErrRequestNotFound))
	}
	return &r, nil
}

func (m *MemoryStore) UpdateRequestStatus(ctx context.Context, id string, update StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailStatus[update.Status]; err != nil {
		return err
	}
	r, ok := m.requests[id]
	if !ok {
		return errs.E(errs.KindNotFound, "update request status", fmt.Errorf("%q: %w", id, errs.ErrRequestNotFound))
	}
	r.Status = update.Status
	r.Reason = update.Reason
	if update.AssetURL != "" {
		r.AssetURL = update.AssetURL
	}
	r.UpdatedAt = time.Now().UTC()
	m.requests[id] = r
	m.History[id] = append(m.History[id], update.Status)
	return nil
}

func (m *MemoryStore) ListPending(ctx context.Context, format string, statuses []string, limit int) ([]CarouselRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []CarouselRequest
	for _, r := range m.requests {
		if r.Format == format && want[r.Status] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
