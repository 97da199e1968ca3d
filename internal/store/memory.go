package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository in-process run history (DATABASE_URL 미설정 시)
type MemoryRepository struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]RunRecord
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: make(map[uuid.UUID]RunRecord)}
}

// SaveRun stores a copy of run
func (r *MemoryRepository) SaveRun(_ context.Context, run *RunRecord) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

// GetRun retrieves a run by id
func (r *MemoryRepository) GetRun(_ context.Context, id uuid.UUID) (*RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &run, nil
}

// ListRuns most recent runs first
func (r *MemoryRepository) ListRuns(_ context.Context, limit int) ([]RunRecord, error) {
	r.mu.RLock()
	runs := make([]RunRecord, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if n := normalizeLimit(limit); len(runs) > n {
		runs = runs[:n]
	}
	return runs, nil
}
