package callrecords

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and early development. It
// mirrors the Postgres semantics: duplicate insert errors, absent rows report
// found=false, listing is newest-created-first.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]CallRecord

	// now is swappable so tests can control timestamps.
	now func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		records: map[string]CallRecord{},
		now:     time.Now,
	}
}

// SetClock overrides the repo clock. Test use only.
func (r *MemoryRepo) SetClock(now func() time.Time) { r.now = now }

func (r *MemoryRepo) Create(ctx context.Context, callID string, input JSONB) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[callID]; exists {
		return CallRecord{}, fmt.Errorf("duplicate key value violates unique constraint: %s", callID)
	}
	now := r.now().UTC()
	rec := CallRecord{
		CallID:    callID,
		InputData: input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.records[callID] = rec
	return rec, nil
}

func (r *MemoryRepo) UpdateOutput(ctx context.Context, callID string, output JSONB) (CallRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callID]
	if !ok {
		return CallRecord{}, false, nil
	}
	rec.OutputData = output
	rec.UpdatedAt = r.now().UTC()
	r.records[callID] = rec
	return rec, true, nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, callID string) (CallRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callID]
	return rec, ok, nil
}

func (r *MemoryRepo) List(ctx context.Context, limit, offset int) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]CallRecord, 0, len(r.records))
	for _, rec := range r.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].CallID > all[j].CallID
	})

	if offset >= len(all) {
		return []CallRecord{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *MemoryRepo) Delete(ctx context.Context, callID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[callID]; !ok {
		return false, nil
	}
	delete(r.records, callID)
	return true, nil
}
