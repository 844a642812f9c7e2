package activity

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type recordKey struct {
	subject, user int64
	typ           RecordType
}

// MemoryStore keeps records in a map. Every write happens under one mutex,
// so the check-then-act upsert is atomic.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
	nextID  int64
	now     func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{records: map[recordKey]Record{}, now: now}
}

func (m *MemoryStore) FindRecord(_ context.Context, subjectID, userID int64, typ RecordType) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[recordKey{subjectID, userID, typ}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(r), nil
}

func (m *MemoryStore) UpsertRecord(_ context.Context, u Upsert) (int64, error) {
	if u.Type == "" {
		return 0, errors.New("activity: record type required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	k := recordKey{u.SubjectID, u.UserID, u.Type}
	r, ok := m.records[k]
	if !ok {
		if u.Status == "" {
			return 0, errors.New("activity: status required on create")
		}
		m.nextID++
		r = Record{
			ID: m.nextID, SubjectID: u.SubjectID, UserID: u.UserID, Type: u.Type,
			CreatedAt: now, Meta: map[string]any{},
		}
	} else if u.RefreshTimestamp {
		r.CreatedAt = now
	}
	if u.Status != "" {
		r.Status = u.Status
	}
	r.UpdatedAt = now
	r.Meta = applyPatch(cloneMeta(r.Meta), u.Patch)
	m.records[k] = r
	return r.ID, nil
}

func (m *MemoryStore) QueryRecords(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if f.matches(r) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteRecord(_ context.Context, subjectID, userID int64, typ RecordType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordKey{subjectID, userID, typ})
	return nil
}

func cloneRecord(r Record) Record {
	r.Meta = cloneMeta(r.Meta)
	return r
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
