package session

import (
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	systemPrompt string
	limit        int
	now          func() time.Time

	mu      sync.RWMutex
	records map[string]*record
}

// record carries its own lock so that mutations of different sessions never
// wait on each other; the store-wide lock only guards the map itself.
type record struct {
	mu           sync.Mutex
	turns        Transcript
	createdAt    time.Time
	lastActiveAt time.Time
	deleted      bool
}

// NewMemoryStore caps every transcript at limit turns, system turn included.
// A limit below 1 is treated as 1, leaving room for the system turn only.
func NewMemoryStore(systemPrompt string, limit int) *MemoryStore {
	if limit < 1 {
		limit = 1
	}
	return &MemoryStore{
		systemPrompt: systemPrompt,
		limit:        limit,
		now: func() time.Time {
			return time.Now().UTC()
		},
		records: make(map[string]*record),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Limit() int {
	return s.limit
}

func (s *MemoryStore) GetOrCreate(key string) (Transcript, bool) {
	if rec := s.lookup(key); rec != nil {
		if turns, ok := rec.snapshot(); ok {
			return turns, false
		}
	}

	s.mu.Lock()
	rec, ok := s.records[key]
	created := false
	if !ok {
		now := s.now()
		rec = &record{
			turns:        NewTranscript(s.systemPrompt),
			createdAt:    now,
			lastActiveAt: now,
		}
		s.records[key] = rec
		created = true
	}
	s.mu.Unlock()

	turns, _ := rec.snapshot()
	return turns, created
}

func (s *MemoryStore) Get(key string) (Transcript, error) {
	rec := s.lookup(key)
	if rec == nil {
		return nil, ErrNotFound
	}
	turns, ok := rec.snapshot()
	if !ok {
		return nil, ErrNotFound
	}
	return turns, nil
}

func (s *MemoryStore) AppendAndTrim(key string, turn Turn) (Transcript, error) {
	rec := s.lookup(key)
	if rec == nil {
		return nil, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.deleted {
		return nil, ErrNotFound
	}
	rec.turns = trimTranscript(append(rec.turns, turn), s.limit)
	rec.lastActiveAt = s.now()
	return rec.turns.Clone(), nil
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	rec, ok := s.records[key]
	delete(s.records, key)
	s.mu.Unlock()

	if !ok {
		return
	}
	rec.mu.Lock()
	rec.deleted = true
	rec.turns = nil
	rec.mu.Unlock()
}

func (s *MemoryStore) Exists(key string) bool {
	return s.lookup(key) != nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot lists active sessions ordered by key.
func (s *MemoryStore) Snapshot() []SessionInfo {
	s.mu.RLock()
	recs := make(map[string]*record, len(s.records))
	for key, rec := range s.records {
		recs[key] = rec
	}
	s.mu.RUnlock()

	out := make([]SessionInfo, 0, len(recs))
	for key, rec := range recs {
		rec.mu.Lock()
		if !rec.deleted {
			out = append(out, SessionInfo{
				Key:          key,
				Turns:        len(rec.turns),
				CreatedAt:    rec.createdAt,
				LastActiveAt: rec.lastActiveAt,
			})
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *MemoryStore) lookup(key string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[key]
}

func (r *record) snapshot() (Transcript, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return nil, false
	}
	return r.turns.Clone(), true
}
