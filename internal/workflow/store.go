package workflow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store holds workflow records. Implementations serialize mutations of one
// id and return copies so callers never share state with the store.
type Store interface {
	Create(ctx context.Context, seed Seed) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, id string, fields ...Field) (*Record, error)
	Mutate(ctx context.Context, id string, fn func(*Record) error) (*Record, error)
	AppendMessage(ctx context.Context, id string, role Role, content string, metadata map[string]string) (*Record, error)
	Reset(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Field sets one record field inside Update.
type Field func(*Record)

func SetStatus(s Status) Field           { return func(r *Record) { r.Status = s } }
func SetPhase(p Phase) Field             { return func(r *Record) { r.Phase = p } }
func SetRetryCount(n int) Field          { return func(r *Record) { r.RetryCount = n } }
func SetLastError(msg *string) Field     { return func(r *Record) { r.LastError = msg } }
func SetUserFeedback(text *string) Field { return func(r *Record) { r.UserFeedback = text } }

// SetContent stores content for a document phase.
func SetContent(p Phase, content string) Field {
	return func(r *Record) { r.setContent(p, content) }
}

// SetGeneratedFiles replaces the final document map.
func SetGeneratedFiles(files map[string]string) Field {
	return func(r *Record) { r.GeneratedFiles = files }
}

type storeEntry struct {
	mu      sync.Mutex
	rec     *Record
	seq     uint64
	deleted bool
}

// MemoryStore is the in-process Store. A map-level RWMutex guards the id
// index and a per-entry mutex serializes read-modify-write on one id, so
// distinct workflows never wait on each other.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*storeEntry
	seq     uint64
	closed  bool
	now     func() time.Time
}

// StoreOption configures a MemoryStore.
type StoreOption func(*MemoryStore)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*storeEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create adds a record in status initializing, phase requirements.
func (s *MemoryStore) Create(ctx context.Context, seed Seed) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if seed.ID == "" {
		return nil, ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, exists := s.entries[seed.ID]; exists {
		return nil, ErrAlreadyExists
	}

	now := s.now()
	rec := &Record{
		ID:                  seed.ID,
		FeatureName:         seed.FeatureName,
		InitialDescription:  seed.InitialDescription,
		LLMProvider:         seed.LLMProvider,
		ModelName:           seed.ModelName,
		ResearchEnabled:     seed.ResearchEnabled,
		Status:              StatusInitializing,
		Phase:               PhaseRequirements,
		ConversationHistory: []Message{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.seq++
	s.entries[seed.ID] = &storeEntry{rec: rec, seq: s.seq}
	return rec.Clone(), nil
}

// Get returns a copy of the record.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, ErrNotFound
	}
	return e.rec.Clone(), nil
}

// Update applies fields and bumps UpdatedAt.
func (s *MemoryStore) Update(ctx context.Context, id string, fields ...Field) (*Record, error) {
	return s.Mutate(ctx, id, func(r *Record) error {
		for _, f := range fields {
			f(r)
		}
		return nil
	})
}

// Mutate runs fn on a copy of the record while holding the record's lock.
// The copy is committed only if fn succeeds and the result validates.
func (s *MemoryStore) Mutate(ctx context.Context, id string, fn func(*Record) error) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, ErrNotFound
	}

	next := e.rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	next.ID = e.rec.ID
	next.CreatedAt = e.rec.CreatedAt
	if now := s.now(); now.After(e.rec.UpdatedAt) {
		next.UpdatedAt = now
	} else {
		next.UpdatedAt = e.rec.UpdatedAt
	}

	e.rec = next
	return next.Clone(), nil
}

// AppendMessage adds a message to the conversation history.
func (s *MemoryStore) AppendMessage(ctx context.Context, id string, role Role, content string, metadata map[string]string) (*Record, error) {
	return s.Mutate(ctx, id, func(r *Record) error {
		r.Append(role, content, metadata, s.now())
		return nil
	})
}

// Reset returns the record to its initial state, keeping its history.
func (s *MemoryStore) Reset(ctx context.Context, id string) (*Record, error) {
	return s.Mutate(ctx, id, func(r *Record) error {
		ResetRecord(r)
		return nil
	})
}

// Delete removes the record. It reports whether a record was removed.
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	e, ok := s.entries[id]
	if !ok {
		return false, nil
	}
	delete(s.entries, id)

	// Wait out any in-flight mutation.
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return true, nil
}

// List returns all ids ordered by creation.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	type idSeq struct {
		id  string
		seq uint64
	}
	all := make([]idSeq, 0, len(s.entries))
	for id, e := range s.entries {
		all = append(all, idSeq{id, e.seq})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	ids := make([]string, len(all))
	for i, v := range all {
		ids[i] = v.id
	}
	return ids, nil
}

// Close drops all records. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = make(map[string]*storeEntry)
	return nil
}

func (s *MemoryStore) entry(id string) (*storeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}
