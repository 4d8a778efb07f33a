package store

import (
	"bytes"
	"context"
	"sync"
)

type memoryStore struct {
	mu       sync.RWMutex
	values   map[string]Record
	onChange func(Event)
}

// NewMemoryStore creates an in-memory Store. onChange, if non-nil, is
// invoked synchronously inside the write lock for every actual mutation —
// this is what lets an Engine drive the Advertiser deterministically under a
// single-writer discipline.
func NewMemoryStore(onChange func(Event)) Store {
	if onChange == nil {
		onChange = func(Event) {}
	}
	return &memoryStore{
		values:   make(map[string]Record),
		onChange: onChange,
	}
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Value, nil
}

func (s *memoryStore) Insert(ctx context.Context, key string, value []byte) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.values[key]
	if !exists {
		s.values[key] = Record{Value: cloneBytes(value), Version: 0}
		s.onChange(Event{Kind: Changed, Key: key, Value: value, Version: 0})
		return 0, nil
	}
	if bytes.Equal(current.Value, value) {
		return current.Version, nil
	}
	newVersion := current.Version + 1
	s.values[key] = Record{Value: cloneBytes(value), Version: newVersion}
	s.onChange(Event{
		Kind: Changed, Key: key, Value: value, Version: newVersion,
		OldVersion: current.Version, HasOld: true,
	})
	return newVersion, nil
}

func (s *memoryStore) Remove(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.values[key]
	if !ok {
		return false, nil
	}
	delete(s.values, key)
	s.onChange(Event{Kind: Removed, Key: key, Version: current.Version})
	return true, nil
}

func (s *memoryStore) ApplyRemote(ctx context.Context, key string, value []byte, version uint16) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.values[key]
	switch {
	case !exists:
		// accepted
	case NewerVersion(current.Version, version):
		// accepted, strictly newer
	case current.Version == version && bytes.Equal(current.Value, value):
		return true, nil // idempotent tie, no change to announce
	default:
		return false, nil // stale or conflicting tie: discard
	}

	old := current
	s.values[key] = Record{Value: cloneBytes(value), Version: version}
	event := Event{Kind: Changed, Key: key, Value: value, Version: version}
	if exists {
		event.OldVersion = old.Version
		event.HasOld = true
	}
	s.onChange(event)
	return true, nil
}

func (s *memoryStore) RemoteWithdraw(ctx context.Context, key string, version uint16) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.values[key]
	if !ok || current.Version != version {
		return false, nil
	}
	delete(s.values, key)
	s.onChange(Event{Kind: Removed, Key: key, Version: version})
	return true, nil
}

func (s *memoryStore) Snapshot(ctx context.Context) (map[string]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.values))
	for k, v := range s.values {
		out[k] = Record{Value: cloneBytes(v.Value), Version: v.Version}
	}
	return out, nil
}

func (s *memoryStore) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values), nil
}

func (s *memoryStore) Range(ctx context.Context, fn func(key string, record Record) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.values {
		if !fn(k, v) {
			break
		}
	}
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
