// Package memproxy keeps records in process memory.
package memproxy

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/proxy"
)

// Store is a goroutine-safe in-memory record store
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]map[string]any // type -> id -> record
}

// New creates an empty store
func New() *Store {
	return &Store{records: make(map[string]map[string]map[string]any)}
}

// Create stores data under a fresh uuid, written into the id attribute.
func (s *Store) Create(ctx context.Context, key proxy.Key, data map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	record := clone(data)
	id := uuid.NewString()
	record[key.IDAttribute] = id

	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.records[key.Type]
	if !ok {
		byID = make(map[string]map[string]any)
		s.records[key.Type] = byID
	}
	byID[id] = record
	return clone(record), nil
}

func (s *Store) Read(ctx context.Context, key proxy.Key) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key.Type][key.ID]
	if !ok {
		return nil, errors.NewNotFoundError("%s %s not found", key.Type, key.ID)
	}
	return clone(record), nil
}

// Update replaces an existing record.
func (s *Store) Update(ctx context.Context, key proxy.Key, data map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key.Type][key.ID]; !ok {
		return nil, errors.NewNotFoundError("%s %s not found", key.Type, key.ID)
	}
	record := clone(data)
	s.records[key.Type][key.ID] = record
	return clone(record), nil
}

func (s *Store) Delete(ctx context.Context, key proxy.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key.Type][key.ID]; !ok {
		return errors.NewNotFoundError("%s %s not found", key.Type, key.ID)
	}
	delete(s.records[key.Type], key.ID)
	return nil
}

// List returns the type's records ordered by id
func (s *Store) List(ctx context.Context, typ string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.records[typ]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]map[string]any, len(ids))
	for i, id := range ids {
		out[i] = clone(byID[id])
	}
	return out, nil
}

// Len returns the number of records of a type
func (s *Store) Len(typ string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[typ])
}

// clone copies nested maps and slices so callers never share state with
// the store. Shared and cyclic references in snapshots are preserved.
func clone(data map[string]any) map[string]any {
	c := cloner{seen: make(map[uintptr]map[string]any)}
	return c.mapValue(data)
}

type cloner struct {
	seen map[uintptr]map[string]any
}

func (c cloner) mapValue(data map[string]any) map[string]any {
	ptr := reflect.ValueOf(data).Pointer()
	if out, ok := c.seen[ptr]; ok {
		return out
	}
	out := make(map[string]any, len(data))
	c.seen[ptr] = out
	for k, v := range data {
		out[k] = c.value(v)
	}
	return out
}

func (c cloner) value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return c.mapValue(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = c.value(item)
		}
		return out
	}
	return v
}
