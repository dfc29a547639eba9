package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"weak"

	"github.com/teranos/datagraph/errors"
)

// EvictionPolicy decides how long the identity cache keeps instances alive.
type EvictionPolicy int

const (
	// EvictNever holds strong references; entries live until Release or Clear.
	EvictNever EvictionPolicy = iota
	// EvictWeak holds weak references; an instance nothing else references
	// is collected and its entry disappears.
	EvictWeak
)

func (p EvictionPolicy) String() string {
	switch p {
	case EvictNever:
		return "none"
	case EvictWeak:
		return "weak"
	}
	return "unknown"
}

// ParseEvictionPolicy reads the configuration spelling of a policy.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "never":
		return EvictNever, nil
	case "weak":
		return EvictWeak, nil
	}
	return EvictNever, errors.Newf("unknown eviction policy %q", s)
}

type cacheKey struct {
	typ string
	id  string
}

type cacheEntry struct {
	strong *Model
	weak   weak.Pointer[Model]
}

// IdentityCache maps (type, id) to the single live instance for it.
// It is safe for concurrent use. The lock is never held while merging data
// into a cached instance, so construction nested inside a merge works.
type IdentityCache struct {
	mu      sync.Mutex
	policy  EvictionPolicy
	entries map[cacheKey]cacheEntry
}

// NewIdentityCache creates an empty cache with the given policy.
func NewIdentityCache(policy EvictionPolicy) *IdentityCache {
	return &IdentityCache{
		policy:  policy,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Policy returns the eviction policy.
func (c *IdentityCache) Policy() EvictionPolicy { return c.policy }

// Resolve returns the instance to use for (t, id). A nil id leaves the
// candidate uncached. An unknown key registers the candidate. A known key
// merges initial into the cached instance with SetValues and returns it;
// the caller must abandon the candidate when the result differs.
func (c *IdentityCache) Resolve(t *Type, id any, candidate *Model, initial map[string]any) (*Model, error) {
	if id == nil {
		return candidate, nil
	}
	key := cacheKey{typ: t.name, id: idKey(id)}

	c.mu.Lock()
	existing := c.load(key)
	if existing == nil {
		c.store(key, candidate)
		c.mu.Unlock()
		return candidate, nil
	}
	c.mu.Unlock()

	if existing == candidate || len(initial) == 0 {
		return existing, nil
	}
	return existing, existing.SetValues(initial)
}

// Lookup returns the cached instance for (t, id), or nil.
func (c *IdentityCache) Lookup(t *Type, id any) *Model {
	if id == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(cacheKey{typ: t.name, id: idKey(id)})
}

// Release drops the entry for (t, id). It reports whether one existed.
func (c *IdentityCache) Release(t *Type, id any) bool {
	if id == nil {
		return false
	}
	key := cacheKey{typ: t.name, id: idKey(id)}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// adopt registers m under its current id unless that key is taken. It is
// used once a model receives its id from a proxy.
func (c *IdentityCache) adopt(m *Model) {
	id, err := m.ID()
	if err != nil || id == nil {
		return
	}
	key := cacheKey{typ: m.typ.name, id: idKey(id)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.load(key) == nil {
		c.store(key, m)
	}
}

// releaseIf drops the entry only while it still points at m.
func (c *IdentityCache) releaseIf(t *Type, id any, m *Model) {
	if id == nil {
		return
	}
	key := cacheKey{typ: t.name, id: idKey(id)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.load(key) == m {
		delete(c.entries, key)
	}
}

// Clear drops every entry.
func (c *IdentityCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]cacheEntry)
}

// Len returns the number of live entries, pruning collected ones.
func (c *IdentityCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		c.load(key)
	}
	return len(c.entries)
}

// load must be called with mu held.
func (c *IdentityCache) load(key cacheKey) *Model {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if e.strong != nil {
		return e.strong
	}
	m := e.weak.Value()
	if m == nil {
		delete(c.entries, key)
	}
	return m
}

// store must be called with mu held.
func (c *IdentityCache) store(key cacheKey, m *Model) {
	if c.policy == EvictWeak {
		c.entries[key] = cacheEntry{weak: weak.Make(m)}
		return
	}
	c.entries[key] = cacheEntry{strong: m}
}

// idKey normalizes an id so numerically equal ids of different Go types
// (5, int64(5), 5.0) share one key, and "5" stays distinct from 5.
func idKey(id any) string {
	switch v := id.(type) {
	case string:
		return "s:" + v
	case bool:
		return "b:" + strconv.FormatBool(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "s:" + string(v)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f, _ := toNumber(v)
		return "n:" + strconv.FormatFloat(f.(float64), 'g', -1, 64)
	}
	return fmt.Sprintf("%T:%v", id, id)
}

// sameEntity reports whether plain data describes m rather than another
// entity. Data that leaves the id out always matches.
func (m *Model) sameEntity(data map[string]any) (bool, error) {
	idAttr, ok := m.typ.attributes[m.typ.idAttribute]
	if !ok {
		return true, nil
	}
	raw, provided := data[m.typ.idAttribute]
	if !provided {
		return true, nil
	}
	cur := m.data[m.typ.idAttribute]
	if raw == nil || cur == nil {
		return raw == nil && cur == nil, nil
	}
	id, err := idAttr.builtin(m, raw, cur)
	if err != nil {
		return false, err
	}
	return idKey(id) == idKey(cur), nil
}
