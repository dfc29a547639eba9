package model

import (
	"slices"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/event"
)

// Factory turns plain data into a model when it is added to a collection.
type Factory func(data map[string]any) (*Model, error)

// Comparator orders models in a sorted collection, like cmp.Compare.
type Comparator func(a, b *Model) int

// CollectionOption configures a Collection.
type CollectionOption func(*Collection)

// WithFactory replaces the default factory, which is the collection type's New.
func WithFactory(f Factory) CollectionOption {
	return func(c *Collection) { c.factory = f }
}

// WithComparator keeps the collection sorted after every insertion.
func WithComparator(cmp Comparator) CollectionOption {
	return func(c *Collection) { c.comparator = cmp }
}

// Collection is an ordered set of models of one type, indexed by client id
// and by id. It relays every event of its members.
type Collection struct {
	event.Observable

	typ        *Type
	clientID   string
	factory    Factory
	comparator Comparator

	models     []*Model
	byClientID map[string]*Model
	byID       map[string]*Model
	idKeys     map[string]string
	subs       map[string][]*event.Subscription

	modified  bool
	committed []*Model
}

// NewCollection creates an empty collection of models of type t.
func NewCollection(t *Type, opts ...CollectionOption) *Collection {
	c := &Collection{
		typ:        t,
		clientID:   newClientID(),
		byClientID: make(map[string]*Model),
		byID:       make(map[string]*Model),
		idKeys:     make(map[string]string),
		subs:       make(map[string][]*event.Subscription),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.factory == nil {
		c.factory = t.New
	}
	return c
}

// Type returns the member type.
func (c *Collection) Type() *Type { return c.typ }

// ClientID returns the process-unique token assigned at construction.
func (c *Collection) ClientID() string { return c.clientID }

// Len returns the number of members.
func (c *Collection) Len() int { return len(c.models) }

// At returns the member at index i, or nil when out of range.
func (c *Collection) At(i int) *Model {
	if i < 0 || i >= len(c.models) {
		return nil
	}
	return c.models[i]
}

// Models returns a copy of the members in order.
func (c *Collection) Models() []*Model {
	return slices.Clone(c.models)
}

// Get returns the member with the given id, or nil.
func (c *Collection) Get(id any) *Model {
	if id == nil {
		return nil
	}
	return c.byID[idKey(id)]
}

// GetByClientID returns the member with the given client id, or nil.
func (c *Collection) GetByClientID(clientID string) *Model {
	return c.byClientID[clientID]
}

// Contains reports whether m is a member.
func (c *Collection) Contains(m *Model) bool {
	return m != nil && c.byClientID[m.clientID] == m
}

// IndexOf returns the position of m, or -1.
func (c *Collection) IndexOf(m *Model) int {
	if !c.Contains(m) {
		return -1
	}
	return slices.Index(c.models, m)
}

// Add appends items. Each item is a *Model or a map[string]any passed to
// the factory. Items already present are skipped. One "add" event lists
// the newly inserted models.
func (c *Collection) Add(items ...any) error {
	return c.insert(len(c.models), false, items)
}

// Insert places items at index, clamped to [0, Len]. Items already present
// are moved to the running index and reported with a "reorder" event each
// instead of being counted in "add".
func (c *Collection) Insert(index int, items ...any) error {
	return c.insert(index, true, items)
}

func (c *Collection) insert(index int, explicit bool, items []any) error {
	models := make([]*Model, 0, len(items))
	for _, item := range items {
		m, err := c.coerce(item)
		if err != nil {
			return err
		}
		models = append(models, m)
	}

	index = max(0, min(index, len(c.models)))
	var (
		added []*Model
		moved bool
	)
	for _, m := range models {
		if c.Contains(m) {
			if !explicit {
				continue
			}
			from := slices.Index(c.models, m)
			c.models = slices.Delete(c.models, from, from+1)
			if from < index {
				index--
			}
			index = min(index, len(c.models))
			c.models = slices.Insert(c.models, index, m)
			if index != from {
				moved = true
			}
			c.Fire("reorder", c, m, index, from)
			index++
			continue
		}
		c.models = slices.Insert(c.models, index, m)
		c.register(m)
		added = append(added, m)
		index++
	}

	if len(added) == 0 && !moved {
		return nil
	}
	c.modified = true
	if c.comparator != nil {
		slices.SortStableFunc(c.models, c.comparator)
	}
	if len(added) > 0 {
		c.Fire("add", c, added)
	}
	return nil
}

func (c *Collection) coerce(item any) (*Model, error) {
	switch v := item.(type) {
	case *Model:
		if v == nil {
			return nil, errors.Newf("cannot add nil model to collection of %s", c.typ.name)
		}
		if !v.typ.IsA(c.typ) {
			return nil, errors.Newf("cannot add %s to collection of %s", v.typ.name, c.typ.name)
		}
		return v, nil
	case map[string]any:
		return c.factory(v)
	}
	return nil, errors.Mark(errors.Newf("cannot add %T to collection of %s", item, c.typ.name), errors.ErrConversion)
}

// sync makes the membership match items while keeping existing instances.
// Plain data is merged into the member with the same id, or into the member
// at the same position when neither carries an id. Anything unmatched goes
// through the factory, and members no item claimed are removed.
func (c *Collection) sync(items []any) error {
	claimed := make(map[string]bool, len(items))
	desired := make([]*Model, 0, len(items))
	for i, item := range items {
		m, err := c.match(i, item, claimed)
		if err != nil {
			return err
		}
		if claimed[m.clientID] {
			continue
		}
		claimed[m.clientID] = true
		desired = append(desired, m)
	}

	var stale []*Model
	for _, m := range c.models {
		if !claimed[m.clientID] {
			stale = append(stale, m)
		}
	}
	c.Remove(stale...)

	for i, m := range desired {
		if c.IndexOf(m) == i {
			continue
		}
		if err := c.Insert(i, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) match(i int, item any, claimed map[string]bool) (*Model, error) {
	data, ok := item.(map[string]any)
	if !ok {
		return c.coerce(item)
	}
	var candidate *Model
	if raw := data[c.typ.idAttribute]; raw != nil {
		id := raw
		if idAttr, ok := c.typ.attributes[c.typ.idAttribute]; ok && !idAttr.IsComposite() {
			if converted, err := idAttr.builtin(nil, raw, nil); err == nil {
				id = converted
			}
		}
		candidate = c.Get(id)
	} else if i < len(c.models) {
		if id, err := c.models[i].ID(); err != nil || id == nil {
			candidate = c.models[i]
		}
	}
	if candidate == nil || claimed[candidate.clientID] {
		return c.coerce(item)
	}
	if err := candidate.SetValues(data); err != nil {
		return nil, err
	}
	return candidate, nil
}

// Remove drops the given members and fires one "remove" event with the
// models that were actually members.
func (c *Collection) Remove(models ...*Model) {
	var removed []*Model
	for _, m := range models {
		if !c.Contains(m) {
			continue
		}
		i := slices.Index(c.models, m)
		c.models = slices.Delete(c.models, i, i+1)
		c.unregister(m)
		removed = append(removed, m)
	}
	if len(removed) == 0 {
		return
	}
	c.modified = true
	c.Fire("remove", c, removed)
}

// Sort re-sorts the members with the comparator and fires "sort".
// Without a comparator it does nothing.
func (c *Collection) Sort() {
	if c.comparator == nil {
		return
	}
	before := slices.Clone(c.models)
	slices.SortStableFunc(c.models, c.comparator)
	if !slices.Equal(before, c.models) {
		c.modified = true
	}
	c.Fire("sort", c)
}

func (c *Collection) register(m *Model) {
	c.byClientID[m.clientID] = m
	c.indexID(m)

	subs := []*event.Subscription{
		m.On("change:"+m.typ.idAttribute, func(...any) bool {
			c.indexID(m)
			return true
		}),
		m.On(event.All, func(args ...any) bool {
			name, _ := args[0].(string)
			c.Fire(name, args[1:]...)
			if name == "destroy" {
				c.Remove(m)
			}
			return true
		}),
	}
	c.subs[m.clientID] = subs
}

func (c *Collection) unregister(m *Model) {
	for _, s := range c.subs[m.clientID] {
		s.Cancel()
	}
	delete(c.subs, m.clientID)
	c.unindexID(m)
	delete(c.byClientID, m.clientID)
}

// indexID re-keys m in the id index after its id changed.
func (c *Collection) indexID(m *Model) {
	c.unindexID(m)
	id, err := m.ID()
	if err != nil || id == nil {
		return
	}
	key := idKey(id)
	c.byID[key] = m
	c.idKeys[m.clientID] = key
}

func (c *Collection) unindexID(m *Model) {
	key, ok := c.idKeys[m.clientID]
	if !ok {
		return
	}
	if c.byID[key] == m {
		delete(c.byID, key)
	}
	delete(c.idKeys, m.clientID)
}

// IsModified reports whether membership or order changed since the last
// commit or rollback, or any member is modified.
func (c *Collection) IsModified() bool {
	return c.modifiedVisit(map[string]bool{})
}

func (c *Collection) modifiedVisit(seen map[string]bool) bool {
	if seen[c.clientID] {
		return false
	}
	seen[c.clientID] = true
	if c.modified {
		return true
	}
	for _, m := range c.models {
		if m.modifiedVisit(seen) {
			return true
		}
	}
	return false
}

// Commit records the current membership and order, commits every member
// and fires "commit".
func (c *Collection) Commit() {
	c.commitVisit(map[string]bool{})
}

func (c *Collection) commitVisit(seen map[string]bool) {
	if seen[c.clientID] {
		return
	}
	seen[c.clientID] = true

	c.committed = slices.Clone(c.models)
	c.modified = false
	for _, m := range c.models {
		m.commitVisit(seen)
	}
	c.Fire("commit", c)
}

// settle takes the current membership as the committed baseline without
// touching members.
func (c *Collection) settle() {
	c.committed = slices.Clone(c.models)
	c.modified = false
}

// Rollback restores the committed membership and order, rolls back every
// member and fires "rollback".
func (c *Collection) Rollback() {
	c.rollbackVisit(map[string]bool{})
}

func (c *Collection) rollbackVisit(seen map[string]bool) {
	if seen[c.clientID] {
		return
	}
	seen[c.clientID] = true

	if c.modified {
		keep := make(map[string]bool, len(c.committed))
		for _, m := range c.committed {
			keep[m.clientID] = true
		}
		for _, m := range c.models {
			if !keep[m.clientID] {
				c.unregister(m)
			}
		}
		for _, m := range c.committed {
			if !c.Contains(m) {
				c.register(m)
			}
		}
		c.models = slices.Clone(c.committed)
		c.modified = false
	}
	for _, m := range c.models {
		m.rollbackVisit(seen)
	}
	c.Fire("rollback", c)
}

// Data converts the collection to plain data. See Convert.
func (c *Collection) Data(opts ConvertOptions) ([]any, error) {
	out, err := Convert(c, opts)
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}
