package model

import (
	"fmt"

	"github.com/teranos/datagraph/event"
	"github.com/teranos/datagraph/logger"
)

// Model is a set of attribute values with dirty tracking and change events.
// Models are created through Type.New, which may return an existing
// instance from the identity cache.
type Model struct {
	event.Observable

	typ      *Type
	clientID string

	// data holds stored values; a key is present once the attribute was set.
	data map[string]any
	// modified holds the value each attribute had before its first change
	// since the last commit or rollback. Key presence marks it modified.
	modified map[string]any
	dirty    bool

	depth int
	csNew map[string]any
	csOld map[string]any

	children map[string]*childLink
}

// New constructs a model of type t from initial data. When the data carries
// a defined id and an instance with that type and id already exists, the
// data is merged into the existing instance with SetValues and that
// instance is returned instead.
func (t *Type) New(data map[string]any) (*Model, error) {
	for name := range data {
		if _, err := t.Attribute(name); err != nil {
			return nil, err
		}
	}

	m := &Model{
		typ:      t,
		clientID: newClientID(),
		data:     make(map[string]any, len(t.order)),
		modified: make(map[string]any),
	}

	var (
		id         any
		registered bool
	)
	if idAttr, ok := t.attributes[t.idAttribute]; ok {
		if raw, provided := data[t.idAttribute]; provided && raw != nil {
			var err error
			id, err = idAttr.resolve(m, true, raw, nil)
			if err != nil {
				return nil, err
			}
		}
		if id != nil && !isNoChange(id) {
			existing, err := t.registry.cache.Resolve(t, id, m, data)
			if existing != m {
				logger.Debugw("Merged into cached model",
					logger.FieldModelType, t.name,
					logger.FieldModelID, id,
					logger.FieldClientID, existing.clientID,
				)
				return existing, err
			}
			registered = true
		}
	}

	if err := m.initialize(data); err != nil {
		if registered {
			t.registry.cache.releaseIf(t, id, m)
		}
		return nil, err
	}
	return m, nil
}

// initialize runs the pipeline for every attribute without events or dirty
// marking: defaults first, then provided values in declaration order, so
// computed attributes writing siblings win over those siblings' defaults.
func (m *Model) initialize(data map[string]any) error {
	m.Suspend(false)
	defer m.Resume()

	for _, pass := range []bool{false, true} {
		for _, name := range m.typ.order {
			v, provided := data[name]
			if provided != pass {
				continue
			}
			a := m.typ.attributes[name]
			val, err := a.resolve(m, provided, v, m.data[name])
			if err != nil {
				return err
			}
			if isNoChange(val) {
				continue
			}
			m.store(name, a, val)
		}
	}

	m.modified = make(map[string]any)
	m.dirty = false
	return nil
}

// Type returns the model's type.
func (m *Model) Type() *Type { return m.typ }

// ClientID returns the process-unique token assigned at construction.
func (m *Model) ClientID() string { return m.clientID }

// Get returns the stored value passed through the attribute's getter.
func (m *Model) Get(name string) (any, error) {
	a, err := m.typ.Attribute(name)
	if err != nil {
		return nil, err
	}
	return a.read(m, m.data[name]), nil
}

// Raw returns the stored value passed through the attribute's raw hook
// instead of its getter. Persisted snapshots read values this way.
func (m *Model) Raw(name string) (any, error) {
	a, err := m.typ.Attribute(name)
	if err != nil {
		return nil, err
	}
	return a.readRaw(m, m.data[name]), nil
}

// Has reports whether the attribute has ever been given a value,
// distinguishing a stored nil from an untouched slot.
func (m *Model) Has(name string) bool {
	_, ok := m.data[name]
	return ok
}

// ID returns the value of the id attribute.
func (m *Model) ID() (any, error) {
	if _, err := m.typ.IDAttr(); err != nil {
		return nil, err
	}
	return m.Get(m.typ.idAttribute)
}

// HasID reports whether the id attribute currently holds a defined value.
func (m *Model) HasID() (bool, error) {
	id, err := m.ID()
	if err != nil {
		return false, err
	}
	return id != nil, nil
}

// Set runs the attribute pipeline for one attribute.
func (m *Model) Set(name string, value any) error {
	return m.SetValues(map[string]any{name: value})
}

// SetValues runs the pipeline for each entry, in declaration order. Every
// name is checked before anything changes. On error the model keeps the
// changes made before the failing attribute.
//
// The outermost call fires one "changeset" event covering every attribute
// changed during it, including changes made by nested Set calls from
// overrides or change handlers. Old values in the changeset are the values
// from before the outermost call began.
func (m *Model) SetValues(values map[string]any) error {
	for name := range values {
		if _, err := m.typ.Attribute(name); err != nil {
			return err
		}
	}

	m.depth++
	if m.depth == 1 {
		m.csNew = make(map[string]any)
		m.csOld = make(map[string]any)
	}
	defer m.endSet()

	for _, name := range m.typ.order {
		v, ok := values[name]
		if !ok {
			continue
		}
		if err := m.setOne(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) endSet() {
	m.depth--
	if m.depth > 0 {
		return
	}
	newValues, oldValues := m.csNew, m.csOld
	m.csNew, m.csOld = nil, nil
	if len(newValues) > 0 {
		m.Fire("changeset", m, newValues, oldValues)
	}
}

func (m *Model) setOne(name string, value any) error {
	a := m.typ.attributes[name]
	prev, had := m.data[name]

	val, err := a.resolve(m, true, value, prev)
	if err != nil {
		return err
	}

	if isNoChange(val) {
		cur := a.read(m, m.data[name])
		m.Fire("change:"+name, m, name, cur, cur)
		return nil
	}

	if a.valuesEqual(prev, val) {
		if !had {
			m.data[name] = val
		}
		return nil
	}

	if _, recorded := m.modified[name]; !recorded {
		m.modified[name] = prev
	}
	m.store(name, a, val)
	m.dirty = true

	newValue := a.read(m, val)
	oldValue := a.read(m, prev)
	if m.csNew != nil {
		if _, seen := m.csOld[name]; !seen {
			m.csOld[name] = oldValue
		}
		m.csNew[name] = newValue
	}

	m.Fire("change:"+name, m, name, newValue, oldValue)
	m.Fire("change", m, name, newValue, oldValue)
	return nil
}

// store writes a stored value and keeps embedded subscriptions in sync.
func (m *Model) store(name string, a *Attribute, val any) {
	m.data[name] = val
	if a.embedded {
		m.link(name, val)
	}
}

// IsDirty reports whether this model has modified attributes. Embedded
// children are not considered; see IsModified.
func (m *Model) IsDirty() bool { return m.dirty }

// IsModified without names reports whether this model or any embedded child
// is modified. With names it reports whether any of those attributes was
// changed since the last commit or rollback, or holds a modified embedded child.
func (m *Model) IsModified(names ...string) bool {
	seen := map[string]bool{m.clientID: true}
	if len(names) == 0 {
		return m.modifiedVisit(map[string]bool{})
	}
	for _, name := range names {
		if _, ok := m.modified[name]; ok {
			return true
		}
		if link := m.children[name]; link != nil && link.child.modifiedVisit(seen) {
			return true
		}
	}
	return false
}

// ModifiedAttributes returns the names of modified attributes in declaration order.
func (m *Model) ModifiedAttributes() []string {
	var out []string
	for _, name := range m.typ.order {
		if _, ok := m.modified[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Previous returns the value an attribute held before its first change since
// the last commit or rollback, passed through its getter.
func (m *Model) Previous(name string) (any, bool) {
	prev, ok := m.modified[name]
	if !ok {
		return nil, false
	}
	return m.typ.attributes[name].read(m, prev), true
}

func (m *Model) modifiedVisit(seen map[string]bool) bool {
	if seen[m.clientID] {
		return false
	}
	seen[m.clientID] = true
	if len(m.modified) > 0 {
		return true
	}
	for _, name := range m.typ.order {
		if link := m.children[name]; link != nil && link.child.modifiedVisit(seen) {
			return true
		}
	}
	return false
}

// Commit forgets the recorded originals, commits embedded children and
// fires "commit".
func (m *Model) Commit() {
	m.commitVisit(map[string]bool{})
}

func (m *Model) commitVisit(seen map[string]bool) {
	if seen[m.clientID] {
		return
	}
	seen[m.clientID] = true

	m.modified = make(map[string]any)
	m.dirty = false
	for _, name := range m.typ.order {
		if link := m.children[name]; link != nil {
			link.child.commitVisit(seen)
		}
	}
	m.Fire("commit", m)
}

// Rollback restores every modified attribute to its recorded original, rolls
// back embedded children and fires "rollback". Non-embedded related models
// are left alone.
func (m *Model) Rollback() {
	m.rollbackVisit(map[string]bool{})
}

func (m *Model) rollbackVisit(seen map[string]bool) {
	if seen[m.clientID] {
		return
	}
	seen[m.clientID] = true

	for _, name := range m.typ.order {
		if orig, ok := m.modified[name]; ok {
			m.store(name, m.typ.attributes[name], orig)
		}
	}
	m.modified = make(map[string]any)
	m.dirty = false
	for _, name := range m.typ.order {
		if link := m.children[name]; link != nil {
			link.child.rollbackVisit(seen)
		}
	}
	m.Fire("rollback", m)
}

// Data converts the model to plain data. See Convert.
func (m *Model) Data(opts ConvertOptions) (map[string]any, error) {
	out, err := Convert(m, opts)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// Snapshot returns the persisted attributes as plain raw data; it is the
// payload handed to proxies.
func (m *Model) Snapshot() (map[string]any, error) {
	return m.Data(ConvertOptions{PersistedOnly: true, Raw: true})
}

func (m *Model) String() string {
	if m == nil {
		return "<nil>"
	}
	if id, err := m.ID(); err == nil && id != nil {
		return fmt.Sprintf("%s(%v)", m.typ.name, id)
	}
	return m.typ.name + "(" + m.clientID + ")"
}
