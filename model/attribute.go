package model

import (
	"github.com/teranos/datagraph/errors"
)

// Kind selects the built-in set stage of an attribute.
type Kind int

const (
	KindMixed Kind = iota
	KindString
	KindInteger
	KindNumber
	KindBoolean
	KindDate
	KindObject
	KindArray
	KindModel
	KindCollection
)

var kindNames = map[Kind]string{
	KindMixed:      "mixed",
	KindString:     "string",
	KindInteger:    "integer",
	KindNumber:     "number",
	KindBoolean:    "boolean",
	KindDate:       "date",
	KindObject:     "object",
	KindArray:      "array",
	KindModel:      "model",
	KindCollection: "collection",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps a schema type name to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindMixed, errors.Newf("unknown attribute type %q", s)
}

type noChange struct{}

// NoChange is returned by a set override that wrote other attributes instead
// of producing a value for its own attribute. The attribute keeps its stored
// value, is not marked modified and is absent from the changeset; observers
// of change:<name> are notified once with the current value.
var NoChange any = noChange{}

func isNoChange(v any) bool {
	_, ok := v.(noChange)
	return ok
}

// SetFunc is a set stage: it converts value given the previously stored value.
type SetFunc func(m *Model, value, previous any) (any, error)

// OverrideFunc replaces the built-in set stage. base is the built-in stage,
// so an override can wrap the conversion with its own pre and post logic.
type OverrideFunc func(m *Model, value, previous any, base SetFunc) (any, error)

// AfterSetFunc post-processes the value produced by the set stage.
type AfterSetFunc func(m *Model, value any) (any, error)

// ReadFunc transforms a stored value on the way out (Get or Raw).
type ReadFunc func(m *Model, value any) any

// EqualFunc decides whether a new value differs from the stored one.
type EqualFunc func(a, b any) bool

// Attribute describes one named data slot. It is immutable once built.
type Attribute struct {
	name       string
	kind       Kind
	def        any
	hasDefault bool
	persist    bool
	embedded   bool
	target     *Type
	targetName string

	beforeSet SetFunc
	override  OverrideFunc
	afterSet  AfterSetFunc
	get       ReadFunc
	raw       ReadFunc
	equal     EqualFunc
}

// AttributeOption configures an Attribute under construction.
type AttributeOption func(*Attribute)

// NewAttribute builds an attribute. The name is required.
func NewAttribute(name string, opts ...AttributeOption) (*Attribute, error) {
	if name == "" {
		return nil, errors.WithStack(errors.ErrAttributeName)
	}
	a := &Attribute{name: name, persist: true}
	for _, opt := range opts {
		opt(a)
	}
	if a.embedded && a.kind != KindModel && a.kind != KindCollection {
		return nil, errors.Newf("attribute %q: only model and collection attributes can be embedded", name)
	}
	if (a.kind == KindModel || a.kind == KindCollection) && a.target == nil && a.targetName == "" {
		return nil, errors.Newf("attribute %q: %s attribute needs a target type", name, a.kind)
	}
	return a, nil
}

// MustAttribute is NewAttribute for static declarations; it panics on error.
func MustAttribute(name string, opts ...AttributeOption) *Attribute {
	a, err := NewAttribute(name, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

// OfKind selects a primitive built-in conversion.
func OfKind(k Kind) AttributeOption {
	return func(a *Attribute) { a.kind = k }
}

// ModelOf makes the attribute hold a model of type t; plain maps are
// coerced through t.New.
func ModelOf(t *Type) AttributeOption {
	return func(a *Attribute) { a.kind = KindModel; a.target = t }
}

// ModelNamed is ModelOf with the type resolved by name when first needed,
// which allows self-referencing and forward-declared types.
func ModelNamed(name string) AttributeOption {
	return func(a *Attribute) { a.kind = KindModel; a.targetName = name }
}

// CollectionOf makes the attribute hold a collection of models of type t.
func CollectionOf(t *Type) AttributeOption {
	return func(a *Attribute) { a.kind = KindCollection; a.target = t }
}

// CollectionNamed is CollectionOf with a lazily resolved type name.
func CollectionNamed(name string) AttributeOption {
	return func(a *Attribute) { a.kind = KindCollection; a.targetName = name }
}

// Embedded wires the child's change events into the owning model.
func Embedded() AttributeOption {
	return func(a *Attribute) { a.embedded = true }
}

// Default sets the value used when none is provided at construction. It may
// be a plain value, a func() any or a func() (any, error); functions nested
// anywhere inside map or slice defaults are invoked as well.
func Default(v any) AttributeOption {
	return func(a *Attribute) { a.def = v; a.hasDefault = true }
}

// Persist sets whether the attribute is part of persisted snapshots.
func Persist(persist bool) AttributeOption {
	return func(a *Attribute) { a.persist = persist }
}

// Transient is Persist(false).
func Transient() AttributeOption {
	return Persist(false)
}

// BeforeSet runs before the set stage.
func BeforeSet(f SetFunc) AttributeOption {
	return func(a *Attribute) { a.beforeSet = f }
}

// Override replaces the set stage, handing it the built-in stage to delegate to.
func Override(f OverrideFunc) AttributeOption {
	return func(a *Attribute) { a.override = f }
}

// AfterSet runs after the set stage.
func AfterSet(f AfterSetFunc) AttributeOption {
	return func(a *Attribute) { a.afterSet = f }
}

// Getter transforms values returned by Model.Get and carried by change events.
func Getter(f ReadFunc) AttributeOption {
	return func(a *Attribute) { a.get = f }
}

// Rawer transforms values returned by Model.Raw and persisted snapshots.
func Rawer(f ReadFunc) AttributeOption {
	return func(a *Attribute) { a.raw = f }
}

// Equality replaces the predicate used to suppress no-op changes.
func Equality(f EqualFunc) AttributeOption {
	return func(a *Attribute) { a.equal = f }
}

// Name returns the attribute name.
func (a *Attribute) Name() string { return a.name }

// Kind returns the built-in conversion kind.
func (a *Attribute) Kind() Kind { return a.kind }

// Persisted reports whether the attribute is part of persisted snapshots.
func (a *Attribute) Persisted() bool { return a.persist }

// IsEmbedded reports whether the attribute embeds its child component.
func (a *Attribute) IsEmbedded() bool { return a.embedded }

// IsComposite reports whether the attribute holds a model or a collection.
func (a *Attribute) IsComposite() bool {
	return a.kind == KindModel || a.kind == KindCollection
}

// resolve runs the pipeline: default substitution, beforeSet, set (override
// or built-in), afterSet. Errors from any stage propagate unmodified.
func (a *Attribute) resolve(m *Model, provided bool, value, previous any) (any, error) {
	var err error
	if !provided {
		if value, err = a.defaultValue(); err != nil {
			return nil, err
		}
	}

	if a.beforeSet != nil {
		if value, err = a.beforeSet(m, value, previous); err != nil {
			return nil, err
		}
	}

	if a.override != nil {
		value, err = a.override(m, value, previous, a.builtin)
	} else {
		value, err = a.builtin(m, value, previous)
	}
	if err != nil {
		return nil, err
	}
	if isNoChange(value) {
		return NoChange, nil
	}

	if a.afterSet != nil {
		if value, err = a.afterSet(m, value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

func (a *Attribute) defaultValue() (any, error) {
	if !a.hasDefault {
		return nil, nil
	}
	return resolveDefault(a.def)
}

func (a *Attribute) read(m *Model, v any) any {
	if a.get != nil {
		return a.get(m, v)
	}
	return v
}

func (a *Attribute) readRaw(m *Model, v any) any {
	if a.raw != nil {
		return a.raw(m, v)
	}
	return v
}

func (a *Attribute) valuesEqual(prev, next any) bool {
	if a.equal != nil {
		return a.equal(prev, next)
	}
	if a.IsComposite() {
		return sameComponent(prev, next)
	}
	return deepEqual(prev, next)
}

// targetType resolves the model type of a composite attribute.
func (a *Attribute) targetType(m *Model) (*Type, error) {
	if a.target != nil {
		return a.target, nil
	}
	return m.typ.registry.Lookup(a.targetName)
}
