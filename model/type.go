package model

import (
	"sort"
	"sync"

	"github.com/teranos/datagraph/errors"
)

// DefaultIDAttribute is the id attribute name used unless a type sets another.
const DefaultIDAttribute = "id"

// Registry holds model types by name together with the identity cache
// their instances are deduplicated in.
type Registry struct {
	mu               sync.RWMutex
	types            map[string]*Type
	cache            *IdentityCache
	releaseOnDestroy bool
	proxy            Proxy
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEvictionPolicy sets the identity cache eviction policy.
func WithEvictionPolicy(p EvictionPolicy) RegistryOption {
	return func(r *Registry) { r.cache = NewIdentityCache(p) }
}

// ReleaseOnDestroy drops a model from the identity cache once it has been
// destroyed through its proxy.
func ReleaseOnDestroy(release bool) RegistryOption {
	return func(r *Registry) { r.releaseOnDestroy = release }
}

// WithDefaultProxy binds p to every type defined in the registry that
// neither sets a proxy nor inherits one.
func WithDefaultProxy(p Proxy) RegistryOption {
	return func(r *Registry) { r.proxy = p }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		types: make(map[string]*Type),
		cache: NewIdentityCache(EvictNever),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultRegistry is the process-wide registry used by Define.
var DefaultRegistry = NewRegistry()

// Define registers a type in the DefaultRegistry.
func Define(name string, opts ...TypeOption) (*Type, error) {
	return DefaultRegistry.Define(name, opts...)
}

// Cache returns the registry's identity cache.
func (r *Registry) Cache() *IdentityCache { return r.cache }

// Define builds the merged attribute map for a new type and registers it.
// Parent attributes come first; a subclass attribute with the same name
// replaces the parent's in place.
func (r *Registry) Define(name string, opts ...TypeOption) (*Type, error) {
	if name == "" {
		return nil, errors.New("type name required")
	}

	t := &Type{
		name:       name,
		registry:   r,
		attributes: make(map[string]*Attribute),
	}
	var decl typeDecl
	for _, opt := range opts {
		opt(&decl)
	}

	if decl.parent != nil {
		t.parent = decl.parent
		t.idAttribute = decl.parent.idAttribute
		t.proxy = decl.parent.proxy
		for _, attrName := range decl.parent.order {
			t.attributes[attrName] = decl.parent.attributes[attrName]
			t.order = append(t.order, attrName)
		}
	}
	for _, a := range decl.attributes {
		if a == nil {
			return nil, errors.WithStack(errors.ErrAttributeName)
		}
		if _, exists := t.attributes[a.name]; !exists {
			t.order = append(t.order, a.name)
		}
		t.attributes[a.name] = a
	}
	if decl.idAttribute != "" {
		t.idAttribute = decl.idAttribute
	}
	if t.idAttribute == "" {
		t.idAttribute = DefaultIDAttribute
	}
	if decl.proxy != nil {
		t.proxy = decl.proxy
	}
	if t.proxy == nil {
		t.proxy = r.proxy
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return nil, errors.Mark(errors.Newf("model type %q already defined", name), errors.ErrDuplicateType)
	}
	r.types[name] = t
	return t, nil
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	if !ok {
		return nil, errors.Mark(errors.Newf("model type %q is not defined", name), errors.ErrUnknownType)
	}
	return t, nil
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type typeDecl struct {
	parent      *Type
	attributes  []*Attribute
	idAttribute string
	proxy       Proxy
}

// TypeOption configures a type definition.
type TypeOption func(*typeDecl)

// Extends inherits the parent's attributes, id attribute and proxy.
func Extends(parent *Type) TypeOption {
	return func(d *typeDecl) { d.parent = parent }
}

// Attributes declares attributes on the type.
func Attributes(attrs ...*Attribute) TypeOption {
	return func(d *typeDecl) { d.attributes = append(d.attributes, attrs...) }
}

// IDAttribute names the attribute used as identity for caching and persistence.
// It is not checked at definition time.
func IDAttribute(name string) TypeOption {
	return func(d *typeDecl) { d.idAttribute = name }
}

// WithProxy binds the persistence proxy used by Save, Load and Destroy.
func WithProxy(p Proxy) TypeOption {
	return func(d *typeDecl) { d.proxy = p }
}

// Type is a model type: the merged attribute map resolved once at definition.
type Type struct {
	name        string
	registry    *Registry
	parent      *Type
	attributes  map[string]*Attribute
	order       []string
	idAttribute string
	proxy       Proxy
}

// Name returns the type name; it is the type token of identity cache keys.
func (t *Type) Name() string { return t.name }

// Parent returns the type this one extends, or nil.
func (t *Type) Parent() *Type { return t.parent }

// Registry returns the registry the type is defined in.
func (t *Type) Registry() *Registry { return t.registry }

// Proxy returns the bound persistence proxy, or nil.
func (t *Type) Proxy() Proxy { return t.proxy }

// IDAttributeName returns the configured id attribute name.
func (t *Type) IDAttributeName() string { return t.idAttribute }

// AttributeNames returns the attribute names in declaration order.
func (t *Type) AttributeNames() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Attribute returns the named attribute or an ErrUnknownAttribute error.
func (t *Type) Attribute(name string) (*Attribute, error) {
	a, ok := t.attributes[name]
	if !ok {
		return nil, errors.Mark(errors.Newf("unknown attribute %q on %s", name, t.name), errors.ErrUnknownAttribute)
	}
	return a, nil
}

// IDAttr returns the id attribute or an ErrNoIDAttribute error.
func (t *Type) IDAttr() (*Attribute, error) {
	a, ok := t.attributes[t.idAttribute]
	if !ok {
		return nil, errors.Mark(errors.Newf("id attribute %q is not declared on %s", t.idAttribute, t.name), errors.ErrNoIDAttribute)
	}
	return a, nil
}

// IsA reports whether t is other or extends it.
func (t *Type) IsA(other *Type) bool {
	for cur := t; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

func (t *Type) String() string { return t.name }
