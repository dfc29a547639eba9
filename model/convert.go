package model

// ConvertOptions controls Convert.
type ConvertOptions struct {
	// AttributeNames restricts the root model to these attributes, in this
	// order. Nested components always convert every attribute.
	AttributeNames []string
	// PersistedOnly skips attributes declared with Persist(false).
	PersistedOnly bool
	// Raw reads values through the raw hook instead of the getter.
	Raw bool
}

// Convert flattens a model or collection into plain data: models become
// map[string]any, collections become []any. A component reached a second
// time, including through a cycle back to an ancestor, yields the very same
// container that was produced for it the first time.
func Convert(c Component, opts ConvertOptions) (any, error) {
	cv := &converter{opts: opts, cache: make(map[string]any)}
	return cv.component(c, true)
}

type converter struct {
	opts  ConvertOptions
	cache map[string]any
}

func (cv *converter) component(c Component, root bool) (any, error) {
	if out, ok := cv.cache[c.ClientID()]; ok {
		return out, nil
	}
	switch v := c.(type) {
	case *Model:
		return cv.model(v, root)
	case *Collection:
		return cv.collection(v)
	}
	return nil, nil
}

func (cv *converter) model(m *Model, root bool) (any, error) {
	names := m.typ.order
	if root && cv.opts.AttributeNames != nil {
		names = cv.opts.AttributeNames
	}

	out := make(map[string]any, len(names))
	cv.cache[m.clientID] = out

	for _, name := range names {
		a, err := m.typ.Attribute(name)
		if err != nil {
			return nil, err
		}
		if cv.opts.PersistedOnly && !a.persist {
			continue
		}
		var v any
		if cv.opts.Raw {
			v = a.readRaw(m, m.data[name])
		} else {
			v = a.read(m, m.data[name])
		}
		if out[name], err = cv.value(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (cv *converter) collection(c *Collection) (any, error) {
	// filled in place so a cycle sees the same backing array
	out := make([]any, len(c.models))
	cv.cache[c.clientID] = out

	for i, m := range c.models {
		v, err := cv.component(m, false)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (cv *converter) value(v any) (any, error) {
	if c, ok := asComponent(v); ok {
		return cv.component(c, false)
	}
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			conv, err := cv.value(item)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			conv, err := cv.value(item)
			if err != nil {
				return nil, err
			}
			out[k] = conv
		}
		return out, nil
	}
	return v, nil
}
