package model

import (
	"strings"

	"github.com/teranos/datagraph/event"
	"github.com/teranos/datagraph/logger"
)

// ChangeContext travels with change events bubbled from embedded children.
// It is passed as the last argument of every bubbled event and of the
// owner's generic "change" event.
type ChangeContext struct {
	// Path is the dot-joined attribute path from the receiving model down to
	// the changed leaf attribute. Collections do not add a segment.
	Path string
	// NewValue and OldValue are the leaf values of the deepest change.
	NewValue any
	OldValue any
	// Chain lists the components from the receiving model down to the model
	// owning the leaf attribute, collections included.
	Chain []Component

	steps []pathStep
}

// pathStep is one segment of the path: the attribute name, the model that
// owns it and the value it holds. via is set when the owner was reached as
// a member of a collection.
type pathStep struct {
	name  string
	owner *Model
	value any
	via   *Collection
}

// Contains reports whether c is part of the chain.
func (ctx *ChangeContext) Contains(c Component) bool {
	for _, item := range ctx.Chain {
		if item == c {
			return true
		}
	}
	return false
}

// Depth returns the number of path segments.
func (ctx *ChangeContext) Depth() int { return len(ctx.steps) }

func (ctx *ChangeContext) pathTo(i int) string {
	names := make([]string, i+1)
	for j := 0; j <= i; j++ {
		names[j] = ctx.steps[j].name
	}
	return strings.Join(names, ".")
}

// args builds the event arguments for segment i. Segments reached through
// a collection use collection-style arguments.
func (ctx *ChangeContext) args(i int, newValue, oldValue any) []any {
	s := ctx.steps[i]
	if s.via != nil {
		return []any{s.via, s.owner, s.name, newValue, oldValue, ctx}
	}
	return []any{s.owner, s.name, newValue, oldValue, ctx}
}

// childLink holds the subscriptions an owner keeps on one embedded child.
type childLink struct {
	child Component
	subs  []*event.Subscription
}

func (l *childLink) cancel() {
	for _, s := range l.subs {
		s.Cancel()
	}
}

// link subscribes to the embedded child stored under name, dropping the
// subscriptions on whatever child the attribute held before.
func (m *Model) link(name string, val any) {
	c, ok := asComponent(val)
	if old := m.children[name]; old != nil {
		if ok && old.child == c {
			return
		}
		old.cancel()
		delete(m.children, name)
	}
	if !ok {
		return
	}

	l := &childLink{child: c}
	l.subs = append(l.subs, c.On("change", func(args ...any) bool {
		m.bubble(name, c, args)
		return true
	}))
	if coll, isColl := c.(*Collection); isColl {
		membership := func(...any) bool {
			m.Fire("change", m, name, coll, coll)
			return true
		}
		for _, ev := range []string{"add", "remove", "reorder", "sort"} {
			l.subs = append(l.subs, coll.On(ev, membership))
		}
	}

	if m.children == nil {
		m.children = make(map[string]*childLink)
	}
	m.children[name] = l
}

// bubble turns a child's generic change into path-addressed events on m.
func (m *Model) bubble(name string, child Component, args []any) {
	if len(args) < 4 {
		return
	}
	owner, ok := args[0].(*Model)
	if !ok {
		return
	}
	leaf, _ := args[1].(string)
	via, _ := child.(*Collection)

	var inner *ChangeContext
	if len(args) > 4 {
		inner, _ = args[4].(*ChangeContext)
	}

	ctx := &ChangeContext{
		steps: []pathStep{{name: name, owner: m, value: child}},
		Chain: []Component{m},
	}
	if via != nil {
		ctx.Chain = append(ctx.Chain, via)
	}

	if inner == nil {
		ctx.Path = name + "." + leaf
		ctx.NewValue, ctx.OldValue = args[2], args[3]
		ctx.steps = append(ctx.steps, pathStep{name: leaf, owner: owner, value: args[2], via: via})
		ctx.Chain = append(ctx.Chain, owner)
	} else {
		ctx.Path = name + "." + inner.Path
		ctx.NewValue, ctx.OldValue = inner.NewValue, inner.OldValue
		ctx.steps = append(ctx.steps, inner.steps...)
		ctx.steps[1].via = via
		ctx.Chain = append(ctx.Chain, inner.Chain...)
	}

	for _, c := range ctx.Chain[1:] {
		if c == Component(m) {
			logger.Debugw("Stopped change bubbling at cycle",
				logger.FieldModelType, m.typ.name,
				logger.FieldClientID, m.clientID,
				logger.FieldPath, ctx.Path,
			)
			return
		}
	}

	m.emitBubble(ctx, child)
}

// emitBubble fires, in order: the exact path event, the wildcard of its
// parent segment, one (path, wildcard) pair per intermediate level from the
// deepest up, and finally the generic change naming the top-level attribute.
func (m *Model) emitBubble(ctx *ChangeContext, child Component) {
	n := len(ctx.steps)
	leafArgs := ctx.args(n-1, ctx.NewValue, ctx.OldValue)
	m.Fire("change:"+ctx.Path, leafArgs...)
	m.Fire("change:"+ctx.pathTo(n-2)+".*", leafArgs...)

	for i := n - 2; i >= 1; i-- {
		v := ctx.steps[i].value
		levelArgs := ctx.args(i, v, v)
		m.Fire("change:"+ctx.pathTo(i), levelArgs...)
		m.Fire("change:"+ctx.pathTo(i-1)+".*", levelArgs...)
	}

	m.Fire("change", m, ctx.steps[0].name, child, child, ctx)
}
