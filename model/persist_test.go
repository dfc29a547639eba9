package model

import (
	"context"
	"maps"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/datagraph/errors"
)

// scriptedProxy records calls and answers from a per-operation script.
type scriptedProxy struct {
	mu      sync.Mutex
	calls   []string
	payload []map[string]any
	// before runs on the calling goroutine ahead of finishing the request,
	// standing in for edits made while the request is in flight.
	before func(m *Model)
	reply  map[string]any
	err    error
}

func (p *scriptedProxy) handle(op string, ctx context.Context, m *Model, req *Request) {
	p.mu.Lock()
	p.calls = append(p.calls, op)
	p.payload = append(p.payload, req.Data)
	p.mu.Unlock()

	if p.before != nil {
		p.before(m)
	}
	req.Run(ctx, func(context.Context) (map[string]any, error) {
		return p.reply, p.err
	})
}

func (p *scriptedProxy) Create(ctx context.Context, m *Model, req *Request) {
	p.handle("create", ctx, m, req)
}

func (p *scriptedProxy) Read(ctx context.Context, m *Model, req *Request) {
	p.handle("read", ctx, m, req)
}

func (p *scriptedProxy) Update(ctx context.Context, m *Model, req *Request) {
	p.handle("update", ctx, m, req)
}

func (p *scriptedProxy) Destroy(ctx context.Context, m *Model, req *Request) {
	p.handle("destroy", ctx, m, req)
}

// echoProxy answers every request with the payload it was sent plus an id.
type echoProxy struct{ id string }

func (p echoProxy) respond(ctx context.Context, req *Request) {
	req.Run(ctx, func(context.Context) (map[string]any, error) {
		out := maps.Clone(req.Data)
		out["id"] = p.id
		return out, nil
	})
}

func (p echoProxy) Create(ctx context.Context, _ *Model, req *Request) { p.respond(ctx, req) }
func (p echoProxy) Read(ctx context.Context, _ *Model, req *Request) { p.respond(ctx, req) }
func (p echoProxy) Update(ctx context.Context, _ *Model, req *Request) { p.respond(ctx, req) }
func (p echoProxy) Destroy(ctx context.Context, _ *Model, req *Request) { p.respond(ctx, req) }

func defineNote(t *testing.T, r *Registry, p Proxy) *Type {
	t.Helper()
	typ, err := r.Define("note", WithProxy(p), Attributes(
		MustAttribute("id", OfKind(KindString)),
		MustAttribute("title", OfKind(KindString)),
		MustAttribute("body", OfKind(KindString)),
		MustAttribute("draft", Transient()),
	))
	require.NoError(t, err)
	return typ
}

func TestSaveCreatesWithoutID(t *testing.T) {
	proxy := &scriptedProxy{reply: map[string]any{"id": "n-1", "title": "hello"}}
	r := NewRegistry()
	typ := defineNote(t, r, proxy)

	m, err := typ.New(map[string]any{"title": "hello", "draft": true})
	require.NoError(t, err)
	require.NoError(t, m.Set("body", "text"))

	var succeeded, completed bool
	err = m.Save(context.Background(),
		OnSuccess(func(*Model) { succeeded = true }),
		OnComplete(func(*Model) { completed = true }),
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"create"}, proxy.calls)
	assert.Equal(t, map[string]any{"id": nil, "title": "hello", "body": "text"}, proxy.payload[0])
	assert.Equal(t, "n-1", mustGet(t, m, "id"))
	assert.False(t, m.IsModified())
	assert.True(t, succeeded)
	assert.True(t, completed)
	assert.Same(t, m, r.Cache().Lookup(typ, "n-1"))
}

func TestSaveUpdatesWithID(t *testing.T) {
	proxy := &scriptedProxy{reply: map[string]any{}}
	typ := defineNote(t, NewRegistry(), proxy)

	m, err := typ.New(map[string]any{"id": "n-2"})
	require.NoError(t, err)
	require.NoError(t, m.Save(context.Background()))
	assert.Equal(t, []string{"update"}, proxy.calls)
}

func TestSaveKeepsChangesMadeInFlight(t *testing.T) {
	proxy := &scriptedProxy{reply: map[string]any{"id": "n-3", "title": "server", "body": "server"}}
	typ := defineNote(t, NewRegistry(), proxy)

	m, err := typ.New(map[string]any{"title": "saved", "body": "saved"})
	require.NoError(t, err)
	proxy.before = func(m *Model) {
		require.NoError(t, m.Set("title", "edited in flight"))
	}

	require.NoError(t, m.Save(context.Background()))

	assert.Equal(t, "edited in flight", mustGet(t, m, "title"))
	assert.Equal(t, "server", mustGet(t, m, "body"))
	assert.Equal(t, []string{"title"}, m.ModifiedAttributes())
	prev, ok := m.Previous("title")
	require.True(t, ok)
	assert.Equal(t, "saved", prev)
	assert.True(t, m.IsDirty())
}

func TestSaveFailure(t *testing.T) {
	boom := errors.New("backend down")
	proxy := &scriptedProxy{err: boom}
	typ := defineNote(t, NewRegistry(), proxy)

	m, err := typ.New(nil)
	require.NoError(t, err)
	require.NoError(t, m.Set("title", "unsaved"))

	var reported error
	err = m.Save(context.Background(), OnError(func(_ *Model, err error) { reported = err }))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, reported, boom)
	assert.True(t, m.IsModified("title"))
}

func TestSaveAsync(t *testing.T) {
	proxy := &scriptedProxy{reply: map[string]any{"id": "n-4"}}
	typ := defineNote(t, NewRegistry(), proxy)

	m, err := typ.New(map[string]any{"title": "async"})
	require.NoError(t, err)

	done := make(chan struct{})
	err = m.Save(context.Background(), Async(), OnComplete(func(*Model) { close(done) }))
	require.NoError(t, err)
	<-done

	assert.Equal(t, "n-4", mustGet(t, m, "id"))
}

func TestSaveCancelledContext(t *testing.T) {
	proxy := &scriptedProxy{reply: map[string]any{}}
	typ := defineNote(t, NewRegistry(), proxy)
	m, err := typ.New(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Save(ctx), context.Canceled)
}

func TestPersistWithoutProxy(t *testing.T) {
	typ := defineNote(t, NewRegistry(), nil)
	m, err := typ.New(map[string]any{"id": "x"})
	require.NoError(t, err)

	assert.True(t, errors.Is(m.Save(context.Background()), errors.ErrNoProxy))
	assert.True(t, errors.Is(m.Load(context.Background()), errors.ErrNoProxy))
	assert.True(t, errors.Is(m.Destroy(context.Background()), errors.ErrNoProxy))
}

func TestLoad(t *testing.T) {
	proxy := &scriptedProxy{reply: map[string]any{"id": "n-5", "title": "loaded", "unknown": 1}}
	typ := defineNote(t, NewRegistry(), proxy)

	m, err := typ.New(map[string]any{"id": "n-5"})
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))

	assert.Equal(t, []string{"read"}, proxy.calls)
	assert.Equal(t, "loaded", mustGet(t, m, "title"))
	assert.False(t, m.IsModified())

	fresh, err := typ.New(nil)
	require.NoError(t, err)
	assert.True(t, errors.Is(fresh.Load(context.Background()), errors.ErrInvalidRequest))
}

func TestDestroy(t *testing.T) {
	proxy := &scriptedProxy{reply: map[string]any{}}
	r := NewRegistry(ReleaseOnDestroy(true))
	typ := defineNote(t, r, proxy)

	m, err := typ.New(map[string]any{"id": "n-6"})
	require.NoError(t, err)
	var destroyed int
	m.On("destroy", func(...any) bool { destroyed++; return true })

	require.NoError(t, m.Destroy(context.Background()))
	assert.Equal(t, []string{"destroy"}, proxy.calls)
	assert.Equal(t, 1, destroyed)
	assert.Nil(t, r.Cache().Lookup(typ, "n-6"))

	unsaved, err := typ.New(nil)
	require.NoError(t, err)
	require.NoError(t, unsaved.Destroy(context.Background()))
	assert.Len(t, proxy.calls, 1)
}

func TestRegistryDefaultProxy(t *testing.T) {
	fallback := &scriptedProxy{reply: map[string]any{}}
	own := &scriptedProxy{reply: map[string]any{}}
	r := NewRegistry(WithDefaultProxy(fallback))

	plain := defineNote(t, r, nil)
	assert.Same(t, fallback, plain.Proxy())

	bound, err := r.Define("bound", WithProxy(own))
	require.NoError(t, err)
	child, err := r.Define("child", Extends(bound))
	require.NoError(t, err)
	assert.Same(t, own, bound.Proxy())
	assert.Same(t, own, child.Proxy())

	m, err := plain.New(map[string]any{"id": "n-7"})
	require.NoError(t, err)
	require.NoError(t, m.Save(context.Background()))
	assert.Equal(t, []string{"update"}, fallback.calls)
}

func TestSaveKeepsEmbeddedInstances(t *testing.T) {
	r := NewRegistry()
	address, err := r.Define("address", Attributes(MustAttribute("city", OfKind(KindString))))
	require.NoError(t, err)
	line, err := r.Define("line", Attributes(MustAttribute("sku", OfKind(KindString))))
	require.NoError(t, err)
	person, err := r.Define("person", WithProxy(echoProxy{id: "p-1"}), Attributes(
		MustAttribute("id", OfKind(KindString)),
		MustAttribute("address", ModelOf(address), Embedded()),
		MustAttribute("lines", CollectionOf(line), Embedded()),
	))
	require.NoError(t, err)

	p, err := person.New(map[string]any{
		"address": map[string]any{"city": "Ghent"},
		"lines":   []any{map[string]any{"sku": "A"}, map[string]any{"sku": "B"}},
	})
	require.NoError(t, err)
	addr := mustGet(t, p, "address").(*Model)
	lines := mustGet(t, p, "lines").(*Collection)
	members := lines.Models()

	require.NoError(t, p.Save(context.Background()))

	assert.Equal(t, "p-1", mustGet(t, p, "id"))
	assert.Same(t, addr, mustGet(t, p, "address"))
	assert.Same(t, lines, mustGet(t, p, "lines"))
	assert.Equal(t, members, lines.Models())
	assert.False(t, p.IsModified())

	events := recordAll(p)
	require.NoError(t, addr.Set("city", "Bruges"))
	require.NoError(t, members[1].Set("sku", "C"))
	names := eventNames(*events)
	assert.Contains(t, names, "change:address.city")
	assert.Contains(t, names, "change:lines.sku")
	assert.True(t, p.IsModified())
}
