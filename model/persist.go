package model

import (
	"context"
	"slices"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/logger"
)

// Proxy performs persistence for models of the types it is bound to.
// Each method must eventually call req.Finish exactly once, either before
// returning or, when req.Async is set, from its own goroutine.
type Proxy interface {
	Create(ctx context.Context, m *Model, req *Request)
	Read(ctx context.Context, m *Model, req *Request)
	Update(ctx context.Context, m *Model, req *Request)
	Destroy(ctx context.Context, m *Model, req *Request)
}

// Request is one proxy call. Data is the persisted raw snapshot of the model
// taken when the call was issued.
type Request struct {
	Data  map[string]any
	Async bool

	Success  func(data map[string]any)
	Error    func(err error)
	Complete func()
}

// Finish reports the outcome: Success or Error, then Complete.
func (r *Request) Finish(data map[string]any, err error) {
	if err != nil {
		if r.Error != nil {
			r.Error(err)
		}
	} else if r.Success != nil {
		r.Success(data)
	}
	if r.Complete != nil {
		r.Complete()
	}
}

// Run executes fn and finishes the request with its result, on a new
// goroutine when the request is asynchronous.
func (r *Request) Run(ctx context.Context, fn func(ctx context.Context) (map[string]any, error)) {
	run := func() {
		if err := ctx.Err(); err != nil {
			r.Finish(nil, err)
			return
		}
		r.Finish(fn(ctx))
	}
	if r.Async {
		go run()
		return
	}
	run()
}

type persistOptions struct {
	async      bool
	onSuccess  func(*Model)
	onError    func(*Model, error)
	onComplete func(*Model)
}

// PersistOption configures Save, Load and Destroy.
type PersistOption func(*persistOptions)

// Async lets the proxy complete the call on its own goroutine. The call then
// returns nil right away and outcomes arrive through the callbacks; the
// caller is responsible for serializing access to the model.
func Async() PersistOption {
	return func(o *persistOptions) { o.async = true }
}

// OnSuccess runs after the model has been updated from the proxy response.
func OnSuccess(f func(*Model)) PersistOption {
	return func(o *persistOptions) { o.onSuccess = f }
}

// OnError runs when the proxy reports a failure.
func OnError(f func(*Model, error)) PersistOption {
	return func(o *persistOptions) { o.onError = f }
}

// OnComplete runs last, after success or failure.
func OnComplete(f func(*Model)) PersistOption {
	return func(o *persistOptions) { o.onComplete = f }
}

func (m *Model) request(op string, opts []PersistOption, success func(map[string]any) error) (*Request, *error) {
	var o persistOptions
	for _, opt := range opts {
		opt(&o)
	}

	result := new(error)
	fail := func(err error) {
		*result = err
		logger.Debugw("Persistence call failed",
			logger.FieldOperation, op,
			logger.FieldModelType, m.typ.name,
			logger.FieldClientID, m.clientID,
			logger.FieldError, err,
		)
		if o.onError != nil {
			o.onError(m, err)
		}
	}

	req := &Request{
		Async: o.async,
		Success: func(data map[string]any) {
			if err := success(data); err != nil {
				fail(err)
				return
			}
			if o.onSuccess != nil {
				o.onSuccess(m)
			}
		},
		Error: fail,
		Complete: func() {
			if o.onComplete != nil {
				o.onComplete(m)
			}
		},
	}
	return req, result
}

func (m *Model) proxy(op string) (Proxy, error) {
	if m.typ.proxy == nil {
		return nil, errors.Mark(errors.Newf("%s %s: no proxy bound", op, m.typ.name), errors.ErrNoProxy)
	}
	return m.typ.proxy, nil
}

// Save persists the model with exactly one proxy call: Create when the id
// attribute holds no value, Update otherwise. On success the response data
// is applied, the model is committed, and attributes changed while the
// request was in flight keep their local value and stay modified.
func (m *Model) Save(ctx context.Context, opts ...PersistOption) error {
	p, err := m.proxy("save")
	if err != nil {
		return err
	}
	hasID, err := m.HasID()
	if err != nil {
		return err
	}
	payload, err := m.Snapshot()
	if err != nil {
		return err
	}
	inflight := make(map[string]any, len(m.data))
	for name, v := range m.data {
		inflight[name] = v
	}

	op := "create"
	if hasID {
		op = "update"
	}
	req, result := m.request(op, opts, func(data map[string]any) error {
		return m.reconcile(data, inflight)
	})
	req.Data = payload

	if hasID {
		p.Update(ctx, m, req)
	} else {
		p.Create(ctx, m, req)
	}
	if req.Async {
		return nil
	}
	return *result
}

// reconcile applies server data to every attribute not changed since the
// snapshot, commits, then re-marks the ones that did change as modified
// relative to the saved value.
func (m *Model) reconcile(data map[string]any, inflight map[string]any) error {
	var changed []string
	for _, name := range m.typ.order {
		before, hadBefore := inflight[name]
		cur, hasNow := m.data[name]
		if hadBefore != hasNow || !m.typ.attributes[name].valuesEqual(before, cur) {
			changed = append(changed, name)
		}
	}

	update := make(map[string]any, len(data))
	for name, v := range data {
		if _, ok := m.typ.attributes[name]; !ok || slices.Contains(changed, name) {
			continue
		}
		update[name] = v
	}
	if err := m.SetValues(update); err != nil {
		return err
	}
	m.Commit()
	m.typ.registry.cache.adopt(m)

	for _, name := range changed {
		m.modified[name] = inflight[name]
		m.dirty = true
	}
	return nil
}

// Load replaces declared attributes with the proxy's data and commits.
func (m *Model) Load(ctx context.Context, opts ...PersistOption) error {
	p, err := m.proxy("load")
	if err != nil {
		return err
	}
	hasID, err := m.HasID()
	if err != nil {
		return err
	}
	if !hasID {
		return errors.Mark(errors.Newf("load %s: model has no id", m.typ.name), errors.ErrInvalidRequest)
	}

	req, result := m.request("read", opts, func(data map[string]any) error {
		values := make(map[string]any, len(data))
		for name, v := range data {
			if _, ok := m.typ.attributes[name]; ok {
				values[name] = v
			}
		}
		if err := m.SetValues(values); err != nil {
			return err
		}
		m.Commit()
		return nil
	})
	if req.Data, err = m.Snapshot(); err != nil {
		return err
	}

	p.Read(ctx, m, req)
	if req.Async {
		return nil
	}
	return *result
}

// Destroy deletes the model through its proxy and fires "destroy", which
// removes it from every collection holding it. A model without an id was
// never persisted and is destroyed without a proxy call.
func (m *Model) Destroy(ctx context.Context, opts ...PersistOption) error {
	hasID, err := m.HasID()
	if err != nil {
		return err
	}
	id, _ := m.ID()

	req, result := m.request("destroy", opts, func(map[string]any) error {
		m.Fire("destroy", m)
		if m.typ.registry.releaseOnDestroy {
			m.typ.registry.cache.releaseIf(m.typ, id, m)
		}
		return nil
	})
	if !hasID {
		req.Finish(nil, nil)
		return nil
	}

	p, err := m.proxy("destroy")
	if err != nil {
		return err
	}
	if req.Data, err = m.Snapshot(); err != nil {
		return err
	}

	p.Destroy(ctx, m, req)
	if req.Async {
		return nil
	}
	return *result
}
