// Package proxy binds record stores to models. A Store deals in plain
// records keyed by type and id; Adapter turns one into a model.Proxy.
package proxy

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/logger"
	"github.com/teranos/datagraph/model"
)

// Key addresses one record. ID is empty on Create.
type Key struct {
	Type        string
	IDAttribute string
	ID          string
}

// Store persists records. Implementations return the stored record, which
// the model then takes its server-side values from. Missing records are
// reported with an error marked errors.ErrNotFound.
type Store interface {
	Create(ctx context.Context, key Key, data map[string]any) (map[string]any, error)
	Read(ctx context.Context, key Key) (map[string]any, error)
	Update(ctx context.Context, key Key, data map[string]any) (map[string]any, error)
	Delete(ctx context.Context, key Key) error
}

// Lister is implemented by stores that can enumerate a type's records.
type Lister interface {
	List(ctx context.Context, typ string) ([]map[string]any, error)
}

// Adapter implements model.Proxy on top of a Store
type Adapter struct {
	store Store
	log   *zap.SugaredLogger
}

// New wraps store. A nil logger disables logging.
func New(store Store, log *zap.SugaredLogger) *Adapter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Adapter{store: store, log: log}
}

// Store returns the wrapped store
func (a *Adapter) Store() Store { return a.store }

func (a *Adapter) Create(ctx context.Context, m *model.Model, req *model.Request) {
	key := Key{Type: m.Type().Name(), IDAttribute: m.Type().IDAttributeName()}
	a.run(ctx, "create", key, req, func(ctx context.Context) (map[string]any, error) {
		return a.store.Create(ctx, key, req.Data)
	})
}

func (a *Adapter) Read(ctx context.Context, m *model.Model, req *model.Request) {
	key, err := keyOf(m)
	if err != nil {
		req.Finish(nil, err)
		return
	}
	a.run(ctx, "read", key, req, func(ctx context.Context) (map[string]any, error) {
		return a.store.Read(ctx, key)
	})
}

func (a *Adapter) Update(ctx context.Context, m *model.Model, req *model.Request) {
	key, err := keyOf(m)
	if err != nil {
		req.Finish(nil, err)
		return
	}
	a.run(ctx, "update", key, req, func(ctx context.Context) (map[string]any, error) {
		return a.store.Update(ctx, key, req.Data)
	})
}

func (a *Adapter) Destroy(ctx context.Context, m *model.Model, req *model.Request) {
	key, err := keyOf(m)
	if err != nil {
		req.Finish(nil, err)
		return
	}
	a.run(ctx, "destroy", key, req, func(ctx context.Context) (map[string]any, error) {
		return nil, a.store.Delete(ctx, key)
	})
}

func (a *Adapter) run(ctx context.Context, op string, key Key, req *model.Request, fn func(context.Context) (map[string]any, error)) {
	req.Run(ctx, func(ctx context.Context) (map[string]any, error) {
		start := time.Now()
		data, err := fn(ctx)
		fields := []any{
			logger.FieldOperation, op,
			logger.FieldModelType, key.Type,
			logger.FieldModelID, key.ID,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		}
		if err != nil {
			a.log.Debugw("Store operation failed", append(fields, logger.FieldError, err)...)
			return nil, errors.Wrapf(err, "%s %s", op, key.Type)
		}
		a.log.Debugw("Store operation", fields...)
		return data, nil
	})
}

func keyOf(m *model.Model) (Key, error) {
	id, err := m.ID()
	if err != nil {
		return Key{}, err
	}
	s, err := FormatID(id)
	if err != nil {
		return Key{}, err
	}
	return Key{Type: m.Type().Name(), IDAttribute: m.Type().IDAttributeName(), ID: s}, nil
}

// FormatID renders an id value as a record key. Integral floats, as
// decoded from JSON, format like the integers they stand for.
func FormatID(id any) (string, error) {
	switch v := id.(type) {
	case nil:
		return "", errors.NewInvalidRequestError("model has no id")
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	return "", errors.NewInvalidRequestError("unsupported id type %T", id)
}
