package schema

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teranos/datagraph/errors"
	"github.com/teranos/datagraph/logger"
	"github.com/teranos/datagraph/model"
)

// DefaultDebounce coalesces bursts of writes from editors into one reload.
const DefaultDebounce = 500 * time.Millisecond

// ReloadCallback receives the fresh registry built from the changed file
// and the types defined in it
type ReloadCallback func(reg *model.Registry, types []*model.Type) error

// ErrorCallback receives reload failures such as parse errors
type ErrorCallback func(err error)

// Watcher reloads a schema file into a new registry every time it changes
type Watcher struct {
	path           string
	watcher        *fsnotify.Watcher
	registryOpts   []model.RegistryOption
	callbacks      []ReloadCallback
	errCallbacks   []ErrorCallback
	mu             sync.RWMutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	done           chan struct{}
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period after the last write before reloading
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debouncePeriod = d }
}

// WithRegistryOptions configures the registries built on reload
func WithRegistryOptions(opts ...model.RegistryOption) WatcherOption {
	return func(w *Watcher) { w.registryOpts = opts }
}

// NewWatcher watches the directory holding path so that editors which
// replace the file on save are still seen
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch schema directory for %s", abs)
	}

	w := &Watcher{
		path:           abs,
		watcher:        fw,
		debouncePeriod: DefaultDebounce,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// OnReload registers a callback run after every successful reload
func (w *Watcher) OnReload(callback ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// OnError registers a callback run when a reload fails
func (w *Watcher) OnError(callback ErrorCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errCallbacks = append(w.errCallbacks, callback)
}

// Start begins watching for schema changes
func (w *Watcher) Start() {
	go w.watchLoop()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debugw("Schema watcher detected change",
				logger.FieldFile, event.Name,
				logger.FieldOperation, event.Op.String())
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Schema watcher error", logger.FieldError, err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, func() {
		if err := w.Reload(); err != nil {
			logger.Errorw("Schema reload failed", logger.FieldFile, w.path, logger.FieldError, err)
		}
	})
}

// Reload loads the file into a new registry and runs the callbacks.
// Reload failures go to the error callbacks and are returned.
func (w *Watcher) Reload() error {
	reg := model.NewRegistry(w.registryOpts...)
	types, err := LoadFile(w.path, reg)

	w.mu.RLock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	errCallbacks := make([]ErrorCallback, len(w.errCallbacks))
	copy(errCallbacks, w.errCallbacks)
	w.mu.RUnlock()

	if err != nil {
		for _, cb := range errCallbacks {
			cb(err)
		}
		return err
	}

	logger.Infow("Schema reloaded", logger.FieldFile, w.path, logger.FieldCount, len(types))
	for _, callback := range callbacks {
		if err := callback(reg, types); err != nil {
			logger.Warnw("Schema reload callback error", logger.FieldError, err)
		}
	}
	return nil
}

// Stop stops watching
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()

	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.watcher.Close()
}
