// Package event provides the synchronous publish/subscribe mixin embedded by
// models and collections.
//
// Delivery is synchronous and in registration order. A handler returning
// false makes Fire return false, but the remaining handlers still run.
// After every named event a synthetic "all" event fires with the original
// event name prepended to the original arguments.
//
// An Observable is not safe for concurrent use; it follows the
// single-threaded, re-entrant call model of the data graph.
package event

// All is the synthetic event fired after every other named event.
const All = "all"

// Handler receives the fired arguments. Returning false vetoes the Fire
// result without stopping delivery to the remaining handlers.
type Handler func(args ...any) bool

// Subscription is the handle returned by On; it identifies one registration.
type Subscription struct {
	owner     *Observable
	name      string
	handler   Handler
	once      bool
	cancelled bool
}

// Cancel removes the registration. Cancelling twice is a no-op.
func (s *Subscription) Cancel() {
	if s == nil || s.cancelled {
		return
	}
	s.owner.Off(s)
}

// Name returns the event name the subscription listens to.
func (s *Subscription) Name() string { return s.name }

// Option configures a registration.
type Option func(*Subscription)

// Once makes the handler fire at most one time.
func Once() Option {
	return func(s *Subscription) { s.once = true }
}

type pending struct {
	name string
	args []any
}

// Observable is the event mixin. The zero value is ready to use.
type Observable struct {
	listeners map[string][]*Subscription
	suspended int
	queue     bool
	queued    []pending
}

// On registers handler for the named event.
func (o *Observable) On(name string, handler Handler, opts ...Option) *Subscription {
	s := &Subscription{owner: o, name: name, handler: handler}
	for _, opt := range opts {
		opt(s)
	}
	if o.listeners == nil {
		o.listeners = make(map[string][]*Subscription)
	}
	o.listeners[name] = append(o.listeners[name], s)
	return s
}

// Off removes a registration made by On.
func (o *Observable) Off(s *Subscription) {
	if s == nil || s.owner != o || s.cancelled {
		return
	}
	s.cancelled = true
	list := o.listeners[s.name]
	for i, l := range list {
		if l == s {
			// copy so an in-flight Fire keeps iterating its own snapshot
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(o.listeners, s.name)
			} else {
				o.listeners[s.name] = next
			}
			return
		}
	}
}

// HasListeners reports whether anything listens to name.
func (o *Observable) HasListeners(name string) bool {
	return len(o.listeners[name]) > 0
}

// Fire delivers the event to its handlers and then to "all" handlers.
// It returns false if any handler returned false.
func (o *Observable) Fire(name string, args ...any) bool {
	if o.suspended > 0 {
		if o.queue {
			o.queued = append(o.queued, pending{name: name, args: args})
		}
		return true
	}

	ok := o.deliver(name, args)
	if name != All {
		withName := make([]any, 0, len(args)+1)
		withName = append(withName, name)
		withName = append(withName, args...)
		if !o.deliver(All, withName) {
			ok = false
		}
	}
	return ok
}

func (o *Observable) deliver(name string, args []any) bool {
	list := o.listeners[name]
	if len(list) == 0 {
		return true
	}

	ok := true
	for _, s := range list {
		if s.cancelled {
			continue
		}
		if s.once {
			o.Off(s)
		}
		if !s.handler(args...) {
			ok = false
		}
	}
	return ok
}

// Suspend stops delivery until the matching Resume. With queue set, events
// fired while suspended are delivered in order on the outermost Resume;
// otherwise they are dropped.
func (o *Observable) Suspend(queue bool) {
	if o.suspended == 0 {
		o.queue = queue
	}
	o.suspended++
}

// Resume undoes one Suspend and flushes the queue when the count reaches zero.
func (o *Observable) Resume() {
	if o.suspended == 0 {
		return
	}
	o.suspended--
	if o.suspended > 0 {
		return
	}

	queued := o.queued
	o.queued = nil
	o.queue = false
	for _, p := range queued {
		o.Fire(p.name, p.args...)
	}
}

// IsSuspended reports whether delivery is currently suspended.
func (o *Observable) IsSuspended() bool {
	return o.suspended > 0
}
