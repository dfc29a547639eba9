// Package model implements the reactive data graph: typed attributes,
// dirty tracking with commit and rollback, embedded model and collection
// composition with path-addressed change bubbling, a cycle-safe converter to
// plain data, and an identity cache deduplicating models by type and id.
//
// The graph follows a single-threaded, synchronous, re-entrant call model.
// Models and collections are not safe for concurrent use; a change handler
// may call Set again and the outermost Set reports the whole batch as one
// "changeset" event. Only the IdentityCache and the persistence proxies are
// safe to share between goroutines.
//
// Events fired by a Model:
//
//	change:<name>  (model, name, new, old)           one attribute changed
//	change         (model, name, new, old[, ctx])    any attribute changed
//	changeset      (model, newValues, oldValues)     end of the outermost Set
//	change:<path>  bubbled from embedded children, see ChangeContext
//	commit, rollback, destroy (model)
//
// Events fired by a Collection:
//
//	add      (collection, added []*Model)
//	remove   (collection, removed []*Model)
//	reorder  (collection, model, newIndex, oldIndex)
//	sort     (collection)
//	commit, rollback (collection)
//
// plus every event of every member model, relayed with the original arguments.
package model

import (
	"github.com/google/uuid"

	"github.com/teranos/datagraph/event"
)

// Component is the contract shared by Model and Collection: an identity
// token, events, and the commit/rollback state machine.
type Component interface {
	ClientID() string
	On(name string, handler event.Handler, opts ...event.Option) *event.Subscription
	Off(s *event.Subscription)
	Fire(name string, args ...any) bool
	Commit()
	Rollback()

	// visit variants carry the set of client ids already walked so
	// embedded cycles terminate.
	modifiedVisit(seen map[string]bool) bool
	commitVisit(seen map[string]bool)
	rollbackVisit(seen map[string]bool)
}

func newClientID() string {
	return uuid.NewString()
}

// asComponent unwraps v into a Component, treating typed nil pointers as absent.
func asComponent(v any) (Component, bool) {
	switch c := v.(type) {
	case *Model:
		if c == nil {
			return nil, false
		}
		return c, true
	case *Collection:
		if c == nil {
			return nil, false
		}
		return c, true
	}
	return nil, false
}
