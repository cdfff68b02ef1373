// Package signal provides scoped observer registration for lifecycle notifications.
//
// A Signal holds an ordered list of handlers. Subscribe returns a
// Subscription that removes its handler when cancelled. Emission iterates a
// snapshot of the handler list and skips handlers cancelled mid-emission, so
// a handler may cancel itself, cancel a sibling, or destroy the object that
// owns the signal without corrupting the iteration.
//
// Signals are not safe for concurrent use. They are driven from the single
// goroutine that owns the event loop.
package signal

// Signal is an ordered set of handlers receiving values of type T.
type Signal[T any] struct {
	subs []*Subscription[T]
}

// Subscription is a handle on one registered handler.
type Subscription[T any] struct {
	owner   *Signal[T]
	handler func(T)
	active  bool
}

// Subscribe appends handler and returns its Subscription.
func (s *Signal[T]) Subscribe(handler func(T)) *Subscription[T] {
	sub := &Subscription[T]{owner: s, handler: handler, active: true}
	s.subs = append(s.subs, sub)
	return sub
}

// Emit delivers v to every handler subscribed at the time of the call.
func (s *Signal[T]) Emit(v T) {
	if len(s.subs) == 0 {
		return
	}
	snapshot := make([]*Subscription[T], len(s.subs))
	copy(snapshot, s.subs)
	for _, sub := range snapshot {
		if sub.active {
			sub.handler(v)
		}
	}
}

// Len returns the number of active subscriptions.
func (s *Signal[T]) Len() int {
	return len(s.subs)
}

// Reset cancels every subscription.
func (s *Signal[T]) Reset() {
	for _, sub := range s.subs {
		sub.active = false
	}
	s.subs = nil
}

// Cancel removes the handler. It is safe to call more than once and on nil.
func (sub *Subscription[T]) Cancel() {
	if sub == nil || !sub.active {
		return
	}
	sub.active = false
	subs := sub.owner.subs
	for i, other := range subs {
		if other == sub {
			sub.owner.subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

// Active reports whether the handler is still registered.
func (sub *Subscription[T]) Active() bool {
	return sub != nil && sub.active
}

// Canceler is anything with a Cancel method. Subscriptions of different
// element types share it, so owners can keep them in one slice.
type Canceler interface {
	Cancel()
}

// CancelAll cancels every non-nil entry.
func CancelAll(cs ...Canceler) {
	for _, c := range cs {
		if c != nil {
			c.Cancel()
		}
	}
}
