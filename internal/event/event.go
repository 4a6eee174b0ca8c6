// Package event provides ordered listener lists with disposable
// subscriptions. Lists are not safe for concurrent use; they live on the
// event loop together with the state they describe.
package event

// Subscription cancels a registration. Close is idempotent.
type Subscription interface {
	Close()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

// Close calls f.
func (f SubscriptionFunc) Close() { f() }

// Nop is a Subscription that does nothing.
var Nop Subscription = SubscriptionFunc(func() {})

// List is an ordered set of listeners of type T.
type List[T any] struct {
	entries []*entry[T]
	nextID  uint64
}

type entry[T any] struct {
	id       uint64
	listener T
}

// Add registers l and returns a subscription removing it.
func (ls *List[T]) Add(l T) Subscription {
	ls.nextID++
	e := &entry[T]{id: ls.nextID, listener: l}
	ls.entries = append(ls.entries, e)
	return &subscription[T]{list: ls, id: e.id}
}

// Each calls fn for every listener in registration order. Listeners added
// or removed while iterating take effect on the next call.
func (ls *List[T]) Each(fn func(T)) {
	snapshot := make([]*entry[T], len(ls.entries))
	copy(snapshot, ls.entries)
	for _, e := range snapshot {
		fn(e.listener)
	}
}

// Len returns the number of registered listeners.
func (ls *List[T]) Len() int {
	return len(ls.entries)
}

func (ls *List[T]) remove(id uint64) {
	for i, e := range ls.entries {
		if e.id == id {
			ls.entries = append(ls.entries[:i], ls.entries[i+1:]...)
			return
		}
	}
}

type subscription[T any] struct {
	list   *List[T]
	id     uint64
	closed bool
}

func (s *subscription[T]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.list.remove(s.id)
}
