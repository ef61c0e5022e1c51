// Package listener keeps track of who listens to what. Each subscription is an
// independent entry under its key, so several listeners may share a key and
// still be removed one by one.
package listener

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Listener[T any] interface {
	OnEvent(event T)
}

// Func adapts a function to the Listener interface.
type Func[T any] func(event T)

func (f Func[T]) OnEvent(event T) {
	f(event)
}

// Cloner is implemented by events that must be copied for each listener.
type Cloner[T any] interface {
	Clone() T
}

// Subscription identifies one registration. It is comparable and only equal
// to itself.
type Subscription[K comparable] struct {
	Key K
	id  uint64
}

func (s Subscription[K]) String() string {
	return fmt.Sprintf("%v#%d", s.Key, s.id)
}

type entry[T any] struct {
	id       uint64
	listener Listener[T]
}

type Registry[K comparable, T any] struct {
	mu      sync.RWMutex
	entries map[K][]entry[T]
	lastID  atomic.Uint64
	logger  log.Logger
}

func NewRegistry[K comparable, T any](logger log.Logger) *Registry[K, T] {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Registry[K, T]{
		entries: make(map[K][]entry[T]),
		logger:  logger,
	}
}

func (r *Registry[K, T]) Subscribe(key K, l Listener[T]) Subscription[K] {
	id := r.lastID.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[key] = append(r.entries[key], entry[T]{id: id, listener: l})

	return Subscription[K]{Key: key, id: id}
}

// Unsubscribe removes exactly the given registration. It reports whether the
// registration was still present.
func (r *Registry[K, T]) Unsubscribe(sub Subscription[K]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.entries[sub.Key]

	idx := slices.IndexFunc(entries, func(e entry[T]) bool {
		return e.id == sub.id
	})

	if idx < 0 {
		return false
	}

	entries = slices.Delete(entries, idx, idx+1)
	if len(entries) == 0 {
		delete(r.entries, sub.Key)
	} else {
		r.entries[sub.Key] = entries
	}

	return true
}

// Notify delivers event to every listener of every key.
func (r *Registry[K, T]) Notify(event T) {
	r.mu.RLock()

	var snapshot []entry[T]
	for _, entries := range r.entries {
		snapshot = append(snapshot, entries...)
	}

	r.mu.RUnlock()

	r.deliver(snapshot, event)
}

// NotifyKey delivers event to the listeners of key.
func (r *Registry[K, T]) NotifyKey(key K, event T) {
	r.mu.RLock()
	snapshot := append([]entry[T](nil), r.entries[key]...)
	r.mu.RUnlock()

	r.deliver(snapshot, event)
}

// deliver runs outside the lock, so listeners may subscribe or unsubscribe
// from within a callback.
func (r *Registry[K, T]) deliver(snapshot []entry[T], event T) {
	for _, e := range snapshot {
		r.invoke(e, event)
	}
}

func (r *Registry[K, T]) invoke(e entry[T], event T) {
	defer func() {
		if v := recover(); v != nil {
			level.Error(r.logger).Log("msg", "listener panicked", "listener_id", e.id, "panic", fmt.Sprint(v))
		}
	}()

	if c, ok := any(event).(Cloner[T]); ok {
		event = c.Clone()
	}

	e.listener.OnEvent(event)
}

// Len returns the number of registrations.
func (r *Registry[K, T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entries := range r.entries {
		n += len(entries)
	}

	return n
}

func (r *Registry[K, T]) KeyLen(key K) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[key])
}

// Keys returns the keys having at least one registration.
func (r *Registry[K, T]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Keys(r.entries)
}
