// Package cache holds the local copies of subscribed config items. Entries
// are reference counted by subscription and assigned to listen tasks by hash.
package cache

import (
	"sync"

	"github.com/twmb/murmur3"
)

const (
	shardCount = 16

	DefaultTaskCount = 4
)

type shard struct {
	mu      sync.RWMutex
	entries map[GroupKey]*Entry
}

// Map is a concurrent map of entries. Keys are spread over independently
// locked shards.
type Map struct {
	shards    [shardCount]*shard
	taskCount int
}

func NewMap(taskCount int) *Map {
	if taskCount <= 0 {
		taskCount = DefaultTaskCount
	}

	m := &Map{taskCount: taskCount}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[GroupKey]*Entry)}
	}

	return m
}

func hashKey(key GroupKey) uint32 {
	return murmur3.Sum32([]byte(key.String()))
}

func (m *Map) shardOf(key GroupKey) *shard {
	return m.shards[hashKey(key)%shardCount]
}

// TaskOf returns the listen task the key belongs to.
func (m *Map) TaskOf(key GroupKey) int {
	return int(murmur3.SeedSum32(uint32(m.taskCount), []byte(key.String())) % uint32(m.taskCount))
}

func (m *Map) TaskCount() int {
	return m.taskCount
}

// Acquire returns the entry for key, creating it if needed, and takes a
// reference on it. A discarded entry is revived and has to be listened again.
func (m *Map) Acquire(key GroupKey) (entry *Entry, created bool) {
	s := m.shardOf(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		entry = newEntry(key, m.TaskOf(key))
		s.entries[key] = entry
		created = true
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.discarded {
		entry.discarded = false
		entry.synced = false
	}

	entry.refs++

	return entry, created
}

// Release drops a reference. When the last one is gone the entry is marked
// discarded and unsynced, and true is returned.
func (m *Map) Release(key GroupKey) bool {
	s := m.shardOf(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.refs > 0 {
		entry.refs--
	}

	if entry.refs == 0 && !entry.discarded {
		entry.discarded = true
		entry.synced = false

		return true
	}

	return false
}

func (m *Map) Get(key GroupKey) (*Entry, bool) {
	s := m.shardOf(key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]

	return entry, ok
}

// Delete removes the entry if it is still discarded. It reports whether the
// entry was removed.
func (m *Map) Delete(key GroupKey) bool {
	s := m.shardOf(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.IsDiscarded() {
		return false
	}

	delete(s.entries, key)

	return true
}

// Range calls fn for every entry until fn returns false. Each shard is copied
// under its read lock and fn runs without holding any lock.
func (m *Map) Range(fn func(entry *Entry) bool) {
	for _, s := range m.shards {
		s.mu.RLock()

		entries := make([]*Entry, 0, len(s.entries))
		for _, e := range s.entries {
			entries = append(entries, e)
		}

		s.mu.RUnlock()

		for _, e := range entries {
			if !fn(e) {
				return
			}
		}
	}
}

func (m *Map) Len() int {
	n := 0

	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}

	return n
}
