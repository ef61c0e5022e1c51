package client

import (
	"golang.org/x/exp/maps"

	"github.com/maxpoletaev/nacosclient/cache"
	"github.com/maxpoletaev/nacosclient/configdiff"
)

// ChangeEvent is delivered to config listeners when the content of a
// subscribed config changes. Changes is nil when the config type has no
// parser or either version could not be parsed.
type ChangeEvent struct {
	Key        cache.GroupKey
	Content    string
	OldContent string
	ConfigType string
	Changes    map[string]configdiff.ChangeItem
}

// Clone gives every listener its own copy of Changes.
func (e ChangeEvent) Clone() ChangeEvent {
	if e.Changes != nil {
		e.Changes = maps.Clone(e.Changes)
	}

	return e
}

// ConnectionEvent reports that the client got or lost its connection.
type ConnectionEvent struct {
	Connected bool
	ConnID    string
	Server    string
}
