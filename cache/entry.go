package cache

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"
)

// MD5 returns the lower-case hex digest the server uses to compare contents.
func MD5(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Entry is the local state of one subscribed config item.
type Entry struct {
	Key    GroupKey
	TaskID int

	mu               sync.RWMutex
	content          string
	md5              string
	configType       string
	encryptedDataKey string
	lastModified     time.Time
	synced           bool
	refs             int
	discarded        bool
}

func newEntry(key GroupKey, taskID int) *Entry {
	return &Entry{
		Key:    key,
		TaskID: taskID,
		md5:    MD5(""),
	}
}

// Update replaces the content and reports the previous one. The digest is
// recomputed from content.
func (e *Entry) Update(content, configType, encryptedDataKey string, lastModified time.Time) (old string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old = e.content
	e.content = content
	e.md5 = MD5(content)
	e.configType = configType
	e.encryptedDataKey = encryptedDataKey
	e.lastModified = lastModified

	return old
}

func (e *Entry) Content() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.content
}

func (e *Entry) MD5() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.md5
}

func (e *Entry) ConfigType() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.configType
}

func (e *Entry) EncryptedDataKey() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.encryptedDataKey
}

func (e *Entry) LastModified() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastModified
}

// IsSynced reports whether the server is known to have the current digest
// under listen.
func (e *Entry) IsSynced() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.synced
}

func (e *Entry) SetSynced(synced bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.synced = synced
}

// IsDiscarded reports whether the last subscription was released. A discarded
// entry waits for the server to stop listening before it is removed.
func (e *Entry) IsDiscarded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.discarded
}

func (e *Entry) Refs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.refs
}
