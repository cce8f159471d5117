// Package cache provides the injected record caches. Caches are owned by
// the process that constructs them and passed in explicitly; there are no
// package-level instances.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kozaktomas/face-finder/internal/store"
)

// Photos is a TTL-bounded LRU of photo records, used to resolve photo
// candidates during match classification without hammering the record store.
// Reconciliation writes bypass it; entries for updated photos are dropped.
type Photos struct {
	lru *expirable.LRU[string, *store.PhotoRecord]
}

// NewPhotos creates a photo cache with the given capacity and TTL.
func NewPhotos(size int, ttl time.Duration) *Photos {
	return &Photos{lru: expirable.NewLRU[string, *store.PhotoRecord](size, nil, ttl)}
}

// Get returns a cached record, if present and fresh.
func (c *Photos) Get(photoID string) (*store.PhotoRecord, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(photoID)
}

// Add stores a record.
func (c *Photos) Add(rec *store.PhotoRecord) {
	if c == nil || rec == nil {
		return
	}
	c.lru.Add(rec.ID, rec)
}

// Remove drops a record, typically after its matched_users changed.
func (c *Photos) Remove(photoID string) {
	if c == nil {
		return
	}
	c.lru.Remove(photoID)
}

// Len returns the number of cached records.
func (c *Photos) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
