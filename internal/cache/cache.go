package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Package cache tracks short-lived investigation state in memory.
//
// RunRegistry records which incident ids have a run in flight so a duplicate
// trigger (webhook retries, double-clicks) can be rejected instead of racing
// the first run. Entries expire after a TTL so a crashed run never blocks an
// incident forever.

// RunRegistry is an expiring set of in-flight incident ids mapped to run ids.
type RunRegistry struct {
	c *gocache.Cache
}

// NewRunRegistry creates a registry whose entries expire after ttl.
// ttl <= 0 means entries never expire on their own.
func NewRunRegistry(ttl time.Duration) *RunRegistry {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	cleanup := ttl
	if cleanup == gocache.NoExpiration || cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	return &RunRegistry{c: gocache.New(ttl, cleanup)}
}

// Acquire marks incidentID as in flight with runID. It returns the existing
// run id and false when another run already holds the incident.
func (r *RunRegistry) Acquire(incidentID, runID string) (string, bool) {
	if err := r.c.Add(incidentID, runID, gocache.DefaultExpiration); err != nil {
		if existing, ok := r.c.Get(incidentID); ok {
			return existing.(string), false
		}
		// Expired between Add and Get; try once more.
		if err := r.c.Add(incidentID, runID, gocache.DefaultExpiration); err != nil {
			return "", false
		}
	}
	return runID, true
}

// Release clears the in-flight mark of incidentID.
func (r *RunRegistry) Release(incidentID string) {
	r.c.Delete(incidentID)
}

// Lookup returns the run id holding incidentID, if any.
func (r *RunRegistry) Lookup(incidentID string) (string, bool) {
	v, ok := r.c.Get(incidentID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Len returns the number of in-flight incidents.
func (r *RunRegistry) Len() int {
	return r.c.ItemCount()
}

// Index keeps recently started values addressable by id until they expire.
type Index[T any] struct {
	c *gocache.Cache
}

// NewIndex creates an index whose entries expire after ttl.
func NewIndex[T any](ttl time.Duration) *Index[T] {
	if ttl <= 0 {
		ttl = time.Hour
	}
	cleanup := ttl
	if cleanup > 10*time.Minute {
		cleanup = 10 * time.Minute
	}
	return &Index[T]{c: gocache.New(ttl, cleanup)}
}

// Put stores v under id, replacing any previous value.
func (i *Index[T]) Put(id string, v T) {
	i.c.SetDefault(id, v)
}

// Get returns the value stored under id.
func (i *Index[T]) Get(id string) (T, bool) {
	v, ok := i.c.Get(id)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}
