// Package namecache resolves participant display names asynchronously and
// caches the results.
package namecache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/chatterbox/internal/event"
	"github.com/thebtf/chatterbox/internal/loop"
	"github.com/thebtf/chatterbox/pkg/models"
)

// DefaultLookupTimeout bounds a single remote lookup.
const DefaultLookupTimeout = 10 * time.Second

// Lookup fetches a name from the authoritative source.
type Lookup interface {
	LookupName(ctx context.Context, id uuid.UUID) (models.AvatarName, error)
}

// Callback receives the resolved name. On lookup failure the name is the
// zero value; check IsValid.
type Callback func(id uuid.UUID, name models.AvatarName)

// Cache serves names from memory and falls back to Lookup. Concurrent
// requests for the same id share one lookup. Callbacks are delivered
// through the executor, never on the caller's stack.
type Cache struct {
	lookup  Lookup
	exec    loop.Executor
	timeout time.Duration
	group   singleflight.Group

	mu    sync.RWMutex
	names map[uuid.UUID]models.AvatarName
}

// New creates a cache. exec is where callbacks run.
func New(lookup Lookup, exec loop.Executor) *Cache {
	return &Cache{
		lookup:  lookup,
		exec:    exec,
		timeout: DefaultLookupTimeout,
		names:   make(map[uuid.UUID]models.AvatarName),
	}
}

// SetTimeout overrides the per-lookup timeout.
func (c *Cache) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Cached returns the name if it is already known.
func (c *Cache) Cached(id uuid.UUID) (models.AvatarName, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[id]
	return name, ok
}

// Put stores a name, e.g. one carried by an incoming message.
func (c *Cache) Put(id uuid.UUID, name models.AvatarName) {
	if !name.IsValid() {
		return
	}
	c.mu.Lock()
	c.names[id] = name
	c.mu.Unlock()
}

// Get resolves id and calls cb once. Closing the returned subscription
// before delivery suppresses the callback.
func (c *Cache) Get(id uuid.UUID, cb Callback) event.Subscription {
	var cancelled atomic.Bool
	sub := event.SubscriptionFunc(func() { cancelled.Store(true) })

	deliver := func(name models.AvatarName) {
		c.exec.Post(func() {
			if cancelled.Load() {
				return
			}
			cb(id, name)
		})
	}

	if name, ok := c.Cached(id); ok {
		deliver(name)
		return sub
	}

	go func() {
		name, err := c.resolve(id)
		if err != nil {
			log.Warn().Err(err).Str("id", id.String()).Msg("Name lookup failed")
		}
		deliver(name)
	}()
	return sub
}

func (c *Cache) resolve(id uuid.UUID) (models.AvatarName, error) {
	v, err, _ := c.group.Do(id.String(), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		name, err := c.lookup.LookupName(ctx, id)
		if err != nil {
			return models.AvatarName{}, err
		}
		c.Put(id, name)
		return name, nil
	})
	if err != nil {
		return models.AvatarName{}, err
	}
	return v.(models.AvatarName), nil
}

// Static is a Lookup backed by a fixed table.
type Static map[uuid.UUID]models.AvatarName

// LookupName implements Lookup.
func (s Static) LookupName(_ context.Context, id uuid.UUID) (models.AvatarName, error) {
	name, ok := s[id]
	if !ok {
		return models.AvatarName{}, fmt.Errorf("unknown participant %s", id)
	}
	return name, nil
}
