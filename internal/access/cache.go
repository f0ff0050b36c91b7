// Package access caches board visibility answers in front of the database.
package access

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/gosuda/boardsync/internal/domain"
)

const (
	defaultTTL      = 30 * time.Second
	defaultCapacity = 100_000
)

type key struct {
	user  uuid.UUID
	board uuid.UUID
}

// CachedPolicy memoises CanViewBoard answers for a fixed TTL. Errors are
// never cached. A hit does not extend the lifetime of an answer.
type CachedPolicy struct {
	next  domain.AccessPolicy
	cache *ttlcache.Cache[key, bool]
}

var (
	_ domain.AccessPolicy      = (*CachedPolicy)(nil)
	_ domain.AccessInvalidator = (*CachedPolicy)(nil)
)

// NewCachedPolicy wraps next. A non-positive ttl falls back to 30s and a
// non-positive capacity to 100k answers; the least recently used answer is
// evicted once the cache is full.
func NewCachedPolicy(next domain.AccessPolicy, ttl time.Duration, capacity int) *CachedPolicy {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &CachedPolicy{
		next: next,
		cache: ttlcache.New[key, bool](
			ttlcache.WithTTL[key, bool](ttl),
			ttlcache.WithCapacity[key, bool](uint64(capacity)),
			ttlcache.WithDisableTouchOnHit[key, bool](),
		),
	}
}

func (p *CachedPolicy) CanViewBoard(ctx context.Context, userID, boardID uuid.UUID) (bool, error) {
	k := key{user: userID, board: boardID}
	if item := p.cache.Get(k); item != nil {
		return item.Value(), nil
	}

	allowed, err := p.next.CanViewBoard(ctx, userID, boardID)
	if err != nil {
		return false, err
	}
	p.cache.Set(k, allowed, ttlcache.DefaultTTL)
	return allowed, nil
}

// Invalidate forgets the answer for (userID, boardID).
func (p *CachedPolicy) Invalidate(userID, boardID uuid.UUID) {
	p.cache.Delete(key{user: userID, board: boardID})
}

// InvalidateUser forgets every answer for userID.
func (p *CachedPolicy) InvalidateUser(userID uuid.UUID) {
	for _, k := range p.cache.Keys() {
		if k.user == userID {
			p.cache.Delete(k)
		}
	}
}

// Len reports the number of cached answers, expired ones included until
// the cleaner removes them.
func (p *CachedPolicy) Len() int { return p.cache.Len() }

// Run removes expired answers in the background until ctx ends.
func (p *CachedPolicy) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.cache.Stop()
	}()
	p.cache.Start()
}
