package auth

import (
	"time"

	"github.com/allegro/bigcache/v3"
)

type (
	// RejectCache remembers tokens that were definitively rejected, so
	// replaying them does not reach the store. Tokens never leave the
	// rejected state, so a cache miss only costs a store lookup.
	RejectCache struct {
		cache *bigcache.BigCache
	}
)

func NewRejectCache(ttl time.Duration) (*RejectCache, error) {
	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 10_000
	cfg.MaxEntrySize = 512
	cfg.HardMaxCacheSize = 64
	cfg.Verbose = false
	cache, err := bigcache.NewBigCache(cfg)
	if err != nil {
		return nil, err
	}
	return &RejectCache{cache: cache}, nil
}

func (r *RejectCache) Reject(token string) error {
	return r.cache.Set(token, []byte{1})
}

func (r *RejectCache) Rejected(token string) bool {
	buf, err := r.cache.Get(token)
	if err != nil {
		return false
	}
	return len(buf) > 0 && buf[0] == 1
}

func (r *RejectCache) Close() error {
	return r.cache.Close()
}
