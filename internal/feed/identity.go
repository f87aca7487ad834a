package feed

import (
	"context"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const placeholderAvatars = 8

// IdentityResolver resolves author IDs to identities through batched lookups
// and keeps every fetched identity for the lifetime of the resolver.
type IdentityResolver struct {
	fetcher IdentityFetcher
	logger  *zap.Logger
	group   singleflight.Group

	mu      sync.RWMutex
	cache   map[string]Identity
	version uint64
}

// NewIdentityResolver creates a session-scoped resolver. fetcher may be nil,
// in which case every unknown ID resolves to its placeholder.
func NewIdentityResolver(fetcher IdentityFetcher, logger *zap.Logger) *IdentityResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityResolver{
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string]Identity),
	}
}

// Resolve returns an identity for every requested ID. IDs already cached are
// served from memory; the rest are fetched in a single batch. IDs the batch
// does not return, or all of them when the batch fails, fall back to
// PlaceholderIdentity. A caller whose ctx ends early gets placeholders for
// the IDs still in flight; the batch itself is not cancelled.
func (r *IdentityResolver) Resolve(ctx context.Context, ids []string) map[string]Identity {
	out := make(map[string]Identity, len(ids))
	var missing []string

	r.mu.RLock()
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		if identity, ok := r.cache[id]; ok {
			out[id] = identity
			continue
		}
		out[id] = Identity{}
		missing = append(missing, id)
	}
	r.mu.RUnlock()

	if len(missing) > 0 && r.fetcher != nil {
		slices.Sort(missing)
		missing = slices.Compact(missing)
		key := strings.Join(missing, ",")
		// The batch is shared by every caller asking for the same IDs and
		// must not end with any one of them.
		batch := r.group.DoChan(key, func() (any, error) {
			identities, err := r.fetcher.FetchIdentities(context.WithoutCancel(ctx), missing)
			if err == nil {
				r.merge(identities)
			}
			return identities, err
		})
		select {
		case res := <-batch:
			if res.Err != nil {
				r.logger.Warn("identity batch lookup failed",
					zap.Int("ids", len(missing)),
					zap.Error(res.Err),
				)
			}
		case <-ctx.Done():
			r.logger.Debug("identity batch abandoned by caller",
				zap.Int("ids", len(missing)),
				zap.Error(ctx.Err()),
			)
		}
	}

	for _, id := range missing {
		out[id] = r.Lookup(id)
	}
	return out
}

func (r *IdentityResolver) merge(identities []Identity) {
	if len(identities) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, identity := range identities {
		if identity.ID == "" {
			continue
		}
		placeholder := PlaceholderIdentity(identity.ID)
		if strings.TrimSpace(identity.DisplayName) == "" {
			identity.DisplayName = placeholder.DisplayName
		}
		if strings.TrimSpace(identity.AvatarRef) == "" {
			identity.AvatarRef = placeholder.AvatarRef
		}
		identity.Placeholder = false
		r.cache[identity.ID] = identity
	}
	r.version++
}

// Cached reads the cache without touching the network.
func (r *IdentityResolver) Cached(id string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.cache[id]
	return identity, ok
}

// Lookup returns the cached identity for id or its placeholder.
func (r *IdentityResolver) Lookup(id string) Identity {
	if identity, ok := r.Cached(id); ok {
		return identity
	}
	return PlaceholderIdentity(id)
}

// Version changes whenever the cache gains entries.
func (r *IdentityResolver) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Len is the number of cached identities.
func (r *IdentityResolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// PlaceholderIdentity derives a stable, non-empty identity from id.
func PlaceholderIdentity(id string) Identity {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	sum := h.Sum32()
	return Identity{
		ID:          id,
		DisplayName: fmt.Sprintf("user-%06x", sum&0xffffff),
		AvatarRef:   fmt.Sprintf("placeholder:avatar/%d", sum%placeholderAvatars),
		Placeholder: true,
	}
}
