package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmessaoud/chatvault/models"
	"github.com/benmessaoud/chatvault/transport"
)

// EntityFetcher is the slice of the transport the resolver needs.
type EntityFetcher interface {
	GetEntity(ctx context.Context, id string) (*transport.Entity, error)
}

// Resolver resolves a peer id to profile attributes, caching entities in
// memory for the lifetime of the process.
type Resolver struct {
	fetcher EntityFetcher
	log     zerolog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]*transport.Entity
}

// NewResolver creates a resolver backed by the given entity fetcher.
func NewResolver(fetcher EntityFetcher, log zerolog.Logger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		log:     log.With().Str("component", "resolver").Logger(),
		now:     time.Now,
		cache:   make(map[string]*transport.Entity),
	}
}

// ResolveProfile derives the sender's profile for an event. Resolution is
// best-effort: cache first, then the entity attached to the event, then a
// direct lookup. When everything fails it returns a minimal profile so that
// enrichment never blocks message persistence.
func (r *Resolver) ResolveProfile(ctx context.Context, ev transport.Event) models.Profile {
	peerID := ev.PeerID

	r.mu.RLock()
	entity, ok := r.cache[peerID]
	r.mu.RUnlock()

	if !ok {
		entity = ev.Sender
		if entity == nil {
			var err error
			entity, err = r.fetcher.GetEntity(ctx, peerID)
			if err != nil {
				r.log.Warn().Err(err).Str("peer_id", peerID).Msg("entity lookup failed")
				entity = nil
			}
		}
		if entity != nil {
			r.mu.Lock()
			r.cache[peerID] = entity
			r.mu.Unlock()
		}
	}

	if entity == nil {
		return models.Profile{ID: peerID, LastUpdated: r.now()}
	}

	return models.Profile{
		ID:          peerID,
		FirstName:   entity.FirstName,
		LastName:    entity.LastName,
		Username:    entity.Username,
		Phone:       entity.Phone,
		IsBot:       entity.IsBot,
		LastUpdated: r.now(),
		Presence:    entity.Presence,
	}
}
