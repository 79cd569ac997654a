// Package ingest turns inbound transport events into durable conversation
// records: dedup, profile enrichment, media download, commit.
package ingest

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/benmessaoud/chatvault/models"
	"github.com/benmessaoud/chatvault/transport"
)

// ConversationStore is the slice of the store the pipeline needs.
type ConversationStore interface {
	Load(peerID string) (*models.Conversation, error)
	Save(peerID string, conv *models.Conversation) error
}

// Pipeline is the event consumer invoked once per inbound event.
type Pipeline struct {
	store    ConversationStore
	resolver *Resolver
	media    *Fetcher
	locks    *peerLocks
	log      zerolog.Logger

	// processed short-circuits duplicate delivery within this process run.
	// Bounded: the per-conversation id check below is the durable guard.
	processed *lru.Cache[string, struct{}]
}

// NewPipeline creates a pipeline. processedSize bounds the transient dedup
// set and defaults to 4096 when non-positive.
func NewPipeline(store ConversationStore, resolver *Resolver, media *Fetcher, processedSize int, log zerolog.Logger) (*Pipeline, error) {
	if processedSize <= 0 {
		processedSize = 4096
	}
	processed, err := lru.New[string, struct{}](processedSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create processed-event set: %w", err)
	}

	return &Pipeline{
		store:     store,
		resolver:  resolver,
		media:     media,
		locks:     newPeerLocks(),
		log:       log.With().Str("component", "pipeline").Logger(),
		processed: processed,
	}, nil
}

func eventKey(ev transport.Event) string {
	return fmt.Sprintf("%s:%d", ev.PeerID, ev.ID)
}

// HandleEvent processes one inbound event. Re-delivering the same event is a
// no-op. Errors are returned to the consumer boundary, which logs them and
// keeps the listener alive.
func (p *Pipeline) HandleEvent(ctx context.Context, ev transport.Event) error {
	key := eventKey(ev)
	if p.processed.Contains(key) {
		p.log.Debug().Int64("event_id", ev.ID).Str("peer_id", ev.PeerID).Msg("event already processed, skipping")
		return nil
	}

	// Read-modify-write below is only safe serialized per peer.
	unlock := p.locks.lock(ev.PeerID)
	defer unlock()

	conv, err := p.store.Load(ev.PeerID)
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", ev.PeerID, err)
	}

	if conv.Profile.FirstName == "" || conv.Profile.Username == "" {
		conv.Profile = p.resolver.ResolveProfile(ctx, ev)
	}

	// Durable dedup guard; the processed set above is a cheap short-circuit.
	if conv.HasMessage(ev.ID) {
		p.log.Debug().Int64("event_id", ev.ID).Str("peer_id", ev.PeerID).Msg("message already stored, skipping")
		p.processed.Add(key, struct{}{})
		return nil
	}

	msg := models.Message{
		ID:   ev.ID,
		Date: ev.Date,
		Text: ev.Text,
	}
	if ev.Media != nil {
		msg.MediaType = ev.Media.Kind
		msg.MediaPath = p.media.Fetch(ctx, ev)
	}

	conv.Append(msg)

	if err := p.store.Save(ev.PeerID, conv); err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", ev.PeerID, err)
	}
	p.processed.Add(key, struct{}{})

	p.log.Info().
		Int64("event_id", ev.ID).
		Str("peer_id", ev.PeerID).
		Bool("has_media", ev.Media != nil).
		Msg("message stored")
	return nil
}
