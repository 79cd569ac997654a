package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmessaoud/chatvault/models"
	"github.com/benmessaoud/chatvault/transport"
)

// memStore mimics the file store: Load hands out an independent copy of the
// committed record, so lost updates are observable when serialization breaks.
type memStore struct {
	mu      sync.Mutex
	records map[string][]byte
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string][]byte)}
}

func (m *memStore) Load(peerID string) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.records[peerID]
	if !ok {
		return models.NewConversation(peerID, time.Now()), nil
	}
	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (m *memStore) Save(peerID string, conv *models.Conversation) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[peerID] = data
	m.mu.Unlock()
	return nil
}

func (m *memStore) get(t *testing.T, peerID string) *models.Conversation {
	t.Helper()
	conv, err := m.Load(peerID)
	require.NoError(t, err)
	return conv
}

func newTestPipeline(t *testing.T, st ConversationStore, fetcher *fakeEntityFetcher, down MediaDownloader) *Pipeline {
	t.Helper()
	if fetcher == nil {
		fetcher = &fakeEntityFetcher{err: transport.ErrEntityNotFound}
	}
	if down == nil {
		down = &fakeDownloader{data: []byte("img")}
	}
	media, _ := newTestFetcher(down, &fakeSink{}, 3)
	p, err := NewPipeline(st, NewResolver(fetcher, zerolog.Nop()), media, 16, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestHandleEventStoresMessage(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st, nil, nil)

	ev := transport.Event{
		ID:     42,
		PeerID: "7",
		Date:   time.Unix(1700000000, 0).UTC(),
		Text:   "hi",
	}
	require.NoError(t, p.HandleEvent(context.Background(), ev))

	conv := st.get(t, "7")
	require.Len(t, conv.Messages, 1)
	msg := conv.Messages[0]
	assert.Equal(t, int64(42), msg.ID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), msg.Date)
	assert.Equal(t, "hi", msg.Text)
	assert.Empty(t, msg.MediaType)
	assert.Empty(t, msg.MediaPath)
}

func TestHandleEventRedeliveryIsNoOp(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st, nil, nil)

	ev := transport.Event{ID: 42, PeerID: "7", Date: time.Unix(1700000000, 0).UTC(), Text: "hi"}
	require.NoError(t, p.HandleEvent(context.Background(), ev))
	require.NoError(t, p.HandleEvent(context.Background(), ev))

	conv := st.get(t, "7")
	assert.Len(t, conv.Messages, 1)
}

func TestHandleEventDurableDedupSurvivesRestart(t *testing.T) {
	st := newMemStore()
	ev := transport.Event{ID: 42, PeerID: "7", Date: time.Unix(1700000000, 0).UTC(), Text: "hi"}

	p := newTestPipeline(t, st, nil, nil)
	require.NoError(t, p.HandleEvent(context.Background(), ev))

	// A fresh pipeline has an empty transient set; the stored record is the
	// authoritative guard.
	restarted := newTestPipeline(t, st, nil, nil)
	require.NoError(t, restarted.HandleEvent(context.Background(), ev))

	conv := st.get(t, "7")
	assert.Len(t, conv.Messages, 1)
}

func TestHandleEventKeepsMessagesSorted(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st, nil, nil)
	base := time.Unix(1700000000, 0).UTC()

	for _, ev := range []transport.Event{
		{ID: 2, PeerID: "7", Date: base.Add(2 * time.Hour)},
		{ID: 1, PeerID: "7", Date: base},
		{ID: 3, PeerID: "7", Date: base.Add(time.Hour)},
	} {
		require.NoError(t, p.HandleEvent(context.Background(), ev))
	}

	conv := st.get(t, "7")
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, int64(1), conv.Messages[0].ID)
	assert.Equal(t, int64(3), conv.Messages[1].ID)
	assert.Equal(t, int64(2), conv.Messages[2].ID)
}

func TestHandleEventMediaFailureOmitsPathOnly(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st, nil, &fakeDownloader{failures: 10})

	ev := transport.Event{
		ID:     42,
		PeerID: "7",
		Date:   time.Unix(1700000000, 0).UTC(),
		Media:  &transport.MediaRef{Kind: models.MediaPhoto, Ref: "blob"},
	}
	require.NoError(t, p.HandleEvent(context.Background(), ev))

	conv := st.get(t, "7")
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.MediaPhoto, conv.Messages[0].MediaType)
	assert.Empty(t, conv.Messages[0].MediaPath)
}

func TestHandleEventDownloadsMedia(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st, nil, &fakeDownloader{data: []byte("img")})

	ev := transport.Event{
		ID:     42,
		PeerID: "7",
		Date:   time.Unix(1700000000, 0).UTC(),
		Media:  &transport.MediaRef{Kind: models.MediaVoice, Ref: "blob"},
	}
	require.NoError(t, p.HandleEvent(context.Background(), ev))

	conv := st.get(t, "7")
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.MediaVoice, conv.Messages[0].MediaType)
	assert.Contains(t, conv.Messages[0].MediaPath, "_42.ogg")
}

func TestHandleEventRefreshesIncompleteProfile(t *testing.T) {
	st := newMemStore()
	fetcher := &fakeEntityFetcher{entity: &transport.Entity{ID: "7", FirstName: "Anna", Username: "anna"}}
	p := newTestPipeline(t, st, fetcher, nil)

	ev := transport.Event{ID: 1, PeerID: "7", Date: time.Unix(1700000000, 0).UTC(), Text: "hi"}
	require.NoError(t, p.HandleEvent(context.Background(), ev))

	conv := st.get(t, "7")
	assert.Equal(t, "Anna", conv.Profile.FirstName)
	assert.Equal(t, "anna", conv.Profile.Username)
	assert.Equal(t, 1, fetcher.calls)

	// A complete profile is not re-resolved.
	ev.ID = 2
	require.NoError(t, p.HandleEvent(context.Background(), ev))
	assert.Equal(t, 1, fetcher.calls)
}

func TestHandleEventSaveFailurePropagates(t *testing.T) {
	st := newMemStore()
	st.saveErr = errors.New("disk gone")
	p := newTestPipeline(t, st, nil, nil)

	ev := transport.Event{ID: 42, PeerID: "7", Date: time.Unix(1700000000, 0).UTC()}
	err := p.HandleEvent(context.Background(), ev)
	require.Error(t, err)

	// Failed commits must not mark the event processed.
	st.saveErr = nil
	require.NoError(t, p.HandleEvent(context.Background(), ev))
	assert.Len(t, st.get(t, "7").Messages, 1)
}

func TestHandleEventSerializesPerPeer(t *testing.T) {
	st := newMemStore()
	p := newTestPipeline(t, st, nil, nil)
	base := time.Unix(1700000000, 0).UTC()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := transport.Event{ID: int64(i), PeerID: "7", Date: base.Add(time.Duration(i) * time.Second)}
			_ = p.HandleEvent(context.Background(), ev)
		}(i)
	}
	wg.Wait()

	// Without per-peer serialization the read-modify-write cycle loses
	// updates; with it every event survives.
	conv := st.get(t, "7")
	assert.Len(t, conv.Messages, 50)
}
