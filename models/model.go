package models

import (
	"sort"
	"time"
)

// MediaKind tags the kind of attachment carried by a message.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaVoice    MediaKind = "voice"
	MediaSticker  MediaKind = "sticker"
	MediaUnknown  MediaKind = "unknown"
)

// Ext returns the file extension used when storing media of this kind.
func (k MediaKind) Ext() string {
	switch k {
	case MediaPhoto:
		return ".jpg"
	case MediaDocument:
		return ".doc"
	case MediaVideo:
		return ".mp4"
	case MediaAudio:
		return ".mp3"
	case MediaVoice:
		return ".ogg"
	case MediaSticker:
		return ".webp"
	default:
		return ".bin"
	}
}

// Presence describes the last known online state of a peer.
type Presence struct {
	Type     string     `json:"type"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Profile holds the resolved attributes of a peer. Fields other than ID and
// LastUpdated stay empty until enrichment succeeds.
type Profile struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"firstName,omitempty"`
	LastName    string    `json:"lastName,omitempty"`
	Username    string    `json:"username,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	IsBot       bool      `json:"isBot"`
	LastUpdated time.Time `json:"lastUpdated"`
	Presence    *Presence `json:"presence,omitempty"`
}

// Message is one persisted message of a conversation.
type Message struct {
	ID        int64     `json:"id"`
	Date      time.Time `json:"date"`
	Text      string    `json:"text"`
	MediaType MediaKind `json:"mediaType,omitempty"`
	MediaPath string    `json:"mediaPath,omitempty"`
}

// Conversation is the durable per-peer record: resolved profile plus the
// ordered message history.
type Conversation struct {
	PeerID   string    `json:"peerId"`
	Profile  Profile   `json:"profile"`
	Messages []Message `json:"messages"`
}

// NewConversation returns the default record for a peer with no history.
func NewConversation(peerID string, now time.Time) *Conversation {
	return &Conversation{
		PeerID: peerID,
		Profile: Profile{
			ID:          peerID,
			LastUpdated: now,
		},
		Messages: []Message{},
	}
}

// HasMessage reports whether a message with the given id is already recorded.
func (c *Conversation) HasMessage(id int64) bool {
	for _, m := range c.Messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Append adds a message and re-sorts the history by date ascending. It is a
// no-op returning false when the message id is already present.
func (c *Conversation) Append(msg Message) bool {
	if c.HasMessage(msg.ID) {
		return false
	}
	c.Messages = append(c.Messages, msg)
	sort.SliceStable(c.Messages, func(i, j int) bool {
		return c.Messages[i].Date.Before(c.Messages[j].Date)
	})
	return true
}

// LastMessageDate returns the date of the newest message, or the zero time
// for an empty history.
func (c *Conversation) LastMessageDate() time.Time {
	if len(c.Messages) == 0 {
		return time.Time{}
	}
	return c.Messages[len(c.Messages)-1].Date
}

// Status reports the connection manager state for the status endpoint.
type Status struct {
	State       string `json:"state"`
	Connected   bool   `json:"connected"`
	Authorized  bool   `json:"authorized"`
	Initialized bool   `json:"initialized"`
}
