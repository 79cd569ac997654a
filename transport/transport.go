// Package transport defines the messaging-network capability the bridge is
// built on. The wire protocol is opaque; adapters implement Client over a
// concrete network SDK.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/benmessaoud/chatvault/models"
)

// ErrEntityNotFound is returned by GetEntity when the provider has no record
// of the requested peer.
var ErrEntityNotFound = errors.New("transport: entity not found")

// Entity is the provider's view of a peer.
type Entity struct {
	ID        string
	FirstName string
	LastName  string
	Username  string
	Phone     string
	IsBot     bool
	Presence  *models.Presence
}

// MediaRef references an attachment carried by an event. Ref is the
// provider-specific handle passed back to DownloadMedia.
type MediaRef struct {
	Kind models.MediaKind
	Ref  any
}

// Event is one inbound notification describing a new message.
type Event struct {
	ID     int64
	Date   time.Time
	Text   string
	Media  *MediaRef
	PeerID string
	FromID string
	Out    bool

	// Sender, when set, is the entity the provider attached to the event.
	// It lets the resolver skip a network lookup.
	Sender *Entity
}

// EventFilter restricts which events are delivered to a handler.
type EventFilter struct {
	// DirectOnly limits delivery to direct user-to-user peers.
	DirectOnly bool
	// IncludeOutgoing also delivers self-sent messages.
	IncludeOutgoing bool
}

// EventHandler consumes one inbound event. A returned error must not stop
// the listener; callers log it and keep serving.
type EventHandler func(ctx context.Context, ev Event) error

// CodeProvider supplies the one-time login code during the interactive
// authentication fallback. It is an external collaborator so that automated
// restarts never block on a terminal prompt.
type CodeProvider interface {
	Code(ctx context.Context) (string, error)
}

// Credentials drives the interactive authentication fallback.
type Credentials struct {
	Phone    string
	Password string
	Codes    CodeProvider
}

// Client is the opaque messaging-network capability.
type Client interface {
	// Connect dials the network without authenticating.
	Connect(ctx context.Context) error
	// IsConnected reports whether the link is currently up.
	IsConnected() bool
	// CheckAuthorization reports whether the current credential is valid.
	CheckAuthorization(ctx context.Context) (bool, error)
	// Start runs the interactive authentication fallback.
	Start(ctx context.Context, creds Credentials) error
	// RestoreCredential installs a previously exported credential blob.
	RestoreCredential(blob []byte) error
	// ExportCredential serializes the current session for resumption.
	ExportCredential() ([]byte, error)
	// GetEntity resolves a peer id to its entity.
	GetEntity(ctx context.Context, id string) (*Entity, error)
	// DownloadMedia fetches the raw bytes of an attachment.
	DownloadMedia(ctx context.Context, ref MediaRef) ([]byte, error)
	// SendMessage sends text to a peer and returns the provider-assigned
	// message id.
	SendMessage(ctx context.Context, peerID, text string) (int64, error)
	// AddEventHandler registers a consumer for new-message events matching
	// the filter.
	AddEventHandler(filter EventFilter, handler EventHandler)
	// Disconnect tears down the link. Safe when already disconnected.
	Disconnect()
}

// QRAuthenticator is implemented by transports that pair via QR code.
type QRAuthenticator interface {
	QRCode(ctx context.Context) (string, error)
}

// CodeFunc adapts a function to the CodeProvider interface.
type CodeFunc func(ctx context.Context) (string, error)

// Code implements CodeProvider.
func (f CodeFunc) Code(ctx context.Context) (string, error) {
	return f(ctx)
}
