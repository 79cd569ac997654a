package services

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/skip2/go-qrcode"

	"github.com/benmessaoud/chatvault/connection"
	"github.com/benmessaoud/chatvault/models"
	"github.com/benmessaoud/chatvault/store"
	"github.com/benmessaoud/chatvault/transport"
)

// Service is the read/send surface consumed by the HTTP API and MCP tools.
type Service interface {
	ListConversations(ctx context.Context) ([]*models.Conversation, error)
	GetConversation(ctx context.Context, peerID string) (*models.Conversation, error)
	GetProfile(ctx context.Context, peerID string) (*models.Profile, error)
	Search(ctx context.Context, query string) ([]*models.Conversation, error)
	MediaFile(ctx context.Context, name string) (string, error)
	Send(ctx context.Context, peerID, text string) (int64, error)
	Status(ctx context.Context) (models.Status, error)
	QRImage(ctx context.Context) ([]byte, error)
	Login(ctx context.Context) error
}

type service struct {
	store   *store.Store
	manager *connection.Manager
}

// NewService creates a Service over the conversation store and the
// connection manager.
func NewService(st *store.Store, manager *connection.Manager) Service {
	return &service{store: st, manager: manager}
}

// ListConversations returns all conversations, most recent first.
func (s *service) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	return s.store.List()
}

// GetConversation returns one conversation or store.ErrNotFound.
func (s *service) GetConversation(ctx context.Context, peerID string) (*models.Conversation, error) {
	return s.store.Get(peerID)
}

// GetProfile returns the stored profile of a peer or store.ErrNotFound.
func (s *service) GetProfile(ctx context.Context, peerID string) (*models.Profile, error) {
	conv, err := s.store.Get(peerID)
	if err != nil {
		return nil, err
	}
	return &conv.Profile, nil
}

// Search matches profiles by name or username, case-insensitively.
func (s *service) Search(ctx context.Context, query string) ([]*models.Conversation, error) {
	return s.store.Search(query)
}

// MediaFile resolves a stored media file name to its on-disk path.
func (s *service) MediaFile(ctx context.Context, name string) (string, error) {
	return s.store.MediaFile(name)
}

// Send delivers a message through the connection manager.
func (s *service) Send(ctx context.Context, peerID, text string) (int64, error) {
	return s.manager.Send(ctx, peerID, text)
}

// Status reports the connection state.
func (s *service) Status(ctx context.Context) (models.Status, error) {
	return s.manager.Status(), nil
}

// QRImage renders the current pairing QR as PNG. Returns nil bytes when the
// session is already authorized or no code is pending.
func (s *service) QRImage(ctx context.Context) ([]byte, error) {
	if st := s.manager.Status(); st.Authorized {
		return nil, nil
	}

	qa, ok := s.manager.Client().(transport.QRAuthenticator)
	if !ok {
		return nil, fmt.Errorf("transport does not support QR pairing")
	}

	code, err := qa.QRCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get QR code: %w", err)
	}
	if code == "" {
		return nil, nil
	}

	qrCode, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qrCode.Image(256)); err != nil {
		return nil, fmt.Errorf("failed to encode QR code image: %w", err)
	}
	return buf.Bytes(), nil
}

// Login (re)initializes the connection. No-op when already initialized.
func (s *service) Login(ctx context.Context) error {
	return s.manager.Initialize(ctx)
}
