// Package whatsapp adapts the whatsmeow client to the transport interface.
package whatsapp

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/benmessaoud/chatvault/models"
	"github.com/benmessaoud/chatvault/transport"
)

// Client implements transport.Client over whatsmeow.
type Client struct {
	client *whatsmeow.Client
	log    zerolog.Logger

	mu     sync.Mutex
	lastQR string
}

var _ transport.Client = (*Client)(nil)
var _ transport.QRAuthenticator = (*Client)(nil)

// New creates the adapter with its device store under storeDir.
func New(storeDir string, log zerolog.Logger) (*Client, error) {
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	container, err := sqlstore.New("sqlite3", fmt.Sprintf("file:%s/device.db?_foreign_keys=on", storeDir), waLog.Stdout("Database", "ERROR", true))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device database: %w", err)
	}
	deviceStore, err := container.GetFirstDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return &Client{
		client: whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "ERROR", true)),
		log:    log.With().Str("component", "whatsapp").Logger(),
	}, nil
}

// Connect dials the network. With no paired device yet the dial is deferred
// to Start: the underlying client requires its QR channel to be claimed
// before the first connect.
func (w *Client) Connect(ctx context.Context) error {
	if w.client.Store.ID == nil {
		return nil
	}
	if w.client.IsConnected() {
		return nil
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// IsConnected reports whether the link is up.
func (w *Client) IsConnected() bool {
	return w.client.IsConnected()
}

// CheckAuthorization reports whether a paired device session exists.
func (w *Client) CheckAuthorization(ctx context.Context) (bool, error) {
	return w.client.Store.ID != nil || w.client.IsLoggedIn(), nil
}

// RestoreCredential checks the stored blob against the paired device. The
// session itself lives in the device database; the blob is the resumption
// marker handed back by ExportCredential.
func (w *Client) RestoreCredential(blob []byte) error {
	if len(blob) == 0 {
		return nil
	}
	if w.client.Store.ID == nil {
		return fmt.Errorf("no paired device for stored credential")
	}
	if w.client.Store.ID.String() != string(blob) {
		w.log.Warn().Str("stored", string(blob)).Msg("stored credential belongs to a different device")
	}
	return nil
}

// ExportCredential returns the resumption marker for the paired device.
func (w *Client) ExportCredential() ([]byte, error) {
	if w.client.Store.ID == nil {
		return nil, nil
	}
	return []byte(w.client.Store.ID.String()), nil
}

// Start runs the interactive pairing fallback: phone-code pairing when the
// account phone is configured, QR pairing otherwise.
func (w *Client) Start(ctx context.Context, creds transport.Credentials) error {
	if w.client.Store.ID != nil {
		return w.Connect(ctx)
	}

	if creds.Phone != "" {
		return w.pairPhone(ctx, creds.Phone)
	}
	return w.pairQR(ctx)
}

func (w *Client) pairPhone(ctx context.Context, phone string) error {
	if !w.client.IsConnected() {
		if err := w.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect for pairing: %w", err)
		}
	}

	code, err := w.client.PairPhone(strings.TrimPrefix(phone, "+"), true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return fmt.Errorf("failed to start phone pairing: %w", err)
	}
	w.log.Info().Str("code", code).Msg("enter this pairing code on the account phone")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.After(3 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timeout waiting for pairing code entry")
		case <-ticker.C:
			if w.client.IsLoggedIn() {
				return nil
			}
		}
	}
}

func (w *Client) pairQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect for pairing: %w", err)
	}

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			w.mu.Lock()
			w.lastQR = evt.Code
			w.mu.Unlock()
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
		case "success":
			w.mu.Lock()
			w.lastQR = ""
			w.mu.Unlock()
			w.log.Info().Msg("paired successfully")
			return nil
		default:
			return fmt.Errorf("unexpected QR event: %v", evt.Event)
		}
	}
	return fmt.Errorf("QR channel closed before pairing completed")
}

// QRCode returns the last pairing code produced by the QR flow, if any.
func (w *Client) QRCode(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastQR, nil
}

// GetEntity resolves a peer id through the contact store.
func (w *Client) GetEntity(ctx context.Context, id string) (*transport.Entity, error) {
	jid, err := parseJID(id)
	if err != nil {
		return nil, err
	}

	contact, err := w.client.Store.Contacts.GetContact(jid)
	if err != nil {
		return nil, fmt.Errorf("failed to look up contact: %w", err)
	}
	if !contact.Found {
		return nil, transport.ErrEntityNotFound
	}

	first := contact.FirstName
	if first == "" {
		first = contact.PushName
	}
	last := ""
	if contact.FullName != "" && strings.HasPrefix(contact.FullName, contact.FirstName) {
		last = strings.TrimSpace(strings.TrimPrefix(contact.FullName, contact.FirstName))
	}

	return &transport.Entity{
		ID:        jid.User,
		FirstName: first,
		LastName:  last,
		Username:  contact.PushName,
		Phone:     jid.User,
	}, nil
}

// DownloadMedia fetches the raw bytes of an attachment.
func (w *Client) DownloadMedia(ctx context.Context, ref transport.MediaRef) ([]byte, error) {
	downloadable, ok := ref.Ref.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("media reference is not downloadable")
	}

	data, err := w.client.Download(downloadable)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	return data, nil
}

// SendMessage sends text to a peer and returns the provider message id.
func (w *Client) SendMessage(ctx context.Context, peerID, text string) (int64, error) {
	jid, err := parseJID(peerID)
	if err != nil {
		return 0, err
	}

	msg := &waProto.Message{
		Conversation: proto.String(text),
	}

	resp, err := w.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	return messageIDToInt(string(resp.ID)), nil
}

// AddEventHandler registers a consumer for new-message events.
func (w *Client) AddEventHandler(filter transport.EventFilter, handler transport.EventHandler) {
	w.client.AddEventHandler(func(evt any) {
		switch v := evt.(type) {
		case *events.Message:
			info := v.Info
			if filter.DirectOnly && info.Chat.Server != types.DefaultUserServer {
				return
			}
			if info.IsFromMe && !filter.IncludeOutgoing {
				return
			}
			_ = handler(context.Background(), w.toEvent(v))
		case *events.Connected:
			w.log.Info().Msg("connected")
		case *events.Disconnected:
			w.log.Warn().Msg("disconnected")
		case *events.LoggedOut:
			w.log.Warn().Msg("device logged out, pairing required")
		}
	})
}

func (w *Client) toEvent(v *events.Message) transport.Event {
	info := v.Info
	ev := transport.Event{
		ID:     messageIDToInt(string(info.ID)),
		Date:   info.Timestamp,
		Text:   extractText(v.Message),
		Media:  extractMedia(v.Message),
		PeerID: info.Chat.User,
		FromID: info.Sender.User,
		Out:    info.IsFromMe,
	}
	if info.PushName != "" {
		ev.Sender = &transport.Entity{
			ID:        info.Sender.User,
			FirstName: info.PushName,
			Username:  info.PushName,
			Phone:     info.Sender.User,
		}
	}
	return ev
}

// Disconnect tears down the link.
func (w *Client) Disconnect() {
	w.client.Disconnect()
}

func parseJID(id string) (types.JID, error) {
	id = strings.TrimPrefix(id, "+")
	if strings.ContainsRune(id, '@') {
		jid, err := types.ParseJID(id)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid peer id: %w", err)
		}
		return jid, nil
	}
	return types.NewJID(id, types.DefaultUserServer), nil
}

// messageIDToInt maps provider message ids onto the archive's numeric id
// space. Numeric ids pass through unchanged; opaque ids are hashed.
func messageIDToInt(id string) int64 {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64() & (1<<63 - 1))
}

func extractText(msg *waProto.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if text := msg.GetExtendedTextMessage().GetText(); text != "" {
		return text
	}
	if caption := msg.GetImageMessage().GetCaption(); caption != "" {
		return caption
	}
	if caption := msg.GetVideoMessage().GetCaption(); caption != "" {
		return caption
	}
	return msg.GetDocumentMessage().GetCaption()
}

func extractMedia(msg *waProto.Message) *transport.MediaRef {
	if msg == nil {
		return nil
	}
	if im := msg.GetImageMessage(); im != nil {
		return &transport.MediaRef{Kind: models.MediaPhoto, Ref: im}
	}
	if st := msg.GetStickerMessage(); st != nil {
		return &transport.MediaRef{Kind: models.MediaSticker, Ref: st}
	}
	if vd := msg.GetVideoMessage(); vd != nil {
		return &transport.MediaRef{Kind: models.MediaVideo, Ref: vd}
	}
	if au := msg.GetAudioMessage(); au != nil {
		kind := models.MediaAudio
		if au.GetPTT() {
			kind = models.MediaVoice
		}
		return &transport.MediaRef{Kind: kind, Ref: au}
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return &transport.MediaRef{Kind: models.MediaDocument, Ref: doc}
	}
	return nil
}
