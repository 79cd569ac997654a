// Package store persists conversation records as one JSON file per peer,
// next to a flat directory of downloaded media.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmessaoud/chatvault/models"
)

const (
	usersDir = "users"
	mediaDir = "media"
)

var (
	// ErrNotFound is returned by Get and MediaFile when no record exists.
	ErrNotFound = errors.New("store: not found")
	// ErrBadName is returned for identifiers unusable as file names.
	ErrBadName = errors.New("store: invalid name")
)

// Store is the file-backed conversation and media store.
type Store struct {
	dataDir string
	log     zerolog.Logger
	now     func() time.Time
}

// New creates the store and its data directories.
func New(dataDir string, log zerolog.Logger) (*Store, error) {
	for _, dir := range []string{filepath.Join(dataDir, usersDir), filepath.Join(dataDir, mediaDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return &Store{
		dataDir: dataDir,
		log:     log.With().Str("component", "store").Logger(),
		now:     time.Now,
	}, nil
}

func safeName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrBadName
	}
	if strings.ContainsAny(name, `/\`) {
		return ErrBadName
	}
	return nil
}

func (s *Store) recordPath(peerID string) string {
	return filepath.Join(s.dataDir, usersDir, peerID+".json")
}

// Load reads the record for a peer. A missing or unreadable record yields a
// freshly constructed default record; absence is not an error at this layer.
func (s *Store) Load(peerID string) (*models.Conversation, error) {
	if err := safeName(peerID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.recordPath(peerID))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("peer_id", peerID).Msg("unreadable record, starting fresh")
		}
		return models.NewConversation(peerID, s.now()), nil
	}

	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		s.log.Warn().Err(err).Str("peer_id", peerID).Msg("malformed record, starting fresh")
		return models.NewConversation(peerID, s.now()), nil
	}

	return &conv, nil
}

// Get reads the record for a peer, failing with ErrNotFound when no record
// exists. This is the strict read used by the external API.
func (s *Store) Get(peerID string) (*models.Conversation, error) {
	if err := safeName(peerID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.recordPath(peerID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var conv models.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}

	return &conv, nil
}

// Save overwrites the record for a peer. The write goes through a temp file
// and rename so readers never observe a partial record.
func (s *Store) Save(peerID string, conv *models.Conversation) error {
	if err := safeName(peerID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	path := s.recordPath(peerID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}

	return nil
}

// List returns all conversations sorted by most recent message first.
// Malformed records are skipped rather than failing the whole listing.
func (s *Store) List() ([]*models.Conversation, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, usersDir))
	if err != nil {
		return nil, fmt.Errorf("failed to read users directory: %w", err)
	}

	var convs []*models.Conversation
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dataDir, usersDir, entry.Name()))
		if err != nil {
			s.log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping unreadable record")
			continue
		}
		var conv models.Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			s.log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping malformed record")
			continue
		}
		convs = append(convs, &conv)
	}

	sortByLastMessage(convs)
	return convs, nil
}

// Search returns conversations whose profile name or username contains the
// query, case-insensitively, sorted by most recent message first.
func (s *Store) Search(query string) ([]*models.Conversation, error) {
	convs, err := s.List()
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	var matches []*models.Conversation
	for _, conv := range convs {
		haystack := strings.ToLower(strings.Join([]string{
			conv.Profile.FirstName,
			conv.Profile.LastName,
			conv.Profile.Username,
		}, " "))
		if strings.Contains(haystack, q) {
			matches = append(matches, conv)
		}
	}

	return matches, nil
}

func sortByLastMessage(convs []*models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].LastMessageDate().After(convs[j].LastMessageDate())
	})
}

// SaveMedia writes attachment bytes under the media directory and returns
// the storage-relative path recorded on the message.
func (s *Store) SaveMedia(name string, data []byte) (string, error) {
	if err := safeName(name); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dataDir, mediaDir, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write media: %w", err)
	}
	return mediaDir + "/" + name, nil
}

// MediaFile resolves a media file name to its on-disk path.
func (s *Store) MediaFile(name string) (string, error) {
	if err := safeName(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.dataDir, mediaDir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to stat media: %w", err)
	}
	return path, nil
}
