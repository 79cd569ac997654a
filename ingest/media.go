package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmessaoud/chatvault/transport"
)

// MediaDownloader is the slice of the transport the fetcher needs.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, ref transport.MediaRef) ([]byte, error)
}

// MediaSink writes downloaded bytes to content storage.
type MediaSink interface {
	SaveMedia(name string, data []byte) (string, error)
}

// Fetcher downloads event attachments with bounded retry and writes them to
// content storage under a time-addressed name.
type Fetcher struct {
	downloader MediaDownloader
	sink       MediaSink
	attempts   int
	log        zerolog.Logger
	now        func() time.Time

	// wait is replaced in tests to observe backoff without sleeping.
	wait func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher. attempts defaults to 3 when non-positive.
func NewFetcher(downloader MediaDownloader, sink MediaSink, attempts int, log zerolog.Logger) *Fetcher {
	if attempts <= 0 {
		attempts = 3
	}
	return &Fetcher{
		downloader: downloader,
		sink:       sink,
		attempts:   attempts,
		log:        log.With().Str("component", "media").Logger(),
		now:        time.Now,
		wait: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// Fetch downloads the attachment of an event, if any, and returns its
// storage-relative path. Failure is soft: exhausting all attempts logs the
// error and returns the empty path, never an error that would abort message
// persistence.
func (f *Fetcher) Fetch(ctx context.Context, ev transport.Event) string {
	if ev.Media == nil {
		return ""
	}

	name := fmt.Sprintf("%d_%d%s", f.now().UnixMilli(), ev.ID, ev.Media.Kind.Ext())

	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		data, err := f.downloader.DownloadMedia(ctx, *ev.Media)
		if err == nil {
			path, err := f.sink.SaveMedia(name, data)
			if err != nil {
				f.log.Error().Err(err).Str("file", name).Msg("failed to store media")
				return ""
			}
			f.log.Debug().Str("file", name).Int("bytes", len(data)).Msg("media downloaded")
			return path
		}
		lastErr = err

		if attempt == f.attempts {
			break
		}
		delay := time.Duration(attempt) * time.Second
		f.log.Warn().
			Err(err).
			Int64("event_id", ev.ID).
			Int("attempt", attempt).
			Int("max_attempts", f.attempts).
			Dur("retry_delay", delay).
			Msg("media download failed, retrying")
		if err := f.wait(ctx, delay); err != nil {
			return ""
		}
	}

	f.log.Error().
		Err(lastErr).
		Int64("event_id", ev.ID).
		Int("attempts", f.attempts).
		Msg("media download exhausted, storing message without media")
	return ""
}
