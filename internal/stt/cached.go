package stt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/lipsync"
)

// CachedTranscriber memoizes word timestamps for identical audio. Repeated
// utterances ("Dobrý den") are common in avatar sessions. Only successful
// transcriptions are cached.
type CachedTranscriber struct {
	next   lipsync.Transcriber
	cache  *lru.Cache[string, []lipsync.TimestampedWord]
	logger zerolog.Logger
}

var _ lipsync.Transcriber = (*CachedTranscriber)(nil)

// NewCachedTranscriber wraps next with an LRU of the given size.
func NewCachedTranscriber(next lipsync.Transcriber, size int, logger zerolog.Logger) (*CachedTranscriber, error) {
	cache, err := lru.New[string, []lipsync.TimestampedWord](size)
	if err != nil {
		return nil, fmt.Errorf("create transcription cache: %w", err)
	}
	return &CachedTranscriber{
		next:   next,
		cache:  cache,
		logger: logger.With().Str("component", "stt-cache").Logger(),
	}, nil
}

// TranscribeWords returns cached words or delegates to the wrapped transcriber.
func (c *CachedTranscriber) TranscribeWords(ctx context.Context, file []byte, language string) ([]lipsync.TimestampedWord, error) {
	key := cacheKey(file, language)
	if words, ok := c.cache.Get(key); ok {
		c.logger.Debug().Str("key", key[:12]).Msg("Transcription cache hit")
		return clone(words), nil
	}

	words, err := c.next.TranscribeWords(ctx, file, language)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, clone(words))
	return words, nil
}

// Len returns the number of cached transcriptions.
func (c *CachedTranscriber) Len() int {
	return c.cache.Len()
}

// Purge drops every cached transcription.
func (c *CachedTranscriber) Purge() {
	c.cache.Purge()
}

func cacheKey(file []byte, language string) string {
	h := sha256.New()
	h.Write([]byte(isoLanguage(language)))
	h.Write([]byte{0})
	h.Write(file)
	return hex.EncodeToString(h.Sum(nil))
}

func clone(words []lipsync.TimestampedWord) []lipsync.TimestampedWord {
	if words == nil {
		return nil
	}
	return append([]lipsync.TimestampedWord(nil), words...)
}
