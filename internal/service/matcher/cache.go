package matcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// Cache хранит ответы матчера, реализация лежит в rediscache.Cache.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	GenerateKey(operation, key string) string
}

// CachedMatcher запоминает разобранные ответы матчера. Ошибки кэша не прерывают
// сопоставление, мусорные ответы не кэшируются.
type CachedMatcher struct {
	next   domain.Matcher
	cache  Cache
	ttl    time.Duration
	logger *log.Entry
}

// NewCached оборачивает матчер кэшем.
func NewCached(next domain.Matcher, cache Cache, ttl time.Duration, logger *log.Entry) *CachedMatcher {
	if logger == nil {
		logger = log.WithField("component", "matcher-cache")
	}
	return &CachedMatcher{next: next, cache: cache, ttl: ttl, logger: logger}
}

// Match возвращает ответ из кэша или спрашивает матчер.
func (m *CachedMatcher) Match(ctx context.Context, candidates []domain.MatchCandidate, query string) (string, error) {
	key, err := cacheKey(candidates, query)
	if err != nil {
		return m.next.Match(ctx, candidates, query)
	}
	key = m.cache.GenerateKey("match", key)

	cached, ok, err := m.cache.Get(ctx, key)
	switch {
	case err != nil:
		m.logger.WithError(err).Warn("Matcher cache read failed")
	case ok:
		m.logger.WithField("query", query).Debug("Matcher cache hit")
		return cached, nil
	}

	answer, err := m.next.Match(ctx, candidates, query)
	if err != nil {
		return "", err
	}

	id, parseErr := ParseResponse(answer)
	if parseErr != nil {
		return answer, nil
	}
	if err := m.cache.Set(ctx, key, FormatResponse(id), m.ttl); err != nil {
		m.logger.WithError(err).Warn("Matcher cache write failed")
	}
	return answer, nil
}

func cacheKey(candidates []domain.MatchCandidate, query string) (string, error) {
	payload, err := json.Marshal(candidates)
	if err != nil {
		return "", err
	}
	sum := sha256.New()
	sum.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	sum.Write([]byte{0})
	sum.Write(payload)
	return hex.EncodeToString(sum.Sum(nil)), nil
}
