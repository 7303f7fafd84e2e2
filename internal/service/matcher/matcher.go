// Package matcher сопоставляет произнесённое название со списком кандидатов.
package matcher

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// Поддерживаемые бэкенды.
const (
	BackendOpenAI = "openai"
	BackendFuzzy  = "fuzzy"
)

// Config описывает сборку матчера.
type Config struct {
	// Backend: openai или fuzzy; если пусто, openai при наличии ключа, иначе fuzzy.
	Backend string
	OpenAI  OpenAIConfig
	Retry   RetryConfig
	// BreakerFailures и BreakerReset настраивают circuit breaker; 0 отключает его.
	BreakerFailures int
	BreakerReset    time.Duration
	CacheTTL        time.Duration
}

// DefaultConfig возвращает конфигурацию матчера по умолчанию.
func DefaultConfig() Config {
	return Config{
		Retry:           DefaultRetryConfig(),
		BreakerFailures: 5,
		BreakerReset:    30 * time.Second,
		CacheTTL:        time.Hour,
	}
}

// New собирает цепочку: кэш → retry + circuit breaker → бэкенд. cache может быть nil.
func New(cfg Config, cache Cache, logger *log.Entry) (domain.Matcher, error) {
	if logger == nil {
		logger = log.WithField("component", "matcher")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendFuzzy
		if cfg.OpenAI.APIKey != "" {
			backend = BackendOpenAI
		}
	}

	var m domain.Matcher
	switch backend {
	case BackendOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai matcher requires an API key")
		}
		var breaker *CircuitBreaker
		if cfg.BreakerFailures > 0 {
			breaker = NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset, logger.WithField("part", "breaker"))
		}
		m = NewResilient(NewOpenAI(cfg.OpenAI, logger), cfg.Retry, breaker, logger.WithField("part", "retry"))
	case BackendFuzzy:
		m = NewFuzzy()
	default:
		return nil, fmt.Errorf("unknown matcher backend %q", cfg.Backend)
	}

	if cache != nil && cfg.CacheTTL > 0 {
		m = NewCached(m, cache, cfg.CacheTTL, logger.WithField("part", "cache"))
	}

	logger.WithField("backend", backend).Info("Matcher configured")
	return m, nil
}
