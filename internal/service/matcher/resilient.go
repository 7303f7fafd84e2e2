package matcher

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// RetryConfig: повторы вызова матчера с экспоненциальной задержкой.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig: три попытки с паузами 200 мс и 400 мс.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// backoff возвращает паузу перед повтором номер retry (с единицы).
func (c RetryConfig) backoff(retry int) time.Duration {
	d := c.InitialDelay
	for i := 1; i < retry; i++ {
		d = time.Duration(float64(d) * c.BackoffFactor)
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// ResilientMatcher повторяет сбои внешнего матчера, а breaker перестаёт его
// вызывать, пока тот недоступен. Серия повторов считается для breaker одним вызовом.
type ResilientMatcher struct {
	next    domain.Matcher
	config  RetryConfig
	breaker *CircuitBreaker
	logger  *log.Entry
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewResilient оборачивает матчер. breaker может быть nil.
func NewResilient(next domain.Matcher, config RetryConfig, breaker *CircuitBreaker, logger *log.Entry) *ResilientMatcher {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = log.WithField("component", "matcher-retry")
	}
	return &ResilientMatcher{next: next, config: config, breaker: breaker, logger: logger, sleep: sleepContext}
}

func (m *ResilientMatcher) Match(ctx context.Context, candidates []domain.MatchCandidate, query string) (string, error) {
	if m.breaker == nil {
		return m.attempt(ctx, candidates, query)
	}

	var answer string
	err := m.breaker.Execute("match", func() error {
		var err error
		answer, err = m.attempt(ctx, candidates, query)
		return err
	})
	return answer, err
}

func (m *ResilientMatcher) attempt(ctx context.Context, candidates []domain.MatchCandidate, query string) (string, error) {
	entry := m.logger.WithField("query", query)

	for n := 1; ; n++ {
		answer, err := m.next.Match(ctx, candidates, query)
		switch {
		case err == nil:
			if n > 1 {
				entry.WithField("attempt", n).Info("Matcher succeeded after retry")
			}
			return answer, nil
		case !retryable(err):
			return "", err
		case n >= m.config.MaxAttempts:
			entry.WithError(err).WithField("attempts", n).Error("Matcher failed after all retry attempts")
			return "", err
		}

		delay := m.config.backoff(n)
		entry.WithError(err).WithFields(log.Fields{"attempt": n, "delay": delay}).Warn("Matcher failed, retrying")
		if err := m.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

// retryable: отмену и дедлайн вызывающей стороны не повторяем.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
