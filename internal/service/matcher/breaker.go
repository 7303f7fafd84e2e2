package matcher

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// errAbandoned: вызов под breaker завершился паникой и не вернул ошибку.
var errAbandoned = errors.New("call abandoned by panic")

// CircuitState: состояние breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker размыкается после maxFailures ошибок подряд. Через resetTimeout
// пропускает ровно один пробный вызов; остальные до его завершения получают ErrCircuitOpen.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	logger       *log.Entry
	now          func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
}

// NewCircuitBreaker создаёт замкнутый breaker. maxFailures <= 0 означает размыкание после первой ошибки.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	if logger == nil {
		logger = log.WithField("component", "matcher-circuit-breaker")
	}
	return &CircuitBreaker{maxFailures: maxFailures, resetTimeout: resetTimeout, logger: logger, now: time.Now}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute вызывает fn, если breaker его пропускает. Паника в fn засчитывается как ошибка
// и пробрасывается дальше, поэтому пробный вызов не оставляет breaker полуоткрытым.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	if !cb.admit(operation) {
		return domain.ErrCircuitOpen
	}

	returned := false
	defer func() {
		if !returned {
			cb.settle(operation, errAbandoned)
		}
	}()
	err := fn()
	returned = true
	cb.settle(operation, err)
	return err
}

func (cb *CircuitBreaker) admit(operation string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) <= cb.resetTimeout {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("Circuit breaker half-open, probing")
		return true
	default:
		// пробный вызов уже идёт
		return false
	}
}

func (cb *CircuitBreaker) settle(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == CircuitHalfOpen {
			cb.logger.WithField("operation", operation).Info("Circuit breaker closed")
		}
		cb.state, cb.failures = CircuitClosed, 0
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		cb.state, cb.openedAt = CircuitOpen, cb.now()
		cb.logger.WithFields(log.Fields{"operation": operation, "failures": cb.failures}).
			WithError(err).Warn("Circuit breaker opened")
	}
}
