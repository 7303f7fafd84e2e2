package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

// keyStore держит ключи идемпотентности в карте. Наружу уходят только копии записей.
type keyStore struct {
	mu    sync.RWMutex
	keys  map[string]domain.IdempotencyRecord
	clock func() time.Time
}

// NewIdempotencyRepository создаёт in-memory реализацию IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &keyStore{keys: map[string]domain.IdempotencyRecord{}, clock: now}
}

// CreateProcessing занимает ключ. Просроченная, но ещё не удалённая запись считается свободной.
func (s *keyStore) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyClaim(key, requestHash, ttlAt, s.clock())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.keys[claim.Key]; ok && !held.Expired(claim.CreatedAt) {
		return detach(held), held.ClaimConflict(claim.RequestHash)
	}
	s.keys[claim.Key] = claim
	return detach(claim), nil
}

func (s *keyStore) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if record, ok := s.keys[key]; ok {
		return detach(record), nil
	}
	return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
}

func (s *keyStore) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return s.settle(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (s *keyStore) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return s.settle(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет записи с TTL не позже before, начиная с самых старых.
// limit <= 0 снимает ограничение.
func (s *keyStore) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = s.clock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	victims := make([]domain.IdempotencyRecord, 0, len(s.keys))
	for _, record := range s.keys {
		if record.Expired(before) {
			victims = append(victims, record)
		}
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].TTLAt.Before(victims[j].TTLAt) })
	if limit > 0 {
		victims = victims[:min(limit, len(victims))]
	}
	for _, record := range victims {
		delete(s.keys, record.Key)
	}
	return len(victims), nil
}

func (s *keyStore) settle(key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.keys[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status, record.HTTPStatus = status, httpStatus
	record.ResponseBody = append([]byte(nil), body...)
	record.UpdatedAt = s.clock()
	s.keys[key] = record
	return nil
}

// detach копирует тело ответа, чтобы вызывающий не мог менять хранимую запись.
func detach(record domain.IdempotencyRecord) domain.IdempotencyRecord {
	record.ResponseBody = append([]byte(nil), record.ResponseBody...)
	return record
}

func now() time.Time { return time.Now().UTC() }

var _ domain.IdempotencyRepository = (*keyStore)(nil)
