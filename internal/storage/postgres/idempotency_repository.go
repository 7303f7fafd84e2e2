package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
)

const keyColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`

// claimKeySQL вставляет ключ или перезанимает просроченный, который очистка ещё не удалила.
// Для живого ключа строк нет.
const claimKeySQL = `
	INSERT INTO idempotency_keys (` + keyColumns + `)
	VALUES ($1, $2, NULL, NULL, $3, $4, $5, $5)
	ON CONFLICT (key) DO UPDATE
	SET request_hash  = EXCLUDED.request_hash,
	    response_body = NULL,
	    http_status   = NULL,
	    status        = EXCLUDED.status,
	    ttl_at        = EXCLUDED.ttl_at,
	    created_at    = EXCLUDED.created_at,
	    updated_at    = EXCLUDED.updated_at
	WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
	RETURNING ` + keyColumns

const selectKeySQL = `SELECT ` + keyColumns + ` FROM idempotency_keys WHERE key = $1`

const settleKeySQL = `
	UPDATE idempotency_keys
	SET status = $2, response_body = $3, http_status = $4, updated_at = now()
	WHERE key = $1`

// LIMIT NULL снимает ограничение.
const deleteExpiredSQL = `
	DELETE FROM idempotency_keys
	WHERE key IN (
		SELECT key FROM idempotency_keys
		WHERE ttl_at <= $1
		ORDER BY ttl_at
		LIMIT $2
	)`

type keyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &keyRepository{db: store.DB()}
}

func (r *keyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	claim, err := domain.NewIdempotencyClaim(key, requestHash, ttlAt, time.Now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	record, err := scanKey(r.db.QueryRowContext(ctx, claimKeySQL,
		claim.Key, claim.RequestHash, string(claim.Status), claim.TTLAt, claim.CreatedAt))
	if !errors.Is(err, sql.ErrNoRows) {
		if err != nil {
			return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
		}
		return record, nil
	}

	held, err := r.Get(claim.Key)
	if err != nil {
		// ключ удалили между запросами
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	return held, held.ClaimConflict(claim.RequestHash)
}

func (r *keyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	record, err := scanKey(r.db.QueryRowContext(ctx, selectKeySQL, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}
	return record, nil
}

func (r *keyRepository) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.settle(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *keyRepository) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.settle(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *keyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now()
	}
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	n, err := r.exec(deleteExpiredSQL, before.UTC(), batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return int(n), nil
}

func (r *keyRepository) settle(key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key, err := domain.IdempotencyKey(key)
	if err != nil {
		return err
	}

	n, err := r.exec(settleKeySQL, key, string(status), body, httpStatus)
	switch {
	case err != nil:
		return fmt.Errorf("mark idempotency key %s %s: %w", key, status, err)
	case n == 0:
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// exec выполняет запрос и возвращает число затронутых строк.
func (r *keyRepository) exec(query string, args ...any) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanKey(row rowScanner) (domain.IdempotencyRecord, error) {
	var (
		rec        domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	err := row.Scan(&rec.Key, &rec.RequestHash, &rec.ResponseBody, &httpStatus, &status,
		&rec.TTLAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	rec.Status = domain.IdempotencyStatus(status)
	if !rec.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("key %s has unknown status %q", rec.Key, status)
	}
	if len(rec.ResponseBody) == 0 {
		rec.ResponseBody = nil
	}
	rec.HTTPStatus = int(httpStatus.Int64)
	for _, ts := range []*time.Time{&rec.TTLAt, &rec.CreatedAt, &rec.UpdatedAt} {
		*ts = ts.UTC()
	}
	return rec, nil
}

var _ domain.IdempotencyRepository = (*keyRepository)(nil)
