package memory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/storage/memory"
)

func TestIdempotencyRepository_ClaimStates(t *testing.T) {
	t.Parallel()

	ttl := time.Now().UTC().Add(time.Hour)
	tests := []struct {
		name    string
		prepare func(t *testing.T, repo domain.IdempotencyRepository)
		hash    string
		wantErr error
	}{
		{
			name: "free key",
			hash: "hash-a",
		},
		{
			name: "same order while checkout runs",
			prepare: func(t *testing.T, repo domain.IdempotencyRepository) {
				_, err := repo.CreateProcessing("confirm", "hash-a", ttl)
				require.NoError(t, err)
			},
			hash:    "hash-a",
			wantErr: domain.ErrIdempotencyKeyAlreadyExists,
		},
		{
			name: "other order under the same key",
			prepare: func(t *testing.T, repo domain.IdempotencyRepository) {
				_, err := repo.CreateProcessing("confirm", "hash-a", ttl)
				require.NoError(t, err)
				require.NoError(t, repo.MarkDone("confirm", []byte(`{"status":"confirmed"}`), 200))
			},
			hash:    "hash-b",
			wantErr: domain.ErrIdempotencyHashMismatch,
		},
		{
			name: "expired key not yet swept",
			prepare: func(t *testing.T, repo domain.IdempotencyRepository) {
				_, err := repo.CreateProcessing("confirm", "hash-a", time.Now().UTC().Add(-time.Second))
				require.NoError(t, err)
			},
			hash: "hash-b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := memory.NewIdempotencyRepository()
			if tt.prepare != nil {
				tt.prepare(t, repo)
			}

			record, err := repo.CreateProcessing(" confirm ", tt.hash, ttl)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Equal(t, "hash-a", record.RequestHash)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "confirm", record.Key)
			require.Equal(t, tt.hash, record.RequestHash)
			require.Equal(t, domain.IdempotencyStatusProcessing, record.Status)
			require.True(t, record.TTLAt.Equal(ttl))
		})
	}
}

func TestIdempotencyRepository_FinishKeepsResponse(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	_, err := repo.CreateProcessing("order-1", "hash", time.Time{})
	require.NoError(t, err)

	body := []byte(`{"status":"error","error":"Meal not found"}`)
	require.NoError(t, repo.MarkFailed("order-1", body, 200))
	body[0] = 'X'

	got, err := repo.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, got.Status)
	require.Equal(t, 200, got.HTTPStatus)
	require.JSONEq(t, `{"status":"error","error":"Meal not found"}`, string(got.ResponseBody))
	require.WithinDuration(t, time.Now().Add(24*time.Hour), got.TTLAt, time.Minute)

	// Get отдаёт копию
	got.ResponseBody[0] = 'X'
	again, err := repo.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, byte('{'), again.ResponseBody[0])
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	for i, key := range []string{"oldest", "older", "old"} {
		_, err := repo.CreateProcessing(key, "hash", now.Add(-time.Duration(3-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing("live", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	_, err = repo.Get("oldest")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get("old")
	require.NoError(t, err)

	removed, err = repo.DeleteExpired(time.Time{}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	_, err = repo.Get("live")
	require.NoError(t, err)
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing(" ", "hash", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing("key", "", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
	_, err = repo.Get("\t")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	require.ErrorIs(t, repo.MarkDone("", nil, 200), domain.ErrIdempotencyKeyRequired)
	require.ErrorIs(t, repo.MarkFailed("missing", nil, 500), domain.ErrIdempotencyKeyNotFound)
}
