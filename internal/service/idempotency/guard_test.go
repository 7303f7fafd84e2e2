package idempotency

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/storage/memory"
)

func TestRequestHash(t *testing.T) {
	a := RequestHash("confirmOrder", []byte(`{"id":1}`))
	require.Len(t, a, 64)
	require.Equal(t, a, RequestHash("confirmOrder", []byte(`{"id":1}`)))
	require.NotEqual(t, a, RequestHash("confirmOrder", []byte(`{"id":2}`)))
	require.NotEqual(t, a, RequestHash("order", []byte(`{"id":1}`)))
}

func TestGuard_ReplaysCompletedResponse(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil, nil)
	payload := []byte(`{"id":1,"pageUrl":"https://wolt.com/r"}`)

	first, err := guard.Begin("key-1", "confirmOrder", payload)
	require.NoError(t, err)
	require.False(t, first.Replay)

	body := []byte(`{"status":"confirmed","message":"Order placed","waitingTime":"25 min"}`)
	require.NoError(t, guard.Complete("key-1", body, http.StatusOK))

	second, err := guard.Begin("key-1", "confirmOrder", payload)
	require.NoError(t, err)
	require.True(t, second.Replay)
	require.Equal(t, body, second.Body)
	require.Equal(t, http.StatusOK, second.HTTPStatus)
}

func TestGuard_RejectsConcurrentAndMismatchedRequests(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil, nil)

	_, err := guard.Begin("key-2", "confirmOrder", []byte(`{"id":1}`))
	require.NoError(t, err)

	_, err = guard.Begin("key-2", "confirmOrder", []byte(`{"id":1}`))
	require.ErrorIs(t, err, domain.ErrIdempotencyInProgress)

	_, err = guard.Begin("key-2", "confirmOrder", []byte(`{"id":2}`))
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.True(t, domain.IsIdempotencyConflict(err))
}

func TestGuard_ReplaysFailedResponse(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil, nil)

	_, err := guard.Begin("key-3", "order", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, guard.Fail("key-3", []byte(`{"id":null,"error":"internal"}`), http.StatusInternalServerError))

	decision, err := guard.Begin("key-3", "order", []byte(`{}`))
	require.NoError(t, err)
	require.True(t, decision.Replay)
	require.Equal(t, http.StatusInternalServerError, decision.HTTPStatus)
}

func TestGuard_EmptyKey(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil, nil)

	_, err := guard.Begin("  ", "order", []byte(`{}`))
	require.True(t, errors.Is(err, domain.ErrIdempotencyKeyRequired))
}
