package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		err        error
		public     string
		resolution bool
		conflict   bool
	}{
		{err: ErrRestaurantNotFound, public: "Restaurant not found", resolution: true},
		{err: fmt.Errorf("relocate meal 3: %w", ErrMealNotFound), public: "Meal not found", resolution: true},
		{err: ErrMealImageNotFound, public: "Meal image not found"},
		{err: fmt.Errorf("submit: %w", ErrCheckoutButtonNotFound), public: "Checkout button not found"},
		{err: ErrConfirmReferenceRequired, public: "No id or pageUrl provided"},
		{err: ErrIdempotencyKeyAlreadyExists, public: ErrIdempotencyKeyAlreadyExists.Error(), conflict: true},
		{err: errors.Join(ErrIdempotencyHashMismatch, errors.New("order-7")), public: "idempotency key reused with different request\norder-7", conflict: true},
		{err: ErrIdempotencyInProgress, public: ErrIdempotencyInProgress.Error()},
		{err: errors.New("net::ERR_NAME_NOT_RESOLVED"), public: "net::ERR_NAME_NOT_RESOLVED"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			require.Equal(t, tt.public, PublicMessage(tt.err))
			require.Equal(t, tt.resolution, IsResolutionFailure(tt.err))
			require.Equal(t, tt.conflict, IsIdempotencyConflict(tt.err))
		})
	}
}

func TestErrorClassification_Nil(t *testing.T) {
	require.Empty(t, PublicMessage(nil))
	require.False(t, IsResolutionFailure(nil))
	require.False(t, IsIdempotencyConflict(nil))
}
