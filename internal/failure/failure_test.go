package failure_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"salonbook/backend/internal/failure"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "validation", err: failure.Validation("bad"), code: http.StatusBadRequest},
		{name: "not found", err: failure.NotFound("booking"), code: http.StatusNotFound},
		{name: "conflict", err: failure.Conflict("slot taken"), code: http.StatusConflict},
		{name: "upstream", err: failure.Upstream("provider down", true, nil), code: http.StatusBadGateway},
		{name: "auth", err: failure.Auth("bad signature"), code: http.StatusUnauthorized},
		{name: "internal", err: failure.Internal(errors.New("boom")), code: http.StatusInternalServerError},
		{name: "plain error", err: errors.New("boom"), code: http.StatusInternalServerError},
		{name: "wrapped", err: fmt.Errorf("create: %w", failure.Conflict("x")), code: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, failure.HTTPStatus(tt.err))
		})
	}
}

func TestPublicMessageHidesInternalCause(t *testing.T) {
	err := failure.Internal(errors.New("pq: password authentication failed"))

	assert.Equal(t, "internal error", failure.PublicMessage(err))
	assert.Contains(t, err.Error(), "password authentication failed")
}

func TestUpstreamRetryableKeepsCause(t *testing.T) {
	err := failure.Upstream("payment provider unavailable", true, context.DeadlineExceeded)

	assert.True(t, failure.IsRetryable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "payment provider unavailable", failure.PublicMessage(err))
	assert.False(t, failure.IsRetryable(failure.Upstream("rejected", false, nil)))
}

func TestInternalNil(t *testing.T) {
	assert.NoError(t, failure.Internal(nil))
}
