package chatrelay

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUpstreamRejectedError_StatusClasses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantKind   ErrorKind
		wantStatus int
	}{
		{
			name:       "401 passes through",
			status:     http.StatusUnauthorized,
			wantKind:   ErrKindUpstreamRejected,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "429 passes through",
			status:     http.StatusTooManyRequests,
			wantKind:   ErrKindUpstreamRejected,
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "503 passes through",
			status:     http.StatusServiceUnavailable,
			wantKind:   ErrKindUpstreamRejected,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unrecognized 4xx degrades to unavailable",
			status:     http.StatusNotFound,
			wantKind:   ErrKindUpstreamUnavailable,
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewUpstreamRejectedError(tt.status, "backend said no")
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Equal(t, tt.wantStatus, HTTPStatus(err))
		})
	}
}

func TestKindOfAndHTTPStatus(t *testing.T) {
	assert.Equal(t, ErrKindInvalidInput, KindOf(NewInvalidInputError("bad")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewInvalidInputError("bad")))

	wrapped := fmt.Errorf("handling request: %w", NewRateLimitedError("slow down"))
	assert.Equal(t, ErrKindRateLimited, KindOf(wrapped))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(wrapped))

	assert.Equal(t, ErrorKind(""), KindOf(errors.New("opaque")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("opaque")))
}
