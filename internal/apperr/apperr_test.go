package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{BadRequest, 400},
		{Unauthorized, 401},
		{Forbidden, 403},
		{NotFound, 404},
		{RateLimit, 429},
		{FileTooLarge, 413},
		{UnsupportedFileType, 415},
		{UploadFailed, 503},
		{ModelNotFound, 404},
		{APIKeyMissing, 422},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.typ, SurfaceAPI).StatusCode())
		})
	}
}

func TestCodeAndIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(NotFound, SurfaceThread))

	assert.True(t, errors.Is(err, New(NotFound, SurfaceThread)))
	assert.False(t, errors.Is(err, New(NotFound, SurfaceChat)))
	assert.Equal(t, "not_found:thread", As(err, SurfaceAPI).Code())
}

func TestDatabaseSurfaceIsMasked(t *testing.T) {
	cause := errors.New(`pq: duplicate key value violates unique constraint "threads_pkey"`)
	appErr := Wrap(BadRequest, SurfaceDatabase, cause)

	body := appErr.Response()
	assert.Equal(t, "bad_request:database", body.Code)
	assert.Equal(t, genericMessage, body.Message)
	assert.Empty(t, body.Cause)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode(), "status is preserved")
}

func TestWrite(t *testing.T) {
	t.Run("structured body with cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		Write(w, Wrap(Forbidden, SurfaceAuth, errors.New("key lacks model access")), SurfaceAPI)

		require.Equal(t, http.StatusForbidden, w.Code)
		var body Body
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "forbidden:auth", body.Code)
		assert.Equal(t, "key lacks model access", body.Cause)
	})

	t.Run("unknown error becomes internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		Write(w, errors.New("boom"), SurfaceChat)

		require.Equal(t, http.StatusInternalServerError, w.Code)
		var body Body
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "internal_server_error:chat", body.Code)
		assert.Empty(t, body.Cause)
	})
}
