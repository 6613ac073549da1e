package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteSuccess(w, map[string]int{"dau": 3})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"dau":3}`, w.Body.String())
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"error", func(w http.ResponseWriter) { WriteError(w, http.StatusConflict, errors.New("boom")) }, http.StatusConflict, "boom"},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad date") }, http.StatusBadRequest, "bad date"},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "no player") }, http.StatusNotFound, "no player"},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "warming up") }, http.StatusServiceUnavailable, "warming up"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.status, w.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.msg, body.Error)
		})
	}
}
