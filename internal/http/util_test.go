package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAddr(t *testing.T) {
	t.Run("uses the socket address by default", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "203.0.113.7:54321"
		assert.Equal(t, "203.0.113.7", clientAddr(r))
	})

	t.Run("prefers the first forwarded hop", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")
		assert.Equal(t, "198.51.100.9", clientAddr(r))
	})

	t.Run("handles a single forwarded address", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Forwarded-For", " 198.51.100.9 ")
		assert.Equal(t, "198.51.100.9", clientAddr(r))
	})

	t.Run("falls back to the raw remote addr without a port", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "203.0.113.7"
		assert.Equal(t, "203.0.113.7", clientAddr(r))
	})
}

func TestBearerToken(t *testing.T) {
	t.Run("extracts the token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer abc.def")
		assert.Equal(t, "abc.def", bearerToken(r))
	})

	t.Run("scheme match is case insensitive", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "bearer abc.def")
		assert.Equal(t, "abc.def", bearerToken(r))
	})

	t.Run("returns empty for missing or malformed headers", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.Empty(t, bearerToken(r))

		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		assert.Empty(t, bearerToken(r))

		r.Header.Set("Authorization", "Bearer")
		assert.Empty(t, bearerToken(r))
	})
}

func TestReadBody(t *testing.T) {
	t.Run("reads a small body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ok":true}`))
		w := httptest.NewRecorder()

		payload, ok := readBody(w, r)
		require.True(t, ok)
		assert.Equal(t, `{"ok":true}`, string(payload))
	})

	t.Run("rejects an oversized body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", maxWebhookBody+1)))
		w := httptest.NewRecorder()

		_, ok := readBody(w, r)
		require.False(t, ok)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "payload_too_large")
	})
}
