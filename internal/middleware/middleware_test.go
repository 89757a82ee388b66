package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func serve(h http.Handler, remote string, header map[string]string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.RemoteAddr = remote
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestLocalOnly(t *testing.T) {
	h := LocalOnly("tok")(ok)

	assert.Equal(t, http.StatusOK, serve(h, "127.0.0.1:1000", nil))
	assert.Equal(t, http.StatusOK, serve(h, "10.1.2.3:1000", nil))
	assert.Equal(t, http.StatusOK, serve(h, "[::1]:1000", nil))
	assert.Equal(t, http.StatusForbidden, serve(h, "203.0.113.9:1000", nil))
	assert.Equal(t, http.StatusForbidden, serve(h, "203.0.113.9:1000", map[string]string{"X-Forwarded-For": "127.0.0.1"}))
	assert.Equal(t, http.StatusForbidden, serve(h, "203.0.113.9:1000", map[string]string{"X-Console-Token": "nope"}))
	assert.Equal(t, http.StatusOK, serve(h, "203.0.113.9:1000", map[string]string{"X-Console-Token": "tok"}))

	// without a token only local callers pass
	assert.Equal(t, http.StatusForbidden, serve(LocalOnly("")(ok), "203.0.113.9:1000", map[string]string{"X-Console-Token": ""}))
}

func TestRateLimiter_PerClient(t *testing.T) {
	h := NewRateLimiter(60, 2).Handler(ok)

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1", nil))
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:2", nil))
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:3", nil))
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.2:1", nil))
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestMaskToken(t *testing.T) {
	assert.NotContains(t, MaskToken("abcdef0123456789"), "0123456")
}
