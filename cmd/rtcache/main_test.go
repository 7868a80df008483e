package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_PrintsViews(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/profile":
			_, _ = w.Write([]byte(`{"data":{"id":"u1"}}`))
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":"rls","message":"denied"}}`))
		}
	}))
	defer server.Close()

	t.Setenv("RTCACHE_DATA_URL", server.URL)
	t.Setenv("RTCACHE_DATA_MAX_RETRIES", "0")
	t.Setenv("RTCACHE_ACCESS_TOKEN", "tok")
	t.Setenv("RTCACHE_USER_ID", "u1")
	t.Setenv("RTCACHE_LOG_LEVEL", "error")

	var out bytes.Buffer
	require.NoError(t, run([]string{"-kinds", "profile,stats"}, &out))

	var got map[string]struct {
		HasValue bool            `json:"hasValue"`
		Error    string          `json:"error"`
		Data     json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 2)

	assert.True(t, got["profile"].HasValue)
	assert.JSONEq(t, `{"id":"u1"}`, string(got["profile"].Data))
	assert.False(t, got["stats"].HasValue)
	assert.Contains(t, got["stats"].Error, "denied")
}

func TestRun_NotAuthenticatedIsNotFatal(t *testing.T) {
	t.Setenv("RTCACHE_DATA_URL", "http://127.0.0.1:1")
	t.Setenv("RTCACHE_GATE_ATTEMPTS", "1")
	t.Setenv("RTCACHE_LOG_FORMAT", "zerolog")

	var out bytes.Buffer
	require.NoError(t, run([]string{"-kinds", "offers"}, &out))
	assert.Contains(t, out.String(), "Not authenticated")
}

func TestRun_ConfigErrors(t *testing.T) {
	t.Run("bad backend", func(t *testing.T) {
		t.Setenv("RTCACHE_BACKEND", "floppy")
		require.Error(t, run(nil, &bytes.Buffer{}))
	})
	t.Run("missing data url", func(t *testing.T) {
		require.Error(t, run(nil, &bytes.Buffer{}))
	})
	t.Run("bad kind flag", func(t *testing.T) {
		t.Setenv("RTCACHE_DATA_URL", "http://127.0.0.1:1")
		err := run([]string{"-kinds", "profile,bogus"}, &bytes.Buffer{})
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "-kinds"))
	})
}

func TestNewLogger_AllFormats(t *testing.T) {
	for _, format := range []string{"zap", "logrus", "zerolog", "slog"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			log, flush, err := newLogger(format, "info", &buf)
			require.NoError(t, err)
			log.Info("hello", map[string]any{"kind": "profile"})
			log.Debug("hidden", nil)
			flush()
			assert.Contains(t, buf.String(), "hello")
			assert.NotContains(t, buf.String(), "hidden")
		})
	}

	_, _, err := newLogger("zap", "loud", &bytes.Buffer{})
	require.Error(t, err)
}
