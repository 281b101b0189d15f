package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeEvent(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line struct {
		Msg   string         `json:"msg"`
		Event map[string]any `json:"event"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "http_request", line.Msg)
	return line.Event
}

func TestMiddlewareLogsHandlerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, "info")
	env := Environment{Service: "bountyforge-ledger", Version: "test", StoreDriver: "bolt"}
	h := Middleware(logger, env)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddField(r.Context(), "op", "submit")
		AddField(r.Context(), "bounty_id", 42)
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/bounties/42/submit", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "req_fixed", rec.Header().Get("X-Request-ID"))
	ev := decodeEvent(t, &buf)
	require.Equal(t, "submit", ev["op"])
	require.Equal(t, float64(42), ev["bounty_id"])
	require.Equal(t, float64(http.StatusConflict), ev["status_code"])
	require.Equal(t, "rejected", ev["outcome"])
	require.Equal(t, "bolt", ev["store_driver"])
}

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	h := Middleware(NewJSONLoggerTo(&buf, "info"), Environment{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	id := rec.Header().Get("X-Request-ID")
	require.Regexp(t, `^req_[0-9a-f-]{36}$`, id)
	require.Equal(t, id, decodeEvent(t, &buf)["request_id"])
}

func TestMiddlewareRethrowsPanics(t *testing.T) {
	var buf bytes.Buffer
	h := Middleware(NewJSONLoggerTo(&buf, "info"), Environment{})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	require.PanicsWithValue(t, "boom", func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
	ev := decodeEvent(t, &buf)
	require.Equal(t, true, ev["panic"])
	require.Equal(t, "error", ev["outcome"])
}

func TestAddFieldWithoutMiddlewareIsNoop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	AddField(req.Context(), "op", "noop")
}
