package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTargetsTemplatesAndDedupes(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := NewDispatcher([]string{
		"http://example.com/hook/{kind}/{run_id}",
		"ftp://invalid.example.com/hook",
		"http://example.com/hook/{kind}/{run_id}/",
		"  ",
		"https://example.com/other",
	}, 0, zap.New(core))

	got := d.Targets(Payload{Kind: "migrate", RunID: "abc"})
	require.Equal(t, []string{
		"http://example.com/hook/migrate/abc",
		"https://example.com/other",
	}, got)
	require.Equal(t, 1, logs.Len(), "expected one invalid-url warning")
}

func TestDispatchPostsPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Payload
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var p Payload
		if err := json.Unmarshal(body, &p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	payload, err := NewPayload("remove", "run-9", "41", "", false, "aborted",
		errors.New("safety [safety_check]: 3 reference(s) to the source identifier remain"), "safety",
		map[string]any{"phase": "aborted"})
	require.NoError(t, err)

	d := NewDispatcher([]string{server.URL + "/a", server.URL + "/b", failing.URL}, 0, nil)
	require.Equal(t, 2, d.Dispatch(context.Background(), payload))

	require.Len(t, received, 2)
	for _, p := range received {
		require.Equal(t, "failed", p.Status)
		require.Equal(t, "safety", p.ErrorKind)
		require.Equal(t, "run-9", p.RunID)
		require.JSONEq(t, `{"phase":"aborted"}`, string(p.Report))
	}
}

func TestDispatchDisabled(t *testing.T) {
	var d *Dispatcher
	require.False(t, d.Enabled(), "nil dispatcher should be disabled")
	require.Zero(t, NewDispatcher(nil, 0, nil).Dispatch(context.Background(), Payload{}))
}
