package v1

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/convsync/internal/profile"
	"github.com/hrygo/convsync/server/projector"
	"github.com/hrygo/convsync/store"
)

type fakeReconciler struct {
	rows   []projector.Row
	active string
}

func (f *fakeReconciler) Project(string) []projector.Row {
	return f.rows
}

func (f *fakeReconciler) Active() string {
	return f.active
}

func newTestServer(t *testing.T, rec *fakeReconciler) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "convsync_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	prof := &profile.Profile{Version: "1.2.3", Mode: "dev", Driver: "sqlite", SyncInterval: 5 * time.Second}
	srv := httptest.NewServer(NewEchoServer(NewAPIV1Service(prof, rec, reg)))
	t.Cleanup(srv.Close)
	return srv
}

func TestListConversations(t *testing.T) {
	rec := &fakeReconciler{rows: []projector.Row{
		{ID: "a", Name: "Alice", Kind: store.KindDirect, Preview: "hi", IsActive: true},
	}}
	srv := newTestServer(t, rec)

	resp, err := http.Get(srv.URL + "/api/v1/conversations?q=ali")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body ListConversationsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ali", body.Query)
	require.Len(t, body.Conversations, 1)
	assert.Equal(t, "a", body.Conversations[0].ID)
	assert.True(t, body.Conversations[0].IsActive)
}

func TestGetActiveConversation(t *testing.T) {
	t.Run("Selected", func(t *testing.T) {
		srv := newTestServer(t, &fakeReconciler{active: "grp-9"})

		resp, err := http.Get(srv.URL + "/api/v1/conversations/active")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body ActiveConversationResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "grp-9", body.ConversationID)
	})

	t.Run("NoneSelected", func(t *testing.T) {
		srv := newTestServer(t, &fakeReconciler{})

		resp, err := http.Get(srv.URL + "/api/v1/conversations/active")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestGetStatus(t *testing.T) {
	srv := newTestServer(t, &fakeReconciler{})

	resp, err := http.Get(srv.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, "5s", body.SyncInterval)
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeReconciler{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "convsync_test_total 1")
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, &fakeReconciler{})

	limited := 0
	for i := 0; i < 40; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/status")
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Positive(t, limited, "api group is rate limited per client")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "metrics endpoint is outside the limited group")
}
