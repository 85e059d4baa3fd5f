package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer wires a Server to a fake core loop that replies with
// wantErr to every request it receives, and records the last Request seen.
func startTestServer(wantErr error) (*httptest.Server, *Request) {
	requests := make(chan Request)
	var last Request

	go func() {
		for req := range requests {
			last = req
			req.Reply <- Reply{Err: wantErr}
		}
	}()

	mux := http.NewServeMux()
	New(requests).Register(mux)
	return httptest.NewServer(mux), &last
}

func TestEmergencyLockRoundTrip(t *testing.T) {
	srv, last := startTestServer(nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/emergency-lock", "application/json",
		strings.NewReader(`{"duration": 30}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, KindEmergencyLock, last.Kind)
	assert.Equal(t, 30, last.EmLock.DurationSeconds)
}

func TestEmergencyResetRoundTrip(t *testing.T) {
	srv, last := startTestServer(nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/emergency-reset", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, KindEmergencyReset, last.Kind)
}

func TestDoorOverrideRoundTrip(t *testing.T) {
	srv, last := startTestServer(nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/door-override", "application/json",
		strings.NewReader(`{"door_number": 2, "override": "lock"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, KindDoorOverride, last.Kind)
	assert.Equal(t, 2, last.Door.DoorNumber)
	assert.Equal(t, "lock", last.Door.Override)
}

func TestSyncRejectsMalformedJSON(t *testing.T) {
	srv, _ := startTestServer(nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/sync", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestSyncRoundTrip(t *testing.T) {
	srv, last := startTestServer(nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/sync", "application/json",
		strings.NewReader(`{"users": [{"name": "Alice", "active": true, "cards": ["30 1"], "doors": [1]}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, KindSync, last.Kind)
	require.Len(t, last.Sync.Users, 1)
	assert.Equal(t, "Alice", last.Sync.Users[0].Name)
}

func TestCoreLoopErrorSurfacesAs500(t *testing.T) {
	srv, _ := startTestServer(assert.AnError)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/emergency-lock", "application/json",
		strings.NewReader(`{"duration": 0}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestGetMethodRejected(t *testing.T) {
	srv, _ := startTestServer(nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/emergency-reset")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
