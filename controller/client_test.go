package controller

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorcore/accessnode/accesslog"
)

func TestPostAccessLogSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/access-log", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSession(srv.URL)
	err := s.PostAccessLog(accesslog.Entry{Door: 1, Principal: "Alice", Granted: true})
	require.NoError(t, err)
}

func TestHeartbeatTracksOnlineState(t *testing.T) {
	up := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if up {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	s := NewSession(srv.URL)
	require.NoError(t, s.Heartbeat(HeartbeatRequest{BoardName: "front-door"}))
	assert.True(t, s.Online())

	up = false
	assert.Error(t, s.Heartbeat(HeartbeatRequest{BoardName: "front-door"}))
	assert.False(t, s.Online())
}

func TestPostAccessLogFailureOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSession(srv.URL)
	err := s.PostAccessLog(accesslog.Entry{Door: 1})
	assert.Error(t, err)
}
