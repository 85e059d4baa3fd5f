// Package controller is the outbound HTTP client to the upstream
// controller service named in spec.md §4.8/§6: announce, heartbeat,
// access-log delivery, and temp-code usage reporting.
//
// Grounded on _examples/Hive13-HiveRFID/intweb/intweb.go's Session type: a
// struct holding the target URL, device identity, and an *http.Client,
// with one small JSON-POST helper reused by every typed call.
package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"doorcore/accessnode/accesslog"
)

// DefaultTimeout is shorter than the teacher's own 15s http.Client timeout
// and sits at the top of the 5-10s per-attempt range of spec.md §4.8,
// since heartbeat/log calls are not latency sensitive.
const DefaultTimeout = 10 * time.Second

// Session holds everything needed to talk to the upstream controller.
type Session struct {
	BaseURL string
	Client  *http.Client
	Verbose bool

	online bool
}

// NewSession creates a Session with a bounded-timeout HTTP client, mirroring
// intweb.Session's &http.Client{Timeout: ...} construction.
func NewSession(baseURL string) *Session {
	return &Session{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: DefaultTimeout},
	}
}

// Online reports the last known link status, toggled by Heartbeat.
func (s *Session) Online() bool { return s.online }

func (s *Session) post(path string, body interface{}) ([]byte, error) {
	msgJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("controller: marshal: %w", err)
	}

	url := s.BaseURL + path
	if s.Verbose {
		log.Printf("controller: POST %s: %s", url, msgJSON)
	}

	resp, err := s.Client.Post(url, "application/json", bytes.NewReader(msgJSON))
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("controller: read response: %w", err)
	}
	if s.Verbose {
		log.Printf("controller: HTTP %d: %s", resp.StatusCode, respBody)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("controller: HTTP %d", resp.StatusCode)
	}
	return respBody, nil
}

// AnnounceRequest is the board-announce payload of spec.md §6.
type AnnounceRequest struct {
	BoardIP   string `json:"board_ip"`
	MACAddr   string `json:"mac_address"`
	BoardName string `json:"board_name"`
	Door1Name string `json:"door1_name"`
	Door2Name string `json:"door2_name"`
}

// Announce posts node identity at boot and after Wi-Fi reconnect.
func (s *Session) Announce(req AnnounceRequest) error {
	_, err := s.post("/api/board-announce", req)
	return err
}

// HeartbeatRequest is the heartbeat payload of spec.md §6.
type HeartbeatRequest struct {
	IPAddress string `json:"ip_address"`
	BoardName string `json:"board_name"`
}

// Heartbeat posts a heartbeat and updates Online() based on the outcome,
// logging the transition exactly when it changes (spec.md §4.8).
func (s *Session) Heartbeat(req HeartbeatRequest) error {
	_, err := s.post("/api/heartbeat", req)
	wasOnline := s.online
	s.online = err == nil
	if s.online != wasOnline {
		log.Printf("controller: link %s", map[bool]string{true: "up", false: "down"}[s.online])
	}
	return err
}

// PostAccessLog delivers one access log entry; success iff HTTP 200.
func (s *Session) PostAccessLog(e accesslog.Entry) error {
	_, err := s.post("/api/access-log", e)
	return err
}

// TempCodeUsageRequest is the usage-report payload of spec.md §6. The
// field name CurrentUses is historical; its value is this node's per-door
// count, not a global total (spec.md §4.8).
type TempCodeUsageRequest struct {
	Code        string `json:"code"`
	CurrentUses int    `json:"current_uses"`
}

// PostTempCodeUsage reports a temp code's per-door use count.
func (s *Session) PostTempCodeUsage(req TempCodeUsageRequest) error {
	_, err := s.post("/api/temp-code-usage", req)
	return err
}
