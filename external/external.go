// Package external declares the collaborators spec.md §1/§6 names as
// deliberately out of scope for the core: Wi-Fi association, persistent
// key/value configuration storage, NTP time acquisition, firmware
// flashing, and the upstream controller's own server side. No other
// package in this module imports these interfaces; the core is built and
// tested without any of the surrounding platform code.
package external

import (
	"net"
	"time"
)

// KVStore is the persistent configuration store of spec.md §6: board
// name, Wi-Fi credentials, controller address, per-door names and
// momentary unlock durations, network-mode and static-IP fields.
// Emergency state is deliberately never persisted here (spec.md §6:
// "fails-safe to normal on reboot").
type KVStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// WiFiManager owns Wi-Fi association and captive-portal onboarding.
// Nothing in this module calls it: announce and heartbeat are sent with
// empty board_ip/mac_address/ip_address fields.
type WiFiManager interface {
	Connected() bool
	IPAddress() net.IP
}

// NTPProvider owns wall-clock time acquisition. Now returns the current
// time and whether a successful sync has ever completed. Nothing in this
// module calls it or core.Clock.SetWallTime; until SetWallTime is called
// from outside, the core runs with wall time unknown (spec.md §4.3's
// fail-open/fail-closed rules).
type NTPProvider interface {
	Now() (time.Time, bool)
}

// Flasher owns firmware update application. Declared here only so
// callers wiring the full node have a named seam for it; the core never
// calls it.
type Flasher interface {
	Apply(image []byte) error
}

// UpstreamController is the server-side counterpart to package
// controller's client: the HTTP admin/diagnostic server and its HTML UI
// that originates sync pushes and emergency commands. It is implemented
// entirely outside this node and has no Go interface the core calls;
// named here for completeness of the external-collaborator list in
// spec.md §1.
type UpstreamController interface {
	BaseURL() string
}
