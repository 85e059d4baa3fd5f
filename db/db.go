// Package db holds the in-memory decision databases of spec.md §3/§5:
// users, temp codes, per-door and per-user schedules, door display names,
// and per-door unlock durations. All of it arrives via controller sync
// (package controller) and is replaced per-category, atomically, matching
// spec.md §5's "writes MUST be all-or-nothing per category".
package db

import (
	"sort"
	"sync"
	"time"

	"doorcore/accessnode/credential"
	"doorcore/accessnode/schedule"
	"doorcore/accessnode/tempcode"
)

// User is a principal per spec.md §3.
type User struct {
	Name      string
	Active    bool
	Cards     []credential.Card
	PINs      []string
	Doors     map[int]bool
	Schedule  []schedule.Interval
}

// HasCard reports whether any of the user's stored cards matches the
// presented card under the normalization rules in package credential.
func (u User) HasCard(presented credential.Card) bool {
	for _, c := range u.Cards {
		if credential.MatchCard(presented, c) {
			return true
		}
	}
	return false
}

// HasPIN reports whether the user's PIN set contains pin exactly.
func (u User) HasPIN(pin string) bool {
	for _, p := range u.PINs {
		if p == pin {
			return true
		}
	}
	return false
}

// TempCode is the temp-code record of spec.md §3. MaxUses is only
// meaningful when Policy == tempcode.PolicyLimited.
type TempCode struct {
	Code        string
	DisplayName string
	Active      bool
	Policy      tempcode.Policy
	MaxUses     int
	Doors       map[int]bool
	// ServerUsedTotal is the server-reported total used count from the
	// last sync; it drives the reset-on-zero rule in spec.md §3/§4.6 and
	// is not itself consulted by the decision engine (which uses the
	// local per-door ledger instead).
	ServerUsedTotal int
}

// DoorConfig is the static-at-boot-plus-sync-overridable per-door
// configuration: display name and momentary unlock duration.
type DoorConfig struct {
	Name              string
	MomentaryUnlockMs int64
}

// DB is the full set of decision databases. Create one with New; the zero
// value's maps are nil, so the door-config setters panic on it.
type DB struct {
	mu sync.RWMutex

	users        map[string]User // keyed by name
	tempCodes    map[string]TempCode
	doorSched    map[int][]schedule.Interval
	doorConfig   map[int]DoorConfig
	lastSyncedAt time.Time
}

// New creates an empty DB.
func New() *DB {
	return &DB{
		users:      make(map[string]User),
		tempCodes:  make(map[string]TempCode),
		doorSched:  make(map[int][]schedule.Interval),
		doorConfig: make(map[int]DoorConfig),
	}
}

// ReplaceUsers atomically replaces the whole user set.
func (d *DB) ReplaceUsers(users []User) {
	m := make(map[string]User, len(users))
	for _, u := range users {
		m[u.Name] = u
	}
	d.mu.Lock()
	d.users = m
	d.mu.Unlock()
}

// ReplaceTempCodes atomically replaces the whole temp-code set.
func (d *DB) ReplaceTempCodes(codes []TempCode) {
	m := make(map[string]TempCode, len(codes))
	for _, c := range codes {
		m[c.Code] = c
	}
	d.mu.Lock()
	d.tempCodes = m
	d.mu.Unlock()
}

// ReplaceDoorSchedules atomically replaces all door schedules.
func (d *DB) ReplaceDoorSchedules(m map[int][]schedule.Interval) {
	d.mu.Lock()
	d.doorSched = m
	d.mu.Unlock()
}

// ReplaceUserSchedules atomically replaces the schedule attached to each
// named user, leaving users not present in m untouched.
func (d *DB) ReplaceUserSchedules(m map[string][]schedule.Interval) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, intervals := range m {
		if u, ok := d.users[name]; ok {
			u.Schedule = intervals
			d.users[name] = u
		}
	}
}

// ReplaceDoorNames updates display names for the given doors, leaving
// other fields (e.g. MomentaryUnlockMs) intact.
func (d *DB) ReplaceDoorNames(names map[int]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for door, name := range names {
		cfg := d.doorConfig[door]
		cfg.Name = name
		d.doorConfig[door] = cfg
	}
}

// ReplaceUnlockDurations updates momentary unlock durations for the given
// doors, leaving other fields intact.
func (d *DB) ReplaceUnlockDurations(durations map[int]int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for door, ms := range durations {
		cfg := d.doorConfig[door]
		cfg.MomentaryUnlockMs = ms
		d.doorConfig[door] = cfg
	}
}

// Users returns every user, active or not (callers skip inactive ones),
// sorted by name, so the "first match wins" scan has a stable,
// reproducible order per sync snapshot.
func (d *DB) Users() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TempCode looks up a temp code by exact code string.
func (d *DB) TempCode(code string) (TempCode, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.tempCodes[code]
	return c, ok
}

// TempCodes returns every temp code, for sync-driven ledger reset sweeps.
func (d *DB) TempCodes() []TempCode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]TempCode, 0, len(d.tempCodes))
	for _, c := range d.tempCodes {
		out = append(out, c)
	}
	return out
}

// DoorSchedule returns the schedule intervals for a door.
func (d *DB) DoorSchedule(door int) []schedule.Interval {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doorSched[door]
}

// DoorConfig returns the display name and unlock duration for a door.
func (d *DB) DoorConfig(door int) DoorConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doorConfig[door]
}

// SetDoorConfig sets a door's static-at-boot configuration (called once
// at startup from the node's local config, not from sync).
func (d *DB) SetDoorConfig(door int, cfg DoorConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doorConfig[door] = cfg
}

// MarkSynced records the wall-clock time of the most recent successful
// sync ingest, for diagnostics.
func (d *DB) MarkSynced(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSyncedAt = at
}

// LastSyncedAt returns the last successful sync time (zero value if never
// synced).
func (d *DB) LastSyncedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSyncedAt
}
