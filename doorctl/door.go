// Package doorctl implements the per-door lock-state machine of spec.md
// §4.5: momentary unlocks, scheduled held-open windows, and emergency
// holds, all ORed onto a single relay output, plus reader feedback.
//
// Grounded on _examples/Hive13-HiveRFID/access/access.go, which drives a
// relay pin from a goroutine timer (handle_access) and blinks a
// beeper/LED pair at startup. REX input debouncing, adapted from
// sensor.go's debounced pin read, lives in package sensor, not here.
package doorctl

import (
	"math"
	"time"

	"doorcore/accessnode/decision"
	"doorcore/accessnode/schedule"
)

// Infinite is the locked_until sentinel for a scheduled held-open door.
const Infinite int64 = math.MaxInt64

// OutputPin is the minimal surface doorctl needs from a GPIO output.
// rpio.Pin (github.com/stianeikeland/go-rpio/v4) satisfies this directly,
// the same way the teacher's access.go drives beep_pin/led_pin/lock_pin;
// pin-mode setup (rpio.Open, pin.Output()) stays in the wiring layer
// (cmd/access), exactly where access.Run does it, so this package never
// touches hardware outside High()/Low().
type OutputPin interface {
	High()
	Low()
}

// Pins bundles the GPIO pins a door's state machine drives. Relay is
// active-high (true asserts the lock-release / door-open relay); Beeper
// and LED are active-low, matching the teacher's access.go.
type Pins struct {
	Relay  OutputPin
	Beeper OutputPin
	LED    OutputPin
}

// Door is one door's full state and actuation surface.
type Door struct {
	Number int
	Name   string

	pins Pins

	MomentaryUnlockMs int64

	RelayOn             bool
	LockedUntil         int64
	ScheduledHold       bool
	EmergencyOverride   decision.EmergencyState
	CurrentScheduleMode schedule.Mode
}

// New creates a door in its default (controlled, relay-low) state.
func New(number int, name string, pins Pins, momentaryUnlockMs int64) *Door {
	return &Door{
		Number:              number,
		Name:                name,
		pins:                pins,
		MomentaryUnlockMs:   momentaryUnlockMs,
		CurrentScheduleMode: schedule.ModeControlled,
	}
}

// Open drives every pin to its idle-at-boot state (relay low, beeper/LED
// off). Pin-mode configuration (rpio.Pin.Output()) must already have
// happened in the wiring layer before this is called.
func (d *Door) Open() {
	d.pins.Relay.Low()
	d.pins.Beeper.High()
	d.pins.LED.High()
}

// Close drives every pin to its safe-at-shutdown state.
func (d *Door) Close() {
	d.pins.Relay.Low()
	d.pins.Beeper.High()
	d.pins.LED.High()
}

// ToDecisionState adapts the door's override/schedule fields for the
// decision engine's read-only Input.
func (d *Door) ToDecisionState() decision.DoorState {
	return decision.DoorState{
		EmergencyOverride:   d.EmergencyOverride,
		CurrentScheduleMode: d.CurrentScheduleMode,
	}
}

// Grant applies a momentary unlock at nowMs, per spec.md §4.5: a no-op if
// the door is already held open by schedule; otherwise the relay is
// asserted and locked_until is pushed forward to now+MomentaryUnlockMs
// (never backward, so a second grant during an active window extends it
// rather than shortening it — the reference has no maximum-extension cap,
// see DESIGN.md).
func (d *Door) Grant(nowMs int64) {
	if d.ScheduledHold {
		return
	}
	d.RelayOn = true
	newUntil := nowMs + d.MomentaryUnlockMs
	if newUntil > d.LockedUntil {
		d.LockedUntil = newUntil
	}
	d.applyRelay()
}

// Tick runs the momentary-expiry check of spec.md §4.5. boardEmergency is
// the board-wide override; a door-local or board-wide lock/unlock freezes
// the momentary timer but never cancels it outright.
func (d *Door) Tick(nowMs int64, boardEmergency decision.EmergencyState) {
	if d.EmergencyOverride != decision.EmergencyNone || boardEmergency != decision.EmergencyNone {
		return
	}
	if d.RelayOn && !d.ScheduledHold && nowMs >= d.LockedUntil {
		d.RelayOn = false
		d.applyRelay()
	}
}

// ApplySchedule reacts to a new schedule mode for this door, running the
// "transition to unlock" / "transition out of unlock" rules of spec.md
// §4.5. It is idempotent: calling it repeatedly with the same mode is a
// no-op beyond recomputing the relay state.
func (d *Door) ApplySchedule(mode schedule.Mode) {
	wasUnlock := d.CurrentScheduleMode == schedule.ModeUnlock
	d.CurrentScheduleMode = mode

	switch {
	case mode == schedule.ModeUnlock && !wasUnlock:
		d.ScheduledHold = true
		d.RelayOn = true
		d.LockedUntil = Infinite
	case mode != schedule.ModeUnlock && wasUnlock:
		// Grant() is a no-op while ScheduledHold is set, so no momentary
		// window can be in progress underneath an infinite hold.
		d.ScheduledHold = false
		d.RelayOn = false
		d.LockedUntil = 0
	}
	d.applyRelay()
}

// EmergencyLock forces the relay low and cancels any scheduled hold,
// freezing (not canceling) any in-progress momentary timer.
func (d *Door) EmergencyLock() {
	d.EmergencyOverride = decision.EmergencyLock
	d.ScheduledHold = false
	d.RelayOn = false
	d.applyRelay()
}

// EmergencyUnlock forces the relay high.
func (d *Door) EmergencyUnlock() {
	d.EmergencyOverride = decision.EmergencyUnlock
	d.RelayOn = true
	d.applyRelay()
}

// EmergencyClear returns the door from a local override to whatever its
// schedule currently dictates.
func (d *Door) EmergencyClear(mode schedule.Mode) {
	d.EmergencyOverride = decision.EmergencyNone
	d.RelayOn = false
	d.ScheduledHold = false
	d.CurrentScheduleMode = schedule.ModeControlled
	d.ApplySchedule(mode)
}

// EffectiveRelay reports the relay's commanded level, honoring the
// invariant from spec.md §3: emergency lock always wins, otherwise the
// relay is high iff any of emergency-unlock, scheduled-hold, or an
// in-progress momentary unlock holds.
func (d *Door) EffectiveRelay(boardEmergency decision.EmergencyState) bool {
	if d.EmergencyOverride == decision.EmergencyLock || boardEmergency == decision.EmergencyLock {
		return false
	}
	if d.EmergencyOverride == decision.EmergencyUnlock || boardEmergency == decision.EmergencyUnlock {
		return true
	}
	return d.RelayOn
}

// SyncRelay drives the physical relay pin to match EffectiveRelay without
// touching RelayOn, so a board-wide emergency actually reaches the pin even
// though it never flows through d.RelayOn (which continues to track what
// the relay would be absent any board override, for when the override
// clears). Call this once per tick after Tick/ApplySchedule.
func (d *Door) SyncRelay(boardEmergency decision.EmergencyState) {
	if d.EffectiveRelay(boardEmergency) {
		d.pins.Relay.High()
	} else {
		d.pins.Relay.Low()
	}
}

func (d *Door) applyRelay() {
	if d.RelayOn {
		d.pins.Relay.High()
	} else {
		d.pins.Relay.Low()
	}
}

// Feedback drives the reader beeper/LED for a grant or deny, asynchronously
// so it never blocks the core loop (spec.md §4.5: "MUST NOT block the
// control loop longer than a few tens of ms").
func (d *Door) Feedback(granted bool) {
	if granted {
		go d.feedbackGrant()
	} else {
		go d.feedbackDeny()
	}
}

func (d *Door) feedbackGrant() {
	for i := 0; i < 2; i++ {
		d.pins.Beeper.Low()
		time.Sleep(80 * time.Millisecond)
		d.pins.Beeper.High()
		time.Sleep(80 * time.Millisecond)
	}
	d.pins.LED.Low()
	time.Sleep(2 * time.Second)
	d.pins.LED.High()
}

func (d *Door) feedbackDeny() {
	d.pins.Beeper.Low()
	time.Sleep(600 * time.Millisecond)
	d.pins.Beeper.High()
	for i := 0; i < 3; i++ {
		d.pins.LED.Low()
		time.Sleep(150 * time.Millisecond)
		d.pins.LED.High()
		time.Sleep(150 * time.Millisecond)
	}
}
