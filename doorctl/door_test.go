package doorctl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"doorcore/accessnode/decision"
	"doorcore/accessnode/schedule"
)

// fakePin is an OutputPin double that just records its last level.
type fakePin struct{ high bool }

func (p *fakePin) High() { p.high = true }
func (p *fakePin) Low()  { p.high = false }

func newTestDoor(momentaryMs int64) (*Door, *fakePin) {
	relay := &fakePin{}
	pins := Pins{Relay: relay, Beeper: &fakePin{}, LED: &fakePin{}}
	d := New(1, "Front", pins, momentaryMs)
	d.Open()
	return d, relay
}

func TestMomentaryUnlockThenExpiry(t *testing.T) {
	d, relay := newTestDoor(3000)

	d.Grant(0)
	assert.True(t, relay.high)

	d.Tick(2999, decision.EmergencyNone)
	assert.True(t, relay.high, "should still be locked open before locked_until")

	d.Tick(3000, decision.EmergencyNone)
	assert.False(t, relay.high, "should de-assert exactly at locked_until")
}

func TestSecondGrantExtendsForward(t *testing.T) {
	d, relay := newTestDoor(3000)

	d.Grant(0) // locked_until = 3000
	d.Tick(1000, decision.EmergencyNone)
	d.Grant(1000) // locked_until = max(3000, 4000) = 4000
	assert.True(t, relay.high)

	d.Tick(3500, decision.EmergencyNone)
	assert.True(t, relay.high, "extension should hold the door open past the original window")

	d.Tick(4000, decision.EmergencyNone)
	assert.False(t, relay.high)
}

func TestScheduledHoldBlocksMomentaryGrant(t *testing.T) {
	d, relay := newTestDoor(3000)
	d.ApplySchedule(schedule.ModeUnlock)
	assert.True(t, relay.high)

	d.Grant(0) // no-op: already open via schedule
	d.Tick(100000, decision.EmergencyNone)
	assert.True(t, relay.high, "scheduled hold should not expire via momentary timeout")
}

func TestScheduleTransitionOutOfUnlockClosesRelay(t *testing.T) {
	d, relay := newTestDoor(3000)
	d.ApplySchedule(schedule.ModeUnlock)
	assert.True(t, relay.high)

	d.ApplySchedule(schedule.ModeControlled)
	assert.False(t, relay.high)
	assert.False(t, d.ScheduledHold)
}

func TestEmergencyLockForcesRelayLowDuringScheduledUnlock(t *testing.T) {
	d, relay := newTestDoor(3000)
	d.ApplySchedule(schedule.ModeUnlock)
	assert.True(t, relay.high)

	d.EmergencyLock()
	assert.False(t, relay.high)
	assert.Equal(t, decision.EmergencyLock, d.EmergencyOverride)
}

func TestEmergencyClearReturnsToSchedule(t *testing.T) {
	d, relay := newTestDoor(3000)
	d.ApplySchedule(schedule.ModeUnlock)
	d.EmergencyLock()
	assert.False(t, relay.high)

	d.EmergencyClear(schedule.ModeUnlock)
	assert.True(t, relay.high)
	assert.Equal(t, decision.EmergencyNone, d.EmergencyOverride)
}

func TestEffectiveRelayInvariantEmergencyLockWins(t *testing.T) {
	d, _ := newTestDoor(3000)
	d.Grant(0)
	assert.True(t, d.EffectiveRelay(decision.EmergencyNone))

	d.EmergencyOverride = decision.EmergencyLock
	assert.False(t, d.EffectiveRelay(decision.EmergencyNone), "door-level lock must win over a pending momentary window")

	d.EmergencyOverride = decision.EmergencyNone
	assert.False(t, d.EffectiveRelay(decision.EmergencyLock), "board-level lock must also win")
}

func TestSyncRelayReflectsBoardEmergencyWithoutAlteringRelayOn(t *testing.T) {
	d, relay := newTestDoor(3000)
	d.Grant(0)
	assert.True(t, relay.high)

	d.SyncRelay(decision.EmergencyLock)
	assert.False(t, relay.high, "board lock must reach the pin even though RelayOn is untouched")
	assert.True(t, d.RelayOn, "RelayOn should still reflect the pending momentary window")

	d.SyncRelay(decision.EmergencyNone)
	assert.True(t, relay.high, "clearing the board lock should restore the pin from RelayOn")
}

func TestRexTreatedAsGrantSubjectToLock(t *testing.T) {
	d, relay := newTestDoor(3000)
	d.EmergencyLock()

	// A REX decision result would be denied by the decision engine while
	// EmergencyOverride==Lock, so doorctl never even sees a Grant call in
	// that state — verified here by confirming the relay stays low.
	assert.False(t, relay.high)
}
