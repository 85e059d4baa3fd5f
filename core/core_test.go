package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorcore/accessnode/api"
	"doorcore/accessnode/credential"
	"doorcore/accessnode/db"
	"doorcore/accessnode/decision"
	"doorcore/accessnode/doorctl"
	"doorcore/accessnode/logqueue"
	"doorcore/accessnode/pin"
	"doorcore/accessnode/schedule"
	"doorcore/accessnode/tempcode"
	"doorcore/accessnode/wiegand"
)

// fakePin is an OutputPin double that records its last level.
type fakePin struct{ high bool }

func (p *fakePin) High() { p.high = true }
func (p *fakePin) Low()  { p.high = false }

func newTestState() (*State, *fakePin) {
	relay := &fakePin{}
	pins := doorctl.Pins{Relay: relay, Beeper: &fakePin{}, LED: &fakePin{}}
	door := doorctl.New(1, "Front", pins, 3000)
	door.Open()

	return &State{
		Clock:     NewClock(),
		Doors:     map[int]*doorctl.Door{1: door},
		Wiegand:   wiegand.NewAssembler(func() int64 { return 0 }),
		PIN:       pin.NewAssembler(),
		DB:        db.New(),
		Ledger:    tempcode.NewLedger(),
		LogQueue:  logqueue.New(),
		lastRelay: make(map[int]bool),
	}, relay
}

func TestDecideGrantsKnownCardAndPushesLog(t *testing.T) {
	s, relay := newTestState()
	card, _ := credential.ParseCard("30 33993")
	s.DB.ReplaceUsers([]db.User{
		{Name: "Alice", Active: true, Cards: []credential.Card{card}, Doors: map[int]bool{1: true}},
	})

	s.decide(1, decision.CredTypeCard, card, "", 0)

	assert.True(t, relay.high)
	require.Equal(t, 1, s.LogQueue.Len())
	entries := s.LogQueue.Peek(1)
	assert.Equal(t, "Alice", entries[0].Principal)
	assert.True(t, entries[0].Granted)
}

func TestDecideDeniesUnknownCard(t *testing.T) {
	s, relay := newTestState()
	card, _ := credential.ParseCard("99 11111")

	s.decide(1, decision.CredTypeCard, card, "", 0)

	assert.False(t, relay.high)
	entries := s.LogQueue.Peek(1)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Granted)
	assert.Equal(t, string(decision.ReasonUnknownCredential), entries[0].Reason)
}

func TestOnFramePINWrongDoorIsLogged(t *testing.T) {
	s, _ := newTestState()
	s.Doors[2] = s.Doors[1] // a second door number sharing the same pins is fine for this test

	for _, key := range []byte("1234") {
		s.onFrame(wiegand.Frame{Door: 1, Kind: wiegand.KindKeypad, Key: key}, 0)
	}
	// '#' arrives on door 2 without any digit ever typed there.
	s.onFrame(wiegand.Frame{Door: 2, Kind: wiegand.KindKeypad, Key: '#'}, 10)

	entries := s.LogQueue.Peek(1)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Granted)
	assert.Equal(t, string(decision.ReasonPINWrongDoor), entries[0].Reason)
}

func TestOnFrameUnknownBitcountIsDiscardedWithoutPanicOrLogEntry(t *testing.T) {
	s, _ := newTestState()
	s.onFrame(wiegand.Frame{Door: 1, Kind: wiegand.KindUnknown, BitCount: 13}, 0)
	assert.Equal(t, 0, s.LogQueue.Len(), "an ambiguous frame never reaches the access log queue")
}

func TestOnRexGrantsAndRespectsEmergencyLock(t *testing.T) {
	s, relay := newTestState()

	s.onRex(1)
	assert.True(t, relay.high)

	s, relay = newTestState()
	s.Doors[1].EmergencyLock()
	s.onRex(1)
	assert.False(t, relay.high)
}

func TestBoardEmergencyLockOverridesDoorViaAPI(t *testing.T) {
	s, relay := newTestState()
	s.Doors[1].ApplySchedule(schedule.ModeUnlock)
	assert.True(t, relay.high)

	replyCh := make(chan api.Reply, 1)
	s.handleAPIRequest(api.Request{
		Kind:   api.KindEmergencyLock,
		EmLock: api.EmergencyLockRequest{DurationSeconds: 0},
		Reply:  replyCh,
	})
	reply := <-replyCh
	require.NoError(t, reply.Err)

	s.onTick()
	assert.False(t, relay.high, "board emergency lock must reach the relay on the next tick")
}

func TestEmergencyAutoResetWaitsOutDuration(t *testing.T) {
	s, _ := newTestState()
	s.setBoardEmergency(decision.EmergencyUnlock, 10)
	assert.Equal(t, decision.EmergencyUnlock, s.boardEmergency)

	s.applyEmergencyAutoReset(5000) // 5s < 10s, still unlocked
	assert.Equal(t, decision.EmergencyUnlock, s.boardEmergency)

	s.applyEmergencyAutoReset(10000)
	assert.Equal(t, decision.EmergencyNone, s.boardEmergency)
}

func TestEmergencyAutoResetNeverAppliesToLock(t *testing.T) {
	s, _ := newTestState()
	s.setBoardEmergency(decision.EmergencyLock, 10)

	s.applyEmergencyAutoReset(10000)
	assert.Equal(t, decision.EmergencyLock, s.boardEmergency, "only board-wide unlock auto-resets; lock requires an explicit reset")
}

func TestDoorOverrideAPIUnknownDoorErrors(t *testing.T) {
	s, _ := newTestState()
	replyCh := make(chan api.Reply, 1)
	s.handleAPIRequest(api.Request{
		Kind:  api.KindDoorOverride,
		Door:  api.DoorOverrideRequest{DoorNumber: 9, Override: "lock"},
		Reply: replyCh,
	})
	reply := <-replyCh
	assert.Error(t, reply.Err)
}

func TestTempCodeGrantIncrementsLedgerAndOneTimeBlocksSecondUse(t *testing.T) {
	s, _ := newTestState()
	s.DB.ReplaceTempCodes([]db.TempCode{
		{Code: "1234", DisplayName: "Guest", Active: true, Policy: tempcode.PolicyOneTime, Doors: map[int]bool{1: true}},
	})

	s.decide(1, decision.CredTypePIN, credential.Card{}, "1234", 0)
	entries := s.LogQueue.Peek(10)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Granted)

	s.decide(1, decision.CredTypePIN, credential.Card{}, "1234", 1000)
	entries = s.LogQueue.Peek(10)
	require.Len(t, entries, 2)
	assert.False(t, entries[1].Granted)
}

func TestResetTempCodeLedgersOnZeroClearsUsage(t *testing.T) {
	s, _ := newTestState()
	s.Ledger.Increment("1234", 1)
	require.Equal(t, 1, s.Ledger.Uses("1234", 1))

	s.DB.ReplaceTempCodes([]db.TempCode{
		{Code: "1234", Active: true, ServerUsedTotal: 0},
	})
	s.resetTempCodeLedgersOnZero()

	assert.Equal(t, 0, s.Ledger.Uses("1234", 1))
}
