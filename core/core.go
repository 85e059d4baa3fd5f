// Package core ties every leaf package into the single cooperative loop
// described in spec.md §2/§5: one goroutine owns all decision state, fed
// by edge-capture and network goroutines over bounded channels, exactly
// the shape of _examples/Hive13-HiveRFID/access/access.go's Run select
// loop generalized from one badge-scan channel to this node's full
// event/ticker set (wiegand frames, REX presses, admin API requests,
// schedule re-evaluation, emergency auto-reset, log retry, heartbeat,
// link watchdog).
package core

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"doorcore/accessnode/accesslog"
	"doorcore/accessnode/api"
	"doorcore/accessnode/controller"
	"doorcore/accessnode/credential"
	"doorcore/accessnode/db"
	"doorcore/accessnode/decision"
	"doorcore/accessnode/doorctl"
	"doorcore/accessnode/logqueue"
	"doorcore/accessnode/pin"
	"doorcore/accessnode/schedule"
	"doorcore/accessnode/telemetry"
	"doorcore/accessnode/tempcode"
	"doorcore/accessnode/wiegand"
)

// tickInterval is how often the loop polls the wiegand assembler, runs
// momentary-expiry sweeps, and re-evaluates door schedules. The PIN idle
// timeout has its own, slower ticker (pin.PollInterval). It is well under the 100ms wiegand inter-bit timeout so a
// completed frame is never held longer than one extra tick.
const tickInterval = 20 * time.Millisecond

// logRetryInterval matches spec.md §4.7's delivery cadence.
const logRetryInterval = 5 * time.Second

// heartbeatInterval matches spec.md §4.8's heartbeat cadence.
const heartbeatInterval = 60 * time.Second

// linkWatchdogInterval and linkFailureThreshold implement spec.md §7's
// link_down condition: ten consecutive failed network operations.
const linkWatchdogInterval = 30 * time.Second
const linkFailureThreshold = 10

// logBatchSize bounds how many entries are attempted per delivery tick.
const logBatchSize = 20

// State holds every piece of mutable core state. It is never touched from
// more than one goroutine: Run owns it exclusively, and every external
// input (REX presses, HTTP admin requests) arrives over a channel rather
// than by direct field access, matching the single-task model of
// spec.md §5/§9 ("no need for locks under the single-task model").
type State struct {
	Clock      *Clock
	Doors      map[int]*doorctl.Door
	Wiegand    *wiegand.Assembler
	PIN        *pin.Assembler
	DB         *db.DB
	Ledger     *tempcode.Ledger
	LogQueue   *logqueue.Queue
	Controller *controller.Session
	Telemetry  *telemetry.Publisher
	BoardName  string

	Rex map[int]<-chan bool

	Requests <-chan api.Request

	boardEmergency      decision.EmergencyState
	boardEmergencyUntil int64 // monotonic ms; 0 == no auto-reset
	linkFailures        int
	lastRelay           map[int]bool // last published EffectiveRelay per door, for edge-triggered telemetry
}

// New assembles a State from its already-constructed leaf components.
// Callers (cmd/access/main.go) build every door first and hand them here
// along with the channels fed by the hardware-facing goroutines; New itself
// creates the wiegand and PIN assemblers, the database, the temp-code
// ledger, and the log queue.
func New(clock *Clock, boardName string, doors map[int]*doorctl.Door, rex map[int]<-chan bool, requests <-chan api.Request) *State {
	return &State{
		Clock:     clock,
		BoardName: boardName,
		Doors:     doors,
		Wiegand:   wiegand.NewAssembler(clock.NowMs),
		PIN:       pin.NewAssembler(),
		DB:        db.New(),
		Ledger:    tempcode.NewLedger(),
		LogQueue:  logqueue.New(),
		Rex:       rex,
		Requests:  requests,
		lastRelay: make(map[int]bool),
	}
}

// Run blocks forever (or until stop is closed), driving the full event
// loop. It is meant to be started from cmd/access/main.go as the final
// step of wiring, after every goroutine feeding Rex/Requests is started.
func (s *State) Run(stop <-chan struct{}) {
	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	logRetry := time.NewTicker(logRetryInterval)
	defer logRetry.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	watchdog := time.NewTicker(linkWatchdogInterval)
	defer watchdog.Stop()
	pinIdle := time.NewTicker(pin.PollInterval)
	defer pinIdle.Stop()

	rex1, rex2 := s.Rex[1], s.Rex[2]

	log.Printf("core: starting loop")
	for {
		select {
		case <-stop:
			log.Printf("core: stopping loop")
			return

		case <-tick.C:
			s.onTick()

		case pressed := <-rex1:
			if pressed {
				s.onRex(1)
			}
		case pressed := <-rex2:
			if pressed {
				s.onRex(2)
			}

		case req := <-s.Requests:
			s.handleAPIRequest(req)

		case <-logRetry.C:
			s.drainLogQueue()

		case <-heartbeat.C:
			s.sendHeartbeat()

		case <-watchdog.C:
			s.checkLinkWatchdog()

		case <-pinIdle.C:
			s.PIN.CheckIdle(s.Clock.NowMs())
		}
	}
}

func (s *State) onTick() {
	nowMs := s.Clock.NowMs()

	for _, frame := range s.Wiegand.Poll() {
		s.onFrame(frame, nowMs)
	}

	s.applyEmergencyAutoReset(nowMs)
	s.reevaluateSchedules()

	for doorNum, d := range s.Doors {
		d.Tick(nowMs, s.boardEmergency)
		d.SyncRelay(s.boardEmergency)
		s.publishRelayTransition(doorNum, d)
	}
}

// publishRelayTransition sends a telemetry.PublishDoorState message the
// first time a door's effective relay state is observed and on every
// change after that, per SPEC_FULL.md §4.11's door relay state topic.
func (s *State) publishRelayTransition(doorNum int, d *doorctl.Door) {
	if s.Telemetry == nil {
		return
	}
	eff := d.EffectiveRelay(s.boardEmergency)
	if prev, ok := s.lastRelay[doorNum]; ok && prev == eff {
		return
	}
	s.lastRelay[doorNum] = eff
	s.Telemetry.PublishDoorState(doorNum, eff)
}

func (s *State) onFrame(f wiegand.Frame, nowMs int64) {
	switch f.Kind {
	case wiegand.KindCard:
		card := credential.Card{HasFacility: true, Facility: f.Facility, Code: f.Card}
		s.decide(f.Door, decision.CredTypeCard, card, "", nowMs)

	case wiegand.KindKeypad:
		switch f.Key {
		case '*':
			s.PIN.Clear()
		case '#':
			value, reason, ok := s.PIN.Submit(f.Door)
			if !ok {
				switch reason {
				case pin.SubmitTooShort:
					s.logDecision(f.Door, decision.Result{Granted: false, Reason: decision.ReasonPINTooShort, CredType: decision.CredTypePIN}, "")
				case pin.SubmitWrongDoor:
					s.logDecision(f.Door, decision.Result{Granted: false, Reason: decision.ReasonPINWrongDoor, CredType: decision.CredTypePIN}, "")
				}
				return
			}
			s.decide(f.Door, decision.CredTypePIN, credential.Card{}, value, nowMs)
		case 0:
			// invalid 4-bit code, ignore per spec.md §4.1.
		default:
			s.PIN.Digit(f.Door, f.Key, nowMs)
		}

	default:
		// Ambiguous bit count (spec.md §4.1: "any other count -> log and
		// discard"). There is no principal or credential to attach, so this
		// never enters the decision engine or its log queue; it is still
		// observable via the log line itself.
		log.Printf("core: door %d: %s: %d bits", f.Door, decision.ReasonFrameUnknownBitcount, f.BitCount)
	}
}

func (s *State) onRex(door int) {
	nowMs := s.Clock.NowMs()
	d, ok := s.Doors[door]
	if !ok {
		return
	}
	result := decision.Decide(decision.Input{
		Door:           door,
		DoorState:      d.ToDecisionState(),
		BoardEmergency: s.boardEmergency,
		IsREX:          true,
	}, s.DB, s.Ledger)

	if result.Granted {
		d.Grant(nowMs)
	}
	s.logDecision(door, result, "")
}

func (s *State) decide(door int, credType decision.CredentialType, card credential.Card, presentedPIN string, nowMs int64) {
	d, ok := s.Doors[door]
	if !ok {
		return
	}

	dow, minute, wallKnown := s.Clock.LocalTime()
	input := decision.Input{
		Door:           door,
		DoorState:      d.ToDecisionState(),
		BoardEmergency: s.boardEmergency,
		CredType:       credType,
		PresentedCard:  card,
		PresentedPIN:   presentedPIN,
		WallTimeKnown:  wallKnown,
		DayOfWeek:      dow,
		MinuteOfDay:    minute,
	}
	result := decision.Decide(input, s.DB, s.Ledger)

	if result.Granted {
		d.Grant(nowMs)
	}
	d.Feedback(result.Granted)

	credStr := presentedPIN
	if credType == decision.CredTypeCard {
		credStr = card.String()
	}
	s.logDecision(door, result, credStr)

	if result.TempCodeHit != "" {
		s.reportTempCodeUsage(result.TempCodeHit, door)
	}
}

func (s *State) logDecision(door int, result decision.Result, credStr string) {
	entry := accesslog.Entry{
		Timestamp:      s.Clock.WallTimestamp(),
		Door:           door,
		Principal:      result.Principal,
		Credential:     credStr,
		CredentialType: string(result.CredType),
		Granted:        result.Granted,
		Reason:         string(result.Reason),
	}
	s.LogQueue.Push(entry)
	if s.Telemetry != nil {
		s.Telemetry.PublishAccessLog(entry)
	}
	// spec.md §4.7 trigger (a): attempt delivery immediately, not just on
	// the 5s retry tick or after a heartbeat.
	s.drainLogQueue()
}

func (s *State) reportTempCodeUsage(code string, door int) {
	if s.Controller == nil {
		return
	}
	uses := s.Ledger.Uses(code, door)
	if err := s.Controller.PostTempCodeUsage(controller.TempCodeUsageRequest{
		Code:        code,
		CurrentUses: uses,
	}); err != nil {
		s.linkFailures++
		log.Printf("core: temp code usage report failed: %v", err)
	} else {
		s.linkFailures = 0
	}
}

func (s *State) reevaluateSchedules() {
	dow, minute, wallKnown := s.Clock.LocalTime()
	for doorNum, d := range s.Doors {
		mode := schedule.ModeControlled
		if wallKnown {
			mode = schedule.EvalDoor(s.DB.DoorSchedule(doorNum), dow, minute)
		}
		d.ApplySchedule(mode)
	}
}

func (s *State) applyEmergencyAutoReset(nowMs int64) {
	if s.boardEmergency != decision.EmergencyUnlock {
		return
	}
	if s.boardEmergencyUntil == 0 {
		return
	}
	if nowMs >= s.boardEmergencyUntil {
		log.Printf("core: board emergency auto-reset")
		s.boardEmergency = decision.EmergencyNone
		s.boardEmergencyUntil = 0
	}
}

// handleAPIRequest applies one inbound admin request and replies on its
// channel, matching access.go's open_door_handler request/reply shape
// generalized to every admin operation spec.md §6 names.
func (s *State) handleAPIRequest(req api.Request) {
	var err error
	switch req.Kind {
	case api.KindSync:
		err = req.Sync.Apply(s.DB)
		if err == nil {
			s.DB.MarkSynced(time.Now())
			s.resetTempCodeLedgersOnZero()
			s.applyDoorConfigFromDB()
		}
	case api.KindEmergencyLock:
		s.setBoardEmergency(decision.EmergencyLock, req.EmLock.DurationSeconds)
	case api.KindEmergencyUnlock:
		s.setBoardEmergency(decision.EmergencyUnlock, req.EmLock.DurationSeconds)
	case api.KindEmergencyReset:
		s.boardEmergency = decision.EmergencyNone
		s.boardEmergencyUntil = 0
	case api.KindDoorOverride:
		err = s.applyDoorOverride(req.Door)
	case api.KindSetController:
		s.setController(req.Ctrl)
	}

	if req.Reply != nil {
		req.Reply <- api.Reply{Err: err}
	}
}

func (s *State) setBoardEmergency(state decision.EmergencyState, durationSeconds int) {
	s.boardEmergency = state
	if durationSeconds > 0 {
		s.boardEmergencyUntil = s.Clock.NowMs() + int64(durationSeconds)*1000
	} else {
		s.boardEmergencyUntil = 0
	}
	log.Printf("core: board emergency set to %v (duration %ds)", state, durationSeconds)
}

func (s *State) applyDoorOverride(req api.DoorOverrideRequest) error {
	d, ok := s.Doors[req.DoorNumber]
	if !ok {
		return fmt.Errorf("core: unknown door number %d", req.DoorNumber)
	}
	switch req.Override {
	case "lock":
		d.EmergencyLock()
	case "unlock":
		d.EmergencyUnlock()
	case "", "clear":
		d.EmergencyClear(d.CurrentScheduleMode)
	default:
		return fmt.Errorf("core: invalid override value %q", req.Override)
	}
	return nil
}

func (s *State) setController(req api.SetControllerRequest) {
	if req.ControllerIP == "" {
		return
	}
	url := "http://" + req.ControllerIP
	if req.ControllerPort != 0 {
		url = url + ":" + strconv.Itoa(req.ControllerPort)
	}
	s.Controller = controller.NewSession(url)
}

// resetTempCodeLedgersOnZero implements spec.md §3/§4.6's reset rule: a
// temp code reported active with current_uses==0 has its local per-door
// ledger cleared, picking up a server-side reset.
func (s *State) resetTempCodeLedgersOnZero() {
	for _, c := range s.DB.TempCodes() {
		if c.Active && c.ServerUsedTotal == 0 {
			s.Ledger.Reset(c.Code)
		}
	}
}

// applyDoorConfigFromDB pushes a synced unlock_durations category (and any
// door-name change) from db.DB into the live doorctl.Door instances, which
// is what Door.Grant actually reads. Without this step a synced
// unlock_durations entry would sit in the database unread forever.
func (s *State) applyDoorConfigFromDB() {
	for doorNum, d := range s.Doors {
		cfg := s.DB.DoorConfig(doorNum)
		if cfg.MomentaryUnlockMs > 0 {
			d.MomentaryUnlockMs = cfg.MomentaryUnlockMs
		}
		if cfg.Name != "" {
			d.Name = cfg.Name
		}
	}
}

func (s *State) drainLogQueue() {
	if s.Controller == nil {
		return
	}
	entries := s.LogQueue.Peek(logBatchSize)
	delivered := 0
	for _, e := range entries {
		if err := s.Controller.PostAccessLog(e); err != nil {
			s.linkFailures++
			break
		}
		s.linkFailures = 0
		delivered++
	}
	if delivered > 0 {
		s.LogQueue.Drop(delivered)
	}
}

func (s *State) sendHeartbeat() {
	if s.Controller == nil {
		return
	}
	err := s.Controller.Heartbeat(controller.HeartbeatRequest{BoardName: s.BoardName})
	if err != nil {
		s.linkFailures++
		return
	}
	s.linkFailures = 0
	// spec.md §4.7 trigger (c): a successful heartbeat also drains the
	// queue, so entries queued while the link was down go out as soon as
	// the link proves itself back up, not just on the next 5s tick.
	s.drainLogQueue()
}

func (s *State) checkLinkWatchdog() {
	if s.linkFailures >= linkFailureThreshold {
		log.Printf("core: link_down: %d consecutive network failures", s.linkFailures)
	}
}

