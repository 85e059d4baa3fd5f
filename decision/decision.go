// Package decision implements the override lattice of spec.md §4.4: a
// strict, ordered set of rules from emergency overrides down through
// schedule modes to normal user/temp-code resolution. The first rule that
// produces a terminal verdict wins.
package decision

import (
	"fmt"

	"doorcore/accessnode/credential"
	"doorcore/accessnode/db"
	"doorcore/accessnode/schedule"
	"doorcore/accessnode/tempcode"
)

// Reason enumerates the free-form-but-fixed reason strings of spec.md §7.
type Reason string

const (
	ReasonGranted               Reason = "Access granted"
	ReasonEmergencyLockDoor     Reason = "Emergency lockdown (door)"
	ReasonEmergencyLockBoard    Reason = "Emergency lockdown (board)"
	ReasonScheduleLocked        Reason = "Door locked by schedule"
	ReasonNoDoorAccess          Reason = "No access to this door"
	ReasonOutsideSchedule       Reason = "Outside allowed schedule"
	ReasonTempCodeDisabled      Reason = "Temp code disabled"
	ReasonTempCodeExhaustedDoor Reason = "Temp code already used on this door (one-time)"
	ReasonTempCodeNoDoorAccess  Reason = "Temp code has no access to this door"
	ReasonUnknownCredential     Reason = "Unknown credential"
	ReasonPINTooShort           Reason = "PIN too short"
	ReasonPINWrongDoor          Reason = "PIN wrong door"
	ReasonFrameUnknownBitcount  Reason = "Unknown frame bit count"
)

// CredentialType mirrors spec.md §3's credential_type values for logging.
type CredentialType string

const (
	CredTypeCard     CredentialType = "card"
	CredTypePIN      CredentialType = "pin"
	CredTypeTempCode CredentialType = "temp_code"
	CredTypeManual   CredentialType = "manual"
)

// EmergencyState mirrors spec.md §3's {none, lock, unlock} override values,
// shared by both per-door overrides and the board-wide emergency.
type EmergencyState int

const (
	EmergencyNone EmergencyState = iota
	EmergencyLock
	EmergencyUnlock
)

// DoorState is the subset of door state the decision engine needs to read.
// doorctl.Door satisfies this via a small adapter (see doorctl package).
type DoorState struct {
	EmergencyOverride   EmergencyState
	CurrentScheduleMode schedule.Mode
}

// Input bundles everything one decision needs.
type Input struct {
	Door            int
	DoorState       DoorState
	BoardEmergency  EmergencyState
	CredType        CredentialType
	PresentedCard   credential.Card // valid only if CredType == CredTypeCard
	PresentedPIN    string          // valid only if CredType == CredTypePIN
	IsREX           bool
	WallTimeKnown   bool
	DayOfWeek       int
	MinuteOfDay     int
}

// Result is the outcome of a decision: whether access is granted, why,
// and who (or what) was identified for logging.
type Result struct {
	Granted     bool
	Reason      Reason
	Principal   string
	CredType    CredentialType
	TempCodeHit string // non-empty when a temp code granted access, for usage reporting
}

func grant(principal string, credType CredentialType) Result {
	return Result{Granted: true, Reason: ReasonGranted, Principal: principal, CredType: credType}
}

func deny(reason Reason, credType CredentialType) Result {
	return Result{Granted: false, Reason: reason, CredType: credType}
}

// Decide applies the override lattice of spec.md §4.4 and returns the
// verdict. database is only read; ledger is read and, when a temp code
// grants access, incremented for that (code, door) before Decide returns.
func Decide(in Input, database *db.DB, ledger *tempcode.Ledger) Result {
	if in.IsREX {
		return decideREX(in)
	}

	// 1: door emergency lock.
	if in.DoorState.EmergencyOverride == EmergencyLock {
		return deny(ReasonEmergencyLockDoor, in.CredType)
	}
	// 2: door emergency unlock.
	if in.DoorState.EmergencyOverride == EmergencyUnlock {
		r := grant("N/A (Emergency Override)", in.CredType)
		return r
	}
	// 3: board emergency lock.
	if in.BoardEmergency == EmergencyLock {
		return deny(ReasonEmergencyLockBoard, in.CredType)
	}
	// 4: board emergency unlock.
	if in.BoardEmergency == EmergencyUnlock {
		return grant("N/A (Emergency Evacuation)", in.CredType)
	}
	// 5: door locked by schedule.
	if in.DoorState.CurrentScheduleMode == schedule.ModeLocked {
		return deny(ReasonScheduleLocked, in.CredType)
	}
	// 6: door held unlocked by schedule — grant, try to identify for logging
	// only; identification never blocks the grant.
	if in.DoorState.CurrentScheduleMode == schedule.ModeUnlock {
		principal := identify(in, database, ledger)
		r := grant(principal, in.CredType)
		return r
	}

	// 7: normal resolution.
	return normalResolve(in, database, ledger)
}

func decideREX(in Input) Result {
	if in.DoorState.EmergencyOverride == EmergencyLock {
		return deny(ReasonEmergencyLockDoor, CredTypeManual)
	}
	if in.BoardEmergency == EmergencyLock {
		return deny(ReasonEmergencyLockBoard, CredTypeManual)
	}
	return grant("REX", CredTypeManual)
}

// identify attempts a normal-resolution lookup purely to produce a
// principal name for logging under a schedule-unlock grant; it never
// changes the (already-granted) verdict, and a miss just yields "Unknown".
func identify(in Input, database *db.DB, ledger *tempcode.Ledger) string {
	if p := matchUser(in, database); p != "" {
		return p
	}
	if in.CredType == CredTypePIN {
		if c, ok := database.TempCode(in.PresentedPIN); ok {
			return "🎫 " + c.DisplayName
		}
	}
	return "Unknown"
}

func matchUser(in Input, database *db.DB) string {
	for _, u := range database.Users() {
		if !u.Active {
			continue
		}
		matched := false
		switch in.CredType {
		case CredTypeCard:
			matched = u.HasCard(in.PresentedCard)
		case CredTypePIN:
			matched = u.HasPIN(in.PresentedPIN)
		}
		if matched {
			return u.Name
		}
	}
	return ""
}

func normalResolve(in Input, database *db.DB, ledger *tempcode.Ledger) Result {
	// 7a: scan active users.
	for _, u := range database.Users() {
		if !u.Active {
			continue
		}
		matched := false
		switch in.CredType {
		case CredTypeCard:
			matched = u.HasCard(in.PresentedCard)
		case CredTypePIN:
			matched = u.HasPIN(in.PresentedPIN)
		}
		if !matched {
			continue
		}

		if !u.Doors[in.Door] {
			return deny(ReasonNoDoorAccess, in.CredType)
		}

		if in.WallTimeKnown {
			if !schedule.EvalUser(u.Schedule, in.DayOfWeek, in.MinuteOfDay) {
				return deny(ReasonOutsideSchedule, in.CredType)
			}
		}
		// Wall time unknown: user schedules fail open (spec.md §4.3),
		// so no schedule check is performed.

		return grant(u.Name, in.CredType)
	}

	// 7b: no user match; try temp codes, PIN only.
	if in.CredType == CredTypePIN {
		if c, ok := database.TempCode(in.PresentedPIN); ok {
			return resolveTempCode(in, c, ledger)
		}
	}

	// 7c: no match at all.
	return deny(ReasonUnknownCredential, in.CredType)
}

func resolveTempCode(in Input, c db.TempCode, ledger *tempcode.Ledger) Result {
	if !c.Active {
		return deny(ReasonTempCodeDisabled, in.CredType)
	}

	if !ledger.Allowed(c.Code, in.Door, c.Policy, c.MaxUses) {
		return deny(ReasonTempCodeExhaustedDoor, in.CredType)
	}

	if !c.Doors[in.Door] {
		return deny(ReasonTempCodeNoDoorAccess, in.CredType)
	}

	ledger.Increment(c.Code, in.Door)
	return Result{
		Granted:     true,
		Reason:      ReasonGranted,
		Principal:   fmt.Sprintf("🎫 %s", c.DisplayName),
		CredType:    CredTypeTempCode,
		TempCodeHit: c.Code,
	}
}
