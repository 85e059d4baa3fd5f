package controller

import (
	"bytes"
	"encoding/json"
	"fmt"

	"doorcore/accessnode/credential"
	"doorcore/accessnode/db"
	"doorcore/accessnode/schedule"
	"doorcore/accessnode/tempcode"
)

// Snapshot is the wire shape of the /api/sync payload (spec.md §6):
// any subset of the listed top-level keys may be present; each present
// category replaces its in-memory state, per-category atomic.
type Snapshot struct {
	Users           []UserDoc              `json:"users,omitempty"`
	DoorSchedules   map[string][]Interval  `json:"door_schedules,omitempty"`
	UserSchedules   map[string][]Interval  `json:"user_schedules,omitempty"`
	TempCodes       []TempCodeDoc          `json:"temp_codes,omitempty"`
	DoorNames       map[string]string      `json:"door_names,omitempty"`
	UnlockDurations *UnlockDurationsDoc    `json:"unlock_durations,omitempty"`
}

// UserDoc is one user entry's wire shape.
type UserDoc struct {
	Name   string   `json:"name"`
	Active bool     `json:"active"`
	Cards  []string `json:"cards"`
	PINs   []string `json:"pins"`
	Doors  []int    `json:"doors"`
}

// Interval is one schedule interval's wire shape.
type Interval struct {
	Day      int    `json:"day"`
	Start    string `json:"start"` // "HH:MM"
	End      string `json:"end"`   // "HH:MM"
	Priority int    `json:"priority,omitempty"`
	Type     string `json:"type,omitempty"` // door intervals only: unlock|controlled|locked
}

// TempCodeDoc is one temp code entry's wire shape.
type TempCodeDoc struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Active      bool   `json:"active"`
	UsageType   string `json:"usage_type"` // one_time|limited|unlimited
	MaxUses     int    `json:"max_uses"`
	Doors       []int  `json:"doors"`
	CurrentUses int    `json:"current_uses"`
}

// UnlockDurationsDoc is the {door1,door2} unlock-duration wire shape.
type UnlockDurationsDoc struct {
	Door1 int64 `json:"door1"`
	Door2 int64 `json:"door2"`
}

// DecodeSnapshot parses raw JSON into a Snapshot, returning a parse_error
// (spec.md §7) on any decode failure. Unknown fields are accepted; a
// payload that fails to decode into the declared shape is rejected
// wholesale rather than partially applied.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	var s Snapshot
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("parse_error: %w", err)
	}
	return s, nil
}

// Apply ingests a decoded Snapshot into database, replacing each present
// category atomically, per spec.md §4.8/§5. Every present category is
// decoded and validated first; only once the whole snapshot validates does
// any category get committed to database, so a parse error in a later
// category (e.g. a bad schedule time) never leaves an earlier category
// (e.g. users) applied while the sync as a whole is reported as failed —
// spec.md §7: "partial updates are rejected so the in-memory snapshot
// remains consistent."
func (s Snapshot) Apply(database *db.DB) error {
	var users []db.User
	if s.Users != nil {
		users = make([]db.User, 0, len(s.Users))
		for _, ud := range s.Users {
			u, err := ud.toUser()
			if err != nil {
				return err
			}
			users = append(users, u)
		}
	}

	var doorSchedules map[int][]schedule.Interval
	if s.DoorSchedules != nil {
		m, err := decodeDoorSchedules(s.DoorSchedules)
		if err != nil {
			return err
		}
		doorSchedules = m
	}

	var userSchedules map[string][]schedule.Interval
	if s.UserSchedules != nil {
		m, err := decodeUserSchedules(s.UserSchedules)
		if err != nil {
			return err
		}
		userSchedules = m
	}

	var tempCodes []db.TempCode
	if s.TempCodes != nil {
		tempCodes = make([]db.TempCode, 0, len(s.TempCodes))
		for _, td := range s.TempCodes {
			tempCodes = append(tempCodes, td.toTempCode())
		}
	}

	var doorNames map[int]string
	if s.DoorNames != nil {
		m, err := decodeDoorNames(s.DoorNames)
		if err != nil {
			return err
		}
		doorNames = m
	}

	// Everything above decoded cleanly; commit it all now. None of the
	// Replace* calls below can fail.
	if s.Users != nil {
		database.ReplaceUsers(users)
	}
	if s.DoorSchedules != nil {
		database.ReplaceDoorSchedules(doorSchedules)
	}
	if s.UserSchedules != nil {
		database.ReplaceUserSchedules(userSchedules)
	}
	if s.TempCodes != nil {
		database.ReplaceTempCodes(tempCodes)
	}
	if s.DoorNames != nil {
		database.ReplaceDoorNames(doorNames)
	}
	if s.UnlockDurations != nil {
		database.ReplaceUnlockDurations(map[int]int64{
			1: s.UnlockDurations.Door1,
			2: s.UnlockDurations.Door2,
		})
	}

	return nil
}

func (ud UserDoc) toUser() (db.User, error) {
	cards := make([]credential.Card, 0, len(ud.Cards))
	for _, c := range ud.Cards {
		parsed, ok := credential.ParseCard(c)
		if !ok {
			return db.User{}, fmt.Errorf("parse_error: invalid card %q for user %q", c, ud.Name)
		}
		cards = append(cards, parsed)
	}
	doors := make(map[int]bool, len(ud.Doors))
	for _, d := range ud.Doors {
		doors[d] = true
	}
	return db.User{
		Name:   ud.Name,
		Active: ud.Active,
		Cards:  cards,
		PINs:   ud.PINs,
		Doors:  doors,
	}, nil
}

func (td TempCodeDoc) toTempCode() db.TempCode {
	doors := make(map[int]bool, len(td.Doors))
	for _, d := range td.Doors {
		doors[d] = true
	}
	policy := tempcode.PolicyUnlimited
	switch td.UsageType {
	case "one_time":
		policy = tempcode.PolicyOneTime
	case "limited":
		policy = tempcode.PolicyLimited
	}
	return db.TempCode{
		Code:            td.Code,
		DisplayName:     td.Name,
		Active:          td.Active,
		Policy:          policy,
		MaxUses:         td.MaxUses,
		Doors:           doors,
		ServerUsedTotal: td.CurrentUses,
	}
}

func decodeDoorSchedules(raw map[string][]Interval) (map[int][]schedule.Interval, error) {
	out := make(map[int][]schedule.Interval, len(raw))
	for doorStr, intervals := range raw {
		door, err := parseDoorNumber(doorStr)
		if err != nil {
			return nil, err
		}
		converted, err := convertIntervals(intervals, true)
		if err != nil {
			return nil, err
		}
		out[door] = converted
	}
	return out, nil
}

func decodeUserSchedules(raw map[string][]Interval) (map[string][]schedule.Interval, error) {
	out := make(map[string][]schedule.Interval, len(raw))
	for user, intervals := range raw {
		converted, err := convertIntervals(intervals, false)
		if err != nil {
			return nil, err
		}
		out[user] = converted
	}
	return out, nil
}

func convertIntervals(raw []Interval, isDoor bool) ([]schedule.Interval, error) {
	out := make([]schedule.Interval, 0, len(raw))
	for _, iv := range raw {
		start, err := parseHHMM(iv.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseHHMM(iv.End)
		if err != nil {
			return nil, err
		}
		mode := schedule.ModeControlled
		if isDoor {
			switch iv.Type {
			case "unlock":
				mode = schedule.ModeUnlock
			case "locked":
				mode = schedule.ModeLocked
			case "controlled", "":
				mode = schedule.ModeControlled
			default:
				return nil, fmt.Errorf("parse_error: invalid interval type %q", iv.Type)
			}
		}
		out = append(out, schedule.Interval{
			DayOfWeek: iv.Day,
			Start:     start,
			End:       end,
			Priority:  iv.Priority,
			Mode:      mode,
		})
	}
	return out, nil
}

func decodeDoorNames(raw map[string]string) (map[int]string, error) {
	out := make(map[int]string, len(raw))
	for doorStr, name := range raw {
		door, err := parseDoorNumber(doorStr)
		if err != nil {
			return nil, err
		}
		out[door] = name
	}
	return out, nil
}

func parseDoorNumber(s string) (int, error) {
	switch s {
	case "1":
		return 1, nil
	case "2":
		return 2, nil
	default:
		return 0, fmt.Errorf("parse_error: invalid door number %q", s)
	}
}

func parseHHMM(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("parse_error: invalid time %q", s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("parse_error: invalid time %q", s)
	}
	return h*60 + m, nil
}
