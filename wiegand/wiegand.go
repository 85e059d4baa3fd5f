// Package wiegand reassembles Wiegand frames from D0/D1 edge events into
// completed card and keypad events, and classifies them.
//
// The edge-capture side is driven by github.com/warthog618/gpiod line
// watchers, one pair (D0, D1) per door, the same library the reference
// node's own manual test harness already used (see
// _examples/Hive13-HiveRFID/test/wiegand/main.go). There is no cgo and no
// wiringPi dependency here: a falling edge on a gpiod-watched line arrives
// as a Go-level event, which this package folds into a small per-door
// accumulator guarded by a mutex standing in for the ISR-disable window a
// bare-metal implementation would use.
package wiegand

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/gpiod"
)

// InterBitTimeout is the silence window after which an in-progress frame
// is considered complete. See spec.md §4.1.
const InterBitTimeout = 100 * time.Millisecond

// Kind classifies a completed frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindCard
	KindKeypad
)

// Frame is a completed, classified Wiegand frame for one door.
type Frame struct {
	Door     int
	Kind     Kind
	BitCount int
	Bits     []byte // raw bits, MSB first, 0/1 valued; kept for optional parity checks

	// Populated when Kind == KindCard.
	Facility int
	Card     int

	// Populated when Kind == KindKeypad.
	Key byte // '0'-'9', '*', '#', or 0 if invalid
}

// CardString renders a card frame as the normalized "F N" string used
// throughout credential matching.
func (f Frame) CardString() string {
	return fmt.Sprintf("%d %d", f.Facility, f.Card)
}

// accumulator holds the in-progress bit sequence for one door. Writes come
// only from the two gpiod edge-event goroutines for that door; the single
// reader is Assembler.Poll, called from the core loop tick.
type accumulator struct {
	mu         sync.Mutex
	bits       []byte
	lastEdgeMs int64
}

// Assembler reassembles frames for a fixed set of doors.
type Assembler struct {
	nowMs func() int64

	mu   sync.Mutex
	accs map[int]*accumulator
}

// NewAssembler creates an Assembler. nowMs should be the shared core
// monotonic clock (see core.Clock.NowMs), so frame timeouts are measured
// on the same clock as the rest of the loop.
func NewAssembler(nowMs func() int64) *Assembler {
	return &Assembler{
		nowMs: nowMs,
		accs:  make(map[int]*accumulator),
	}
}

// Watch opens gpiod edge-detect watchers on d0Line/d1Line for the given
// door and wires their falling edges into the assembler's accumulator for
// that door. chip must already be open (gpiod.NewChip).
func (a *Assembler) Watch(chip *gpiod.Chip, door int, d0Line, d1Line int) error {
	a.mu.Lock()
	acc, ok := a.accs[door]
	if !ok {
		acc = &accumulator{}
		a.accs[door] = acc
	}
	a.mu.Unlock()

	handler := func(bit byte) func(gpiod.LineEvent) {
		return func(gpiod.LineEvent) {
			acc.mu.Lock()
			acc.bits = append(acc.bits, bit)
			acc.lastEdgeMs = a.nowMs()
			acc.mu.Unlock()
		}
	}

	d0, err := chip.RequestLine(d0Line,
		gpiod.WithFallingEdge,
		gpiod.WithEventHandler(handler(0)))
	if err != nil {
		return fmt.Errorf("wiegand: door %d: request D0 line %d: %w", door, d0Line, err)
	}
	d1, err := chip.RequestLine(d1Line,
		gpiod.WithFallingEdge,
		gpiod.WithEventHandler(handler(1)))
	if err != nil {
		d0.Close()
		return fmt.Errorf("wiegand: door %d: request D1 line %d: %w", door, d1Line, err)
	}

	// Lines are held open for the life of the process; doors are
	// configured once at boot per spec.md §3 "Lifecycle".
	_ = d0
	_ = d1
	return nil
}

// InjectForTest feeds raw bits directly into a door's accumulator,
// bypassing gpiod. Only the tests call it.
func (a *Assembler) InjectForTest(door int, bits []byte, atMs int64) {
	a.mu.Lock()
	acc, ok := a.accs[door]
	if !ok {
		acc = &accumulator{}
		a.accs[door] = acc
	}
	a.mu.Unlock()

	acc.mu.Lock()
	acc.bits = append(acc.bits, bits...)
	acc.lastEdgeMs = atMs
	acc.mu.Unlock()
}

// Poll checks every door's accumulator for a completed frame (silence
// longer than InterBitTimeout since the last edge) and returns the
// completed, classified frames found this tick. It is meant to be called
// once per core loop tick.
func (a *Assembler) Poll() []Frame {
	now := a.nowMs()
	a.mu.Lock()
	doors := make([]int, 0, len(a.accs))
	for d := range a.accs {
		doors = append(doors, d)
	}
	a.mu.Unlock()

	var out []Frame
	for _, door := range doors {
		a.mu.Lock()
		acc := a.accs[door]
		a.mu.Unlock()

		acc.mu.Lock()
		if len(acc.bits) == 0 || now-acc.lastEdgeMs <= InterBitTimeout.Milliseconds() {
			acc.mu.Unlock()
			continue
		}
		bits := acc.bits
		acc.bits = nil
		acc.mu.Unlock()

		out = append(out, Classify(door, bits))
	}
	return out
}

// Classify turns a raw bit slice into a classified Frame per spec.md §4.1.
// Poll calls it for every completed frame; it is exported so tests can
// classify bits directly without going through Poll.
func Classify(door int, bits []byte) Frame {
	f := Frame{Door: door, BitCount: len(bits), Bits: bits}

	switch len(bits) {
	case 26:
		// facility = bits[24:17] (8 bits), card = bits[16:1] (16 bits);
		// parity bits [25] and [0] are not validated, by design.
		f.Kind = KindCard
		f.Facility = bitsToInt(bits[1:9])
		f.Card = bitsToInt(bits[9:25])
	case 4, 8:
		f.Kind = KindKeypad
		key := bitsToInt(bits[len(bits)-4:])
		f.Key = keyCodeToChar(key)
	default:
		f.Kind = KindUnknown
	}
	return f
}

func bitsToInt(bits []byte) int {
	v := 0
	for _, b := range bits {
		v = (v << 1) | int(b&1)
	}
	return v
}

// keyCodeToChar maps a 4-bit keypad code to its character, or 0 if invalid.
// 0-9 map to digits, 10 is '*', 11 is '#'; anything else is invalid.
func keyCodeToChar(code int) byte {
	switch {
	case code >= 0 && code <= 9:
		return byte('0' + code)
	case code == 10:
		return '*'
	case code == 11:
		return '#'
	default:
		return 0
	}
}
