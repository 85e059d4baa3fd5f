// Package sensor watches a debounced GPIO input pin and reports its
// settled logical state over a channel. It backs the per-door REX
// (request-to-exit) pushbutton inputs named in spec.md §6 — physically
// active-low, so a "pressed" event is reported as state==true once the
// pin has been low for at least the settle duration.
package sensor

import (
	"time"

	"github.com/stianeikeland/go-rpio/v4"
)

// RexSettle is the debounce window applied to REX pushbutton inputs.
const RexSettle = 50 * time.Millisecond

// ListenPin watches pin p for state changes, waiting settle for the new
// state to stabilize before reporting it, and sends only on actual
// transitions (never a duplicate of the last reported state).
func ListenPin(p rpio.Pin, settle time.Duration) <-chan bool {
	ch := make(chan bool)

	go func() {
		lastState := false
		state := false
		stateSent := false

		for {
			lastState = state
			state = p.Read() == rpio.High

			if state != lastState {
				<-time.After(settle)
				continue
			}
			if state != stateSent {
				ch <- state
				stateSent = state
			}
			<-time.After(10 * time.Millisecond)
		}
	}()

	return ch
}

// ListenRex watches a REX pushbutton input, which is wired active-low:
// the pin reads rpio.Low while the button is pressed. ListenRex inverts
// that so a received true means "REX pressed", matching the semantics
// core.State expects when it turns a REX press into a grant.
func ListenRex(p rpio.Pin) <-chan bool {
	p.Input()
	p.PullUp()

	raw := ListenPin(p, RexSettle)
	out := make(chan bool)
	go func() {
		for v := range raw {
			out <- !v
		}
		close(out)
	}()
	return out
}
