// Package command turns wire command strings into motion requests.
package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates motion requests.
type Kind int

const (
	Unknown Kind = iota // acknowledged, never executed
	StepUp
	StepDown
	PanLeft
	PanRight
	GoToSlot
	GoHome
)

var kindNames = [...]string{
	Unknown:  "unknown",
	StepUp:   "step_up",
	StepDown: "step_down",
	PanLeft:  "pan_left",
	PanRight: "pan_right",
	GoToSlot: "goto_slot",
	GoHome:   "go_home",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Request is one decoded motion request. Slot is only meaningful for GoToSlot.
type Request struct {
	Kind Kind
	Slot int
}

func (r Request) String() string {
	if r.Kind == GoToSlot {
		return fmt.Sprintf("%s(%d)", r.Kind, r.Slot)
	}
	return r.Kind.String()
}

// aliases maps the arrow glyphs sent by the dashboard D-pad to direction codes.
var aliases = map[string]string{
	"↑": "u",
	"↓": "d",
	"←": "l",
	"→": "r",
}

var codes = map[string]Kind{
	"u":    StepUp,
	"d":    StepDown,
	"l":    PanLeft,
	"r":    PanRight,
	"home": GoHome,
}

// Parse decodes a command value. Decimal strings become GoToSlot requests
// whatever their value; range checks belong to the planner, and a number too
// large for an int becomes slot -1 so it is rejected there too. Anything not
// recognised yields Unknown.
func Parse(raw string) Request {
	s := strings.TrimSpace(raw)
	if alias, ok := aliases[s]; ok {
		s = alias
	}
	s = strings.ToLower(s)

	if k, ok := codes[s]; ok {
		return Request{Kind: k}
	}
	if isDecimal(s) {
		n, err := strconv.Atoi(s)
		if err != nil {
			n = -1
		}
		return Request{Kind: GoToSlot, Slot: n}
	}
	return Request{Kind: Unknown}
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Moves reports whether executing r can change tracked state.
func (r Request) Moves() bool {
	return r.Kind != Unknown
}
