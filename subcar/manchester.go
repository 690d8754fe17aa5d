package subcar

// ManchesterState is the position of the Manchester decoder within a symbol
type ManchesterState uint8

const (
	// ManchesterMid sits on a symbol boundary
	ManchesterMid ManchesterState = iota
	// ManchesterStart0 has seen the low first half of a 0
	ManchesterStart0
	// ManchesterStart1 has seen the high first half of a 1
	ManchesterStart1
)

func (s ManchesterState) String() string {
	switch s {
	case ManchesterMid:
		return "Mid"
	case ManchesterStart0:
		return "Start0"
	case ManchesterStart1:
		return "Start1"
	}
	return "Invalid"
}

// ManchesterEvent is a classified half-symbol
type ManchesterEvent uint8

const (
	ManchesterShortLow ManchesterEvent = iota
	ManchesterShortHigh
	ManchesterLongLow
	ManchesterLongHigh
	ManchesterReset
)

// ManchesterAdvance feeds one event into the state machine.
// It yields at most one bit (hasBit) and never fails: inconsistent events
// fall back to the boundary state. A long half completes the current
// symbol and opens the next one.
//
// Coding: 1 is high then low, 0 is low then high.
func ManchesterAdvance(state ManchesterState, ev ManchesterEvent) (next ManchesterState, bit bool, hasBit bool) {
	if ev == ManchesterReset {
		return ManchesterMid, false, false
	}

	switch state {
	case ManchesterMid:
		switch ev {
		case ManchesterShortHigh:
			return ManchesterStart1, false, false
		case ManchesterShortLow:
			return ManchesterStart0, false, false
		}
		return ManchesterMid, false, false

	case ManchesterStart1:
		switch ev {
		case ManchesterShortLow:
			return ManchesterMid, true, true
		case ManchesterLongLow:
			return ManchesterStart0, true, true
		}
		return ManchesterMid, false, false

	case ManchesterStart0:
		switch ev {
		case ManchesterShortHigh:
			return ManchesterMid, false, true
		case ManchesterLongHigh:
			return ManchesterStart1, false, true
		}
		return ManchesterMid, false, false
	}

	return ManchesterMid, false, false
}
