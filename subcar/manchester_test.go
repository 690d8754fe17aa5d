package subcar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManchesterAdvanceTable(t *testing.T) {
	var cases = []struct {
		from   ManchesterState
		ev     ManchesterEvent
		to     ManchesterState
		bit    bool
		hasBit bool
	}{
		{ManchesterMid, ManchesterShortHigh, ManchesterStart1, false, false},
		{ManchesterMid, ManchesterShortLow, ManchesterStart0, false, false},
		{ManchesterMid, ManchesterLongHigh, ManchesterMid, false, false},
		{ManchesterMid, ManchesterLongLow, ManchesterMid, false, false},
		{ManchesterStart1, ManchesterShortLow, ManchesterMid, true, true},
		{ManchesterStart1, ManchesterLongLow, ManchesterStart0, true, true},
		{ManchesterStart1, ManchesterShortHigh, ManchesterMid, false, false},
		{ManchesterStart1, ManchesterLongHigh, ManchesterMid, false, false},
		{ManchesterStart0, ManchesterShortHigh, ManchesterMid, false, true},
		{ManchesterStart0, ManchesterLongHigh, ManchesterStart1, false, true},
		{ManchesterStart0, ManchesterShortLow, ManchesterMid, false, false},
		{ManchesterStart0, ManchesterLongLow, ManchesterMid, false, false},
	}

	for _, c := range cases {
		var to, bit, hasBit = ManchesterAdvance(c.from, c.ev)
		assert.Equal(t, c.to, to, "%v + %d", c.from, c.ev)
		assert.Equal(t, c.hasBit, hasBit, "%v + %d", c.from, c.ev)
		if c.hasBit {
			assert.Equal(t, c.bit, bit, "%v + %d", c.from, c.ev)
		}
	}
}

func TestManchesterResetFromAnyState(t *testing.T) {
	for _, s := range []ManchesterState{ManchesterMid, ManchesterStart0, ManchesterStart1} {
		var to, _, hasBit = ManchesterAdvance(s, ManchesterReset)
		assert.Equal(t, ManchesterMid, to)
		assert.False(t, hasBit)
	}
}

func TestManchesterDecodesHalfSymbols(t *testing.T) {
	// 1 0 0 1 1: H L | L H | L H | H L | H L
	// merged:    H, LL, H, L, HH, L, H, L
	var events = []ManchesterEvent{
		ManchesterShortHigh, ManchesterLongLow, ManchesterShortHigh, ManchesterShortLow,
		ManchesterLongHigh, ManchesterShortLow, ManchesterShortHigh, ManchesterShortLow,
	}

	var state = ManchesterMid
	var got []bool
	for _, ev := range events {
		var bit, hasBit bool
		state, bit, hasBit = ManchesterAdvance(state, ev)
		if hasBit {
			got = append(got, bit)
		}
	}

	assert.Equal(t, []bool{true, false, false, true, true}, got)
	assert.Equal(t, ManchesterMid, state)
}
