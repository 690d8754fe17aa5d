package subcar

// TimingProfile holds a protocol's symbol durations in microseconds.
// It is fixed when the decoder is built.
type TimingProfile struct {
	Short uint32 `json:"short_us"`
	Long  uint32 `json:"long_us"`
	Delta uint32 `json:"delta_us"`
}

// durationDiff returns |a-b| without wrapping
func durationDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

// within reports whether d is strictly closer than tol to ref
func within(d, ref, tol uint32) bool {
	return durationDiff(d, ref) < tol
}

// Match reports whether d matches ref under this profile's tolerance
func (t TimingProfile) Match(d, ref uint32) bool {
	return within(d, ref, t.Delta)
}

// IsShort reports whether d matches the short symbol
func (t TimingProfile) IsShort(d uint32) bool {
	return t.Match(d, t.Short)
}

// IsLong reports whether d matches the long symbol
func (t TimingProfile) IsLong(d uint32) bool {
	return t.Match(d, t.Long)
}

// EndGap is the duration above which a pulse ends a frame instead of
// carrying a bit: long + 2*delta
func (t TimingProfile) EndGap() uint32 {
	return t.Long + 2*t.Delta
}

// manchesterEvent classifies a pulse for the Manchester helper.
// ok is false when the duration matches neither symbol.
func (t TimingProfile) manchesterEvent(level bool, d uint32) (ev ManchesterEvent, ok bool) {
	switch {
	case t.IsShort(d):
		if level {
			return ManchesterShortHigh, true
		}
		return ManchesterShortLow, true
	case t.IsLong(d):
		if level {
			return ManchesterLongHigh, true
		}
		return ManchesterLongLow, true
	}
	return ManchesterReset, false
}
