package subcar

// AtReset reports whether d is in its reset step
func AtReset(d Decoder) bool {
	return d.(inspector).atReset()
}

// Collected returns d's accumulator and raw half-symbol count
func Collected(d Decoder) (Accumulator, int) {
	return d.(inspector).collected()
}
