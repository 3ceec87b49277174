// Package timeconv converts between musical ticks and seconds at a fixed
// 960 PPQ resolution.
package timeconv

// PPQ is the number of ticks per quarter note.
const PPQ = 960

// DefaultTempoBPM replaces out-of-range tempo values. Tempo often comes from
// untrusted score metadata, so bad values are corrected rather than rejected.
const DefaultTempoBPM = 120

// ClampTempo returns tempoBPM if it lies in (0, 400], else DefaultTempoBPM.
func ClampTempo(tempoBPM float64) float64 {
	if tempoBPM > 0 && tempoBPM <= 400 {
		return tempoBPM
	}
	// Also catches NaN, which fails both comparisons.
	return DefaultTempoBPM
}

// TicksToSeconds converts a tick count to seconds at the given tempo.
func TicksToSeconds(ticks float64, tempoBPM float64) float64 {
	tempoBPM = ClampTempo(tempoBPM)
	return ticks / ((tempoBPM / 60.0) * PPQ)
}

// SecondsToTicks is the algebraic inverse of TicksToSeconds.
func SecondsToTicks(seconds float64, tempoBPM float64) float64 {
	tempoBPM = ClampTempo(tempoBPM)
	return seconds * (tempoBPM / 60.0) * PPQ
}
