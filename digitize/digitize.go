// Package digitize converts analog waveform samples into digital logic
// levels using a comparison threshold with hysteresis.
package digitize

// latch computes the digital level of every sample. Samples above
// threshold+hysteresis/2 or below threshold-hysteresis/2 are unambiguously
// high or low; samples inside the deadband latch the last unambiguous level
// before them. The level ahead of the first unambiguous sample is
// data[0] >= threshold.
func latch(data []float32, threshold, hysteresis float64) []bool {
	hi := make([]bool, len(data))
	level := float64(data[0]) >= threshold
	for i, v := range data {
		switch f := float64(v); {
		case f > threshold+0.5*hysteresis:
			level = true
		case f < threshold-0.5*hysteresis:
			level = false
		}
		hi[i] = level
	}
	return hi
}

// Transitions digitizes data and returns the indices at which the digital
// level changes, together with the initial level. Index j is reported when
// the level differs between samples j-1 and j, so the returned indices are
// strictly increasing and never fall inside a deadband-only run. Inversion
// flips the initial level, and with it the polarity of every transition.
func Transitions(data []float32, threshold, hysteresis float64, inverted bool) (indices []int, level0 uint8) {
	if len(data) == 0 {
		return nil, 0
	}
	hi := latch(data, threshold, hysteresis)
	for i := 1; i < len(hi); i++ {
		if hi[i] != hi[i-1] {
			indices = append(indices, i)
		}
	}
	if hi[0] != inverted {
		level0 = 1
	}
	return indices, level0
}

// Levels digitizes data and returns the digital level of every sample,
// optionally inverted.
func Levels(data []float32, threshold, hysteresis float64, inverted bool) []uint8 {
	if len(data) == 0 {
		return nil
	}
	hi := latch(data, threshold, hysteresis)
	levels := make([]uint8, len(hi))
	for i, h := range hi {
		if h != inverted {
			levels[i] = 1
		}
	}
	return levels
}
