package can

// maxGlitch is the glitch suppression window in bit-time units. Pairs of
// transitions closer than this during bus idle are discarded as noise.
const maxGlitch = 0.1

// A window holds the sampling state of one candidate frame: the projected
// bit-slot times, levels and transition counts, plus the bit-stuffing
// tracking consumed by the parser.
type window struct {
	// Center time of the first bit slot in bit-time units.
	t0 float64
	// Per-slot count of transitions at or before the slot center, counted
	// from the cursor.
	idx []int
	// Per-slot sampled logic level.
	level []uint8
	// Index of the next unread slot.
	k int
	// Level of the previous raw bit, or -1 before the first bit.
	last int8
	// Number of consecutive identical raw bits, stuff bits included.
	repeats int
	// Number of slots in the window.
	nbits int
}

// slotTime returns the center time of bit slot i.
func (w *window) slotTime(i int) float64 {
	return w.t0 + float64(i)
}

// sample projects a window of maxFrameBits bit slots starting at the next
// candidate start-of-frame edge.
//
// The cursor must point at a recessive-to-dominant transition; if the bus is
// currently dominant the cursor first advances one transition. Paired
// spurious edges closer than maxGlitch during bus idle are skipped. For each
// bit slot the window records its center time, the number of transitions at
// or before it, and the resulting level.
func (d *Decoder) sample() error {
	if d.cursor >= len(d.dt) {
		return errEndOfStream
	}
	currentLevel := (int(d.x0) + d.cursor) % 2
	if currentLevel == 0 {
		// Advance to the next bus-idle state.
		if err := d.setCursor(d.cursor + 1); err != nil {
			return err
		}
	}
	// Skip over any glitches during the bus idle state.
	for d.cursor < len(d.dt)-2 && d.dt[d.cursor+1]-d.dt[d.cursor] < maxGlitch {
		d.cursor += 2
	}

	w := &d.win
	w.t0 = d.dt[d.cursor] + 0.5
	w.idx = w.idx[:0]
	w.level = w.level[:0]
	j := d.cursor
	for i := 0; i < maxFrameBits; i++ {
		tc := w.slotTime(i)
		for j < len(d.dt) && d.dt[j] <= tc {
			j++
		}
		w.idx = append(w.idx, j-d.cursor)
		w.level = append(w.level, uint8((int(d.x0)+j)%2))
	}
	w.k = 0
	w.last = -1
	w.repeats = 0
	w.nbits = maxFrameBits
	return nil
}
