package can

import (
	"fmt"
	"strings"
)

// CRC-15 parameters of the CAN frame check sequence. Not to be confused with
// the common CRC-16 variants.
const (
	crcPoly = 0x4599
	crcMask = 0x7FFF
)

// nextBit returns the next sampled bit and records it in the raw sample
// trace.
//
// With unstuff set, runs of five identical raw bits consume the following
// stuff bit: a complementary stuff bit is recorded with FlagValidStuff and
// removed from the decoded stream, while a sixth identical bit is recorded
// with FlagInvalidStuff and reported as a Stuff error. Unstuffing applies
// from the start of frame through the CRC field; the trailing delimiter, ACK,
// EOF and IFS bits are read with unstuff disabled.
//
// With updateCRC set, the bit is folded into the running CRC-15.
func (d *Decoder) nextBit(unstuff, updateCRC bool) (uint8, error) {
	w := &d.win
	if w.k >= w.nbits {
		// The window bounds an extended frame with full stuffing; running out
		// of it is a sizing bug, not a protocol error.
		panic("can: all sample bits already consumed")
	}
	x := w.level[w.k]
	d.Samples = append(d.Samples, Sample{T: w.slotTime(w.k), Level: x})
	w.k++
	if unstuff && int8(x) == w.last {
		w.repeats++
		if w.repeats == 5 {
			if w.k >= w.nbits {
				panic("can: all sample bits already consumed")
			}
			stuffed := w.level[w.k]
			if int8(stuffed) == w.last {
				d.Samples = append(d.Samples, Sample{T: w.slotTime(w.k), Level: stuffed | FlagInvalidStuff})
				return 0, &Error{
					Kind:   KindStuff,
					Bit:    w.k,
					Detail: fmt.Sprintf("error frame detected; starts at bit %d", w.k),
				}
			}
			d.Samples = append(d.Samples, Sample{T: w.slotTime(w.k), Level: stuffed | FlagValidStuff})
			w.k++
			w.last = int8(stuffed)
			w.repeats = 1
		}
	} else {
		w.last = int8(x)
		w.repeats = 1
	}
	if updateCRC {
		d.crc <<= 1
		if (d.crc>>15)^uint16(x) != 0 {
			d.crc ^= crcPoly
		}
		d.crc &= crcMask
	}
	return x, nil
}

// nextField returns the next nbits bits packed MSB-first into an unsigned
// integer. A non-empty label records a field annotation covering the consumed
// time span; labels containing a format verb are formatted with the field
// value.
func (d *Decoder) nextField(nbits int, label string, unstuff, updateCRC bool) (uint32, error) {
	var value uint32
	start := d.win.k
	for i := 0; i < nbits; i++ {
		x, err := d.nextBit(unstuff, updateCRC)
		if err != nil {
			return 0, err
		}
		value = value<<1 | uint32(x)
	}
	if label != "" {
		if strings.ContainsRune(label, '%') {
			label = fmt.Sprintf(label, value)
		}
		d.annotate(d.win.slotTime(start)-0.5, d.win.slotTime(d.win.k)-0.5, label)
	}
	return value, nil
}

// decode parses one frame starting at the first bit slot of the current
// sampling window and advances to the next candidate frame on success.
//
// Frame format (pseudo code):
//
//	type FRAME struct {
//	   sof    uint1        // dominant.
//	   idA    uint11
//	   rtr    uint1        // SSR in extended frames; must be recessive there.
//	   ide    uint1        // 0: standard, 1: extended.
//	   if ide == 1 {
//	      idB uint18       // ID = idA<<18 | idB.
//	      rtr uint1        // overrides the tentative RTR above.
//	      r1  uint1
//	   }
//	   r0     uint1
//	   dlc    uint4
//	   data   [dlc]uint8   // data frames only; at most 8 bytes stored.
//	   crc    uint15       // CRC-15 over sof through data.
//	   _      uint1        // CRC delimiter, recessive.
//	   ack    uint1        // dominant; a receiver overwrote the slot.
//	   _      uint1        // ACK delimiter, recessive.
//	   eof    uint7        // all recessive.
//	   ifs    uint3        // all recessive.
//	}
func (d *Decoder) decode() error {
	d.crc = 0
	sof, err := d.nextBit(true, true)
	if err != nil {
		return err
	}
	if sof != 0 {
		return &Error{Kind: KindSOF, Bit: d.win.k - 1, Detail: "invalid start of frame (SOF) bit"}
	}
	ident, err := d.nextField(11, "IDA=%03X", true, true)
	if err != nil {
		return err
	}
	rtr, err := d.nextBit(true, true)
	if err != nil {
		return err
	}
	ide, err := d.nextBit(true, true)
	if err != nil {
		return err
	}
	if ide == 1 {
		if rtr == 0 {
			return &Error{Kind: KindSSR, Bit: d.win.k - 1, Detail: "invalid substitute remote request (SSR) bit"}
		}
		// Extended frame format.
		idB, err := d.nextField(18, "IDB=%05X", true, true)
		if err != nil {
			return err
		}
		ident = ident<<18 | idB
		rtr, err = d.nextBit(true, true)
		if err != nil {
			return err
		}
		// r1; either value allowed.
		if _, err := d.nextBit(true, true); err != nil {
			return err
		}
	}
	// r0; either value allowed.
	if _, err := d.nextBit(true, true); err != nil {
		return err
	}
	dlc, err := d.nextField(4, "DLC=%d", true, true)
	if err != nil {
		return err
	}
	var data [8]byte
	if rtr == 0 {
		// A DLC above 8 still transmits DLC data bytes on CAN 2.0 buses, but
		// only the first 8 carry payload.
		for i := 0; i < int(dlc); i++ {
			b, err := d.nextField(8, fmt.Sprintf("DATA%d=%%02X", i), true, true)
			if err != nil {
				return err
			}
			if i < len(data) {
				data[i] = byte(b)
			}
		}
	}
	want := d.crc
	crc, err := d.nextField(15, "CRC=%04X", true, false)
	if err != nil {
		return err
	}
	if uint16(crc) != want {
		return &Error{
			Kind:   KindCRC,
			Bit:    d.win.k - 1,
			Detail: fmt.Sprintf("CRC failed; expected %015b, got %015b", want, crc),
		}
	}
	crcDelim, err := d.nextBit(false, false)
	if err != nil {
		return err
	}
	if crcDelim != 1 {
		return &Error{Kind: KindCRCDelim, Bit: d.win.k - 1, Detail: "invalid CRC delimiter bit"}
	}
	ack, err := d.nextBit(false, false)
	if err != nil {
		return err
	}
	if ack == 1 {
		return &Error{Kind: KindACK, Bit: d.win.k - 1, Detail: "missing ACK from any receiver"}
	}
	ackDelim, err := d.nextBit(false, false)
	if err != nil {
		return err
	}
	if ackDelim != 1 {
		return &Error{Kind: KindACKDelim, Bit: d.win.k - 1, Detail: "invalid ACK delimiter bit"}
	}
	eof, err := d.nextField(7, "EOF", false, false)
	if err != nil {
		return err
	}
	if eof != 0x7F {
		return &Error{Kind: KindEOF, Bit: d.win.k - 1, Detail: "invalid end of frame (EOF)"}
	}
	ifs, err := d.nextField(3, "IFS", false, false)
	if err != nil {
		return err
	}
	if ifs != 0x7 {
		return &Error{Kind: KindIFS, Bit: d.win.k - 1, Detail: "invalid interframe space (IFS)"}
	}

	d.Frames = append(d.Frames, Frame{
		T1:   d.win.slotTime(0) - 0.5,
		T2:   d.win.slotTime(d.win.k-1) + 0.5,
		IDE:  ide,
		RTR:  rtr,
		ID:   ident,
		DLC:  uint8(dlc),
		Data: data,
	})
	return d.advance()
}
