package can

import (
	"bytes"

	"github.com/icza/bitio"
	"github.com/mewkiz/pkg/errutil"
)

// Encode returns the bit sequence of frame as transmitted on the bus: start
// of frame, arbitration and control fields, data, CRC, the stuff bits of the
// protected region, followed by the CRC delimiter, a dominant ACK slot, the
// ACK delimiter, EOF and IFS. Dominant bits are 0, recessive bits are 1.
//
// The T1 and T2 fields of frame are ignored. For a frame with a DLC of at
// most 8, feeding the transitions of the encoded sequence back into a Decoder
// reconstructs the frame exactly. The payload of a remote frame is not
// encoded and decodes as zero, and a data frame with a larger DLC can exceed
// the decoder's sampling window.
func Encode(f Frame) ([]uint8, error) {
	raw, err := frameBits(f)
	if err != nil {
		return nil, errutil.Err(err)
	}
	raw = appendCRC(raw, checksum(raw))
	bits := stuff(raw)
	return appendTrailer(bits, 0), nil
}

// frameBits assembles the unstuffed bit sequence from the start of frame
// through the end of the data field.
func frameBits(f Frame) ([]uint8, error) {
	buf := new(bytes.Buffer)
	bw := bitio.NewWriter(buf)
	nbits := 0
	write := func(value uint64, n byte) error {
		nbits += int(n)
		return bw.WriteBits(value, n)
	}

	// 1 bit: SOF, dominant.
	if err := write(0, 1); err != nil {
		return nil, errutil.Err(err)
	}
	if f.IDE == 0 {
		// 11 bits: identifier.
		if err := write(uint64(f.ID), 11); err != nil {
			return nil, errutil.Err(err)
		}
		// 1 bit: RTR.
		if err := write(uint64(f.RTR), 1); err != nil {
			return nil, errutil.Err(err)
		}
		// 1 bit: IDE, dominant.
		if err := write(0, 1); err != nil {
			return nil, errutil.Err(err)
		}
	} else {
		// 11 bits: identifier A.
		if err := write(uint64(f.ID>>18), 11); err != nil {
			return nil, errutil.Err(err)
		}
		// 1 bit: SSR, recessive.
		if err := write(1, 1); err != nil {
			return nil, errutil.Err(err)
		}
		// 1 bit: IDE, recessive.
		if err := write(1, 1); err != nil {
			return nil, errutil.Err(err)
		}
		// 18 bits: identifier B.
		if err := write(uint64(f.ID&0x3FFFF), 18); err != nil {
			return nil, errutil.Err(err)
		}
		// 1 bit: RTR.
		if err := write(uint64(f.RTR), 1); err != nil {
			return nil, errutil.Err(err)
		}
		// 1 bit: r1.
		if err := write(0, 1); err != nil {
			return nil, errutil.Err(err)
		}
	}
	// 1 bit: r0.
	if err := write(0, 1); err != nil {
		return nil, errutil.Err(err)
	}
	// 4 bits: DLC.
	if err := write(uint64(f.DLC), 4); err != nil {
		return nil, errutil.Err(err)
	}
	if f.RTR == 0 {
		// 8 bits per data byte; a DLC above 8 transmits zero bytes beyond the
		// 8-byte payload.
		for i := 0; i < int(f.DLC); i++ {
			var b byte
			if i < len(f.Data) {
				b = f.Data[i]
			}
			if err := write(uint64(b), 8); err != nil {
				return nil, errutil.Err(err)
			}
		}
	}
	// Flush the partial last byte.
	if err := bw.Close(); err != nil {
		return nil, errutil.Err(err)
	}
	return unpack(buf.Bytes(), nbits), nil
}

// unpack expands the first nbits bits of data, MSB-first, into one byte per
// bit.
func unpack(data []byte, nbits int) []uint8 {
	bits := make([]uint8, nbits)
	for i := range bits {
		bits[i] = data[i/8] >> (7 - i%8) & 1
	}
	return bits
}

// checksum returns the CRC-15 of the given bit sequence.
func checksum(bits []uint8) uint16 {
	var crc uint16
	for _, x := range bits {
		crc <<= 1
		if (crc>>15)^uint16(x) != 0 {
			crc ^= crcPoly
		}
		crc &= crcMask
	}
	return crc
}

// appendCRC appends the 15 CRC bits MSB-first.
func appendCRC(bits []uint8, crc uint16) []uint8 {
	for i := 14; i >= 0; i-- {
		bits = append(bits, uint8(crc>>i&1))
	}
	return bits
}

// stuff inserts a complementary stuff bit after every run of five identical
// bits. Stuff bits themselves open the following run, mirroring removal on
// the receiving side.
func stuff(bits []uint8) []uint8 {
	out := make([]uint8, 0, len(bits)+len(bits)/5)
	last := int8(-1)
	repeats := 0
	for _, b := range bits {
		out = append(out, b)
		if int8(b) == last {
			repeats++
			if repeats == 5 {
				s := 1 - b
				out = append(out, s)
				last = int8(s)
				repeats = 1
			}
		} else {
			last = int8(b)
			repeats = 1
		}
	}
	return out
}

// appendTrailer appends the unstuffed tail of a frame: the CRC delimiter, the
// ACK slot, the ACK delimiter, 7 EOF bits and 3 IFS bits.
func appendTrailer(bits []uint8, ack uint8) []uint8 {
	bits = append(bits, 1, ack, 1)
	return append(bits, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)
}

// Transitions converts a digital bit sequence, one value per nominal bit
// time, into the transition-time form consumed by New. The bus is recessive
// before the first bit; the returned times are in seconds with the first bit
// starting at time zero.
func Transitions(bits []uint8, rate float64) (times []float64, x0 uint8) {
	x0 = 1
	prev := x0
	for i, b := range bits {
		if b != prev {
			times = append(times, float64(i)/rate)
			prev = b
		}
	}
	return times, x0
}
