package can

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeBits runs a decoder over the transition stream of the given bit
// sequence.
func decodeBits(t *testing.T, bits []uint8) *Decoder {
	t.Helper()
	times, x0 := Transitions(bits, DefaultRate)
	d, err := New(times, x0, 0, DefaultRate)
	require.NoError(t, err)
	d.Run()
	return d
}

// encodeFrame encodes frame and fails the test on error.
func encodeFrame(t *testing.T, f Frame) []uint8 {
	t.Helper()
	bits, err := Encode(f)
	require.NoError(t, err)
	return bits
}

func TestDecodeStandardDataFrame(t *testing.T) {
	want := Frame{ID: 0x123, DLC: 1, Data: [8]byte{0xA5}}
	d := decodeBits(t, encodeFrame(t, want))

	require.Len(t, d.Frames, 1)
	assert.Empty(t, d.Errors)
	got := d.Frames[0]
	assert.Equal(t, uint8(0), got.IDE)
	assert.Equal(t, uint8(0), got.RTR)
	assert.Equal(t, uint32(0x123), got.ID)
	assert.Equal(t, uint8(1), got.DLC)
	assert.Equal(t, [8]byte{0xA5}, got.Data)
}

func TestDecodeExtendedRemoteFrame(t *testing.T) {
	want := Frame{IDE: 1, RTR: 1, ID: 0x1ABCDEF, DLC: 3}
	d := decodeBits(t, encodeFrame(t, want))

	require.Len(t, d.Frames, 1)
	assert.Empty(t, d.Errors)
	got := d.Frames[0]
	assert.Equal(t, uint8(1), got.IDE)
	assert.Equal(t, uint8(1), got.RTR)
	assert.Equal(t, uint32(0x1ABCDEF), got.ID)
	assert.Equal(t, uint8(3), got.DLC)
	assert.Equal(t, [8]byte{}, got.Data)
}

func TestDecodeStuffBits(t *testing.T) {
	// An all-zero identifier forces a long dominant run after SOF, so the
	// encoded stream must carry stuff bits.
	d := decodeBits(t, encodeFrame(t, Frame{ID: 0x000, DLC: 0}))

	require.Len(t, d.Frames, 1)
	assert.Empty(t, d.Errors)
	valid := 0
	for _, s := range d.Samples {
		assert.Zero(t, s.Level&FlagInvalidStuff)
		if s.Level&FlagValidStuff != 0 {
			valid++
		}
	}
	assert.Greater(t, valid, 0, "expected at least one valid stuff bit sample")
}

func TestDecodeStuffOnLastDataBit(t *testing.T) {
	// 0x1F ends the data field with a run of five recessive bits, placing a
	// stuff bit between the data and CRC fields.
	want := Frame{ID: 0x123, DLC: 1, Data: [8]byte{0x1F}}
	d := decodeBits(t, encodeFrame(t, want))

	require.Len(t, d.Frames, 1)
	assert.Empty(t, d.Errors)
	assert.Equal(t, [8]byte{0x1F}, d.Frames[0].Data)
}

func TestDecodeCRCCorruption(t *testing.T) {
	raw, err := frameBits(Frame{ID: 0x123, DLC: 1, Data: [8]byte{0xA5}})
	require.NoError(t, err)
	// Flip the last CRC bit.
	bits := appendTrailer(stuff(appendCRC(raw, checksum(raw)^1)), 0)
	d := decodeBits(t, bits)

	assert.Empty(t, d.Frames)
	require.Len(t, d.Errors[KindCRC], 1)

	// The failure marker sits inside the CRC field: after the data field but
	// before the end of the stuffed stream.
	tCRC := d.Errors[KindCRC][0]
	var marked bool
	for _, a := range d.Annotations {
		if a.Label == "!" && a.T1 < tCRC && tCRC < a.T2 {
			marked = true
		}
	}
	assert.True(t, marked, "expected a %q annotation at the CRC error", "!")

	// Resynchronization lands on the dominant ACK slot and trips over the
	// recessive tail, which reads as an error frame.
	assert.Len(t, d.Errors[KindStuff], 1)
}

func TestDecodeMissingACK(t *testing.T) {
	raw, err := frameBits(Frame{ID: 0x123, DLC: 1, Data: [8]byte{0xA5}})
	require.NoError(t, err)
	bits := appendTrailer(stuff(appendCRC(raw, checksum(raw))), 1)
	d := decodeBits(t, bits)

	assert.Empty(t, d.Frames)
	require.Len(t, d.Errors, 1)
	assert.Len(t, d.Errors[KindACK], 1)
}

func TestDecodeRecovery(t *testing.T) {
	clean := Frame{ID: 0x123, DLC: 1, Data: [8]byte{0xA5}}
	raw, err := frameBits(clean)
	require.NoError(t, err)
	corrupted := appendTrailer(stuff(appendCRC(raw, checksum(raw)^1)), 0)

	bits := append([]uint8{}, corrupted...)
	bits = append(bits, encodeFrame(t, clean)...)
	d := decodeBits(t, bits)

	require.Len(t, d.Frames, 1)
	assert.Equal(t, uint32(0x123), d.Frames[0].ID)
	require.Len(t, d.Errors[KindCRC], 1)
	assert.Less(t, d.Errors[KindCRC][0], d.Frames[0].T1)
}

func TestDecodeBackToBackFrames(t *testing.T) {
	f1 := Frame{ID: 0x123, DLC: 1, Data: [8]byte{0xA5}}
	f2 := Frame{ID: 0x456, DLC: 2, Data: [8]byte{0xDE, 0xAD}}
	bits := append(encodeFrame(t, f1), encodeFrame(t, f2)...)
	d := decodeBits(t, bits)

	require.Len(t, d.Frames, 2)
	assert.Empty(t, d.Errors)
	assert.Equal(t, uint32(0x123), d.Frames[0].ID)
	assert.Equal(t, uint32(0x456), d.Frames[1].ID)
}

func TestDecodeEmptyStream(t *testing.T) {
	d, err := New(nil, 1, 0, DefaultRate)
	require.NoError(t, err)
	d.Run()
	assert.Empty(t, d.Frames)
	assert.Empty(t, d.Errors)
	assert.Empty(t, d.Samples)
}

func TestDecodeTruncatedFrame(t *testing.T) {
	// A lone SOF edge: the bus goes dominant and the capture ends. The
	// decoder reads an unbounded dominant run, which fails as an error frame.
	d := decodeBits(t, []uint8{0})
	assert.Empty(t, d.Frames)
	require.Len(t, d.Errors, 1)
	assert.Len(t, d.Errors[KindStuff], 1)
}

func TestDecodeInvalidX0(t *testing.T) {
	_, err := New(nil, 2, 0, DefaultRate)
	assert.Error(t, err)
}

func TestDecodeGlitchSuppression(t *testing.T) {
	f := Frame{ID: 0x123, DLC: 1, Data: [8]byte{0xA5}}
	times, x0 := Transitions(encodeFrame(t, f), DefaultRate)
	// Insert a paired glitch well before the frame, narrower than the 0.1
	// bit-time suppression window.
	glitch := []float64{times[0] - 20.0 / DefaultRate, times[0] - 19.98 / DefaultRate}
	times = append(glitch, times...)

	d, err := New(times, x0, 0, DefaultRate)
	require.NoError(t, err)
	d.Run()
	require.Len(t, d.Frames, 1)
	assert.Empty(t, d.Errors)
	assert.Equal(t, uint32(0x123), d.Frames[0].ID)
}

// TestRunInvariants exercises the cross-frame guarantees on a capture mixing
// clean and corrupted frames.
func TestRunInvariants(t *testing.T) {
	var bits []uint8
	frames := []Frame{
		{ID: 0x123, DLC: 1, Data: [8]byte{0xA5}},
		{IDE: 1, ID: 0x1ABCDEF, DLC: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{ID: 0x7FF, RTR: 1, DLC: 4},
	}
	for i, f := range frames {
		if i == 1 {
			// Corrupt the CRC of the middle frame.
			raw, err := frameBits(f)
			require.NoError(t, err)
			bits = append(bits, appendTrailer(stuff(appendCRC(raw, checksum(raw)^0x55)), 0)...)
			continue
		}
		bits = append(bits, encodeFrame(t, f)...)
	}
	d := decodeBits(t, bits)

	require.Len(t, d.Frames, 2)
	for i, f := range d.Frames {
		assert.Greater(t, f.T2, f.T1)
		assert.LessOrEqual(t, f.T2, f.T1+160)
		if f.IDE == 0 {
			assert.Less(t, f.ID, uint32(1)<<11)
		} else {
			assert.Less(t, f.ID, uint32(1)<<29)
		}
		for k := int(f.DLC); k < len(f.Data); k++ {
			assert.Zero(t, f.Data[k])
		}
		if i > 0 {
			assert.GreaterOrEqual(t, f.T1, d.Frames[i-1].T2)
		}
	}

	// Every error bucket entry pairs with a "!" marker.
	nerrors := 0
	for _, times := range d.Errors {
		nerrors += len(times)
	}
	nmarks := 0
	for _, a := range d.Annotations {
		if a.Label == "!" {
			nmarks++
		}
	}
	assert.Equal(t, nerrors, nmarks)

	// Annotation labels stay within bounds.
	for _, a := range d.Annotations {
		assert.LessOrEqual(t, len(a.Label), MaxLabelLen)
	}
	assert.Zero(t, d.TruncatedLabels)
}

func TestRunIdempotence(t *testing.T) {
	bits := append(encodeFrame(t, Frame{ID: 0x123, DLC: 1, Data: [8]byte{0xA5}}),
		encodeFrame(t, Frame{IDE: 1, ID: 0x1ABCDEF, DLC: 2, Data: [8]byte{0xBE, 0xEF}})...)
	times, x0 := Transitions(bits, DefaultRate)
	d, err := New(times, x0, 0, DefaultRate)
	require.NoError(t, err)

	d.Run()
	frames, annotations, samples := d.Frames, d.Annotations, d.Samples
	errs := d.Errors
	d.Run()
	assert.Equal(t, frames, d.Frames)
	assert.Equal(t, annotations, d.Annotations)
	assert.Equal(t, samples, d.Samples)
	assert.Equal(t, errs, d.Errors)
}

func TestHLA(t *testing.T) {
	bits := append(encodeFrame(t, Frame{ID: 0x123, DLC: 1, Data: [8]byte{0xA5}}),
		encodeFrame(t, Frame{ID: 0x456, DLC: 0})...)
	times, x0 := Transitions(bits, DefaultRate)
	d, err := New(times, x0, 0, DefaultRate)
	require.NoError(t, err)
	d.HLA = func(f Frame) (string, bool) {
		if f.ID == 0x123 {
			return "known", true
		}
		return "", false
	}
	d.Run()

	require.Len(t, d.Frames, 2)
	require.Len(t, d.HLAAnnotations, 2)
	assert.Equal(t, "known", d.HLAAnnotations[0].Label)
	assert.Equal(t, "???", d.HLAAnnotations[1].Label)
	assert.Equal(t, 1, d.HLAErrors)
	assert.Equal(t, d.Frames[0].T1, d.HLAAnnotations[0].T1)
	assert.Equal(t, d.Frames[0].T2, d.HLAAnnotations[0].T2)
}

func TestFieldAnnotations(t *testing.T) {
	d := decodeBits(t, encodeFrame(t, Frame{ID: 0x123, DLC: 1, Data: [8]byte{0xA5}}))

	labels := make(map[string]bool)
	for _, a := range d.Annotations {
		labels[a.Label] = true
		assert.Greater(t, a.T2, a.T1)
	}
	for _, want := range []string{"IDA=123", "DLC=1", "DATA0=A5", "EOF", "IFS"} {
		assert.True(t, labels[want], "missing annotation %q", want)
	}
}
