package can

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStuff(t *testing.T) {
	tests := []struct {
		name string
		in   []uint8
		want []uint8
	}{
		{
			name: "no run",
			in:   []uint8{0, 1, 0, 1},
			want: []uint8{0, 1, 0, 1},
		},
		{
			name: "five zeros",
			in:   []uint8{0, 0, 0, 0, 0},
			want: []uint8{0, 0, 0, 0, 0, 1},
		},
		{
			name: "five ones",
			in:   []uint8{1, 1, 1, 1, 1},
			want: []uint8{1, 1, 1, 1, 1, 0},
		},
		{
			// The stuff bit opens the next run: four more zeros after it
			// complete a second run of five.
			name: "stuff bit counted in following run",
			in:   []uint8{1, 1, 1, 1, 1, 0, 0, 0, 0},
			want: []uint8{1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 1},
		},
		{
			name: "ten zeros",
			in:   []uint8{0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
			want: []uint8{0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stuff(tt.in))
		})
	}
}

func TestChecksum(t *testing.T) {
	// The CRC of the empty sequence is the initial value.
	assert.Equal(t, uint16(0), checksum(nil))
	// A single recessive bit folds in the polynomial.
	assert.Equal(t, uint16(0x4599), checksum([]uint8{1}))
	// The checksum stays within its 15-bit mask.
	bits := make([]uint8, 64)
	for i := range bits {
		bits[i] = uint8(i % 2)
	}
	assert.LessOrEqual(t, checksum(bits), uint16(0x7FFF))
}

func TestFrameBits(t *testing.T) {
	// Standard data frame: SOF + 11 id bits + RTR + IDE + r0 + DLC + data.
	bits, err := frameBits(Frame{ID: 0x7FF, DLC: 1, Data: [8]byte{0xFF}})
	require.NoError(t, err)
	require.Len(t, bits, 1+11+1+1+1+4+8)
	assert.Equal(t, uint8(0), bits[0])
	for _, b := range bits[1:12] {
		assert.Equal(t, uint8(1), b)
	}

	// Extended frame layout adds SSR, IDE, 18 id bits, RTR and r1.
	bits, err = frameBits(Frame{IDE: 1, ID: 0x1FFFFFFF, RTR: 1, DLC: 0})
	require.NoError(t, err)
	require.Len(t, bits, 1+11+1+1+18+1+1+1+4)
}

func TestTransitions(t *testing.T) {
	times, x0 := Transitions([]uint8{0, 0, 1, 0, 1, 1}, 1)
	assert.Equal(t, uint8(1), x0)
	assert.Equal(t, []float64{0, 2, 3, 4}, times)

	times, x0 = Transitions(nil, 1)
	assert.Equal(t, uint8(1), x0)
	assert.Empty(t, times)
}
