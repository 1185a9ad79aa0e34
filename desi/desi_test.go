package desi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mewkiz/raccoon/can"
	"github.com/mewkiz/raccoon/desi"
)

func TestInterpretCommand(t *testing.T) {
	tests := []struct {
		name  string
		frame can.Frame
		want  string
	}{
		{
			name:  "command to positioner",
			frame: can.Frame{ID: 1234<<8 | 4},
			want:  "set_up_move=>1234",
		},
		{
			name:  "broadcast",
			frame: can.Frame{ID: 20000<<8 | 5},
			want:  "set_reset_leds=>ALL",
		},
		{
			name:  "broadcast positioners",
			frame: can.Frame{ID: 20001<<8 | 2},
			want:  "set_currents=>ALLPOS",
		},
		{
			name:  "broadcast fiducials",
			frame: can.Frame{ID: 20002<<8 | 16},
			want:  "set_duty_fid=>ALLFID",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := desi.New().Interpret(tt.frame)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterpretUnknownCommand(t *testing.T) {
	_, ok := desi.New().Interpret(can.Frame{ID: 1234<<8 | 99})
	assert.False(t, ok)
}

func TestInterpretResponse(t *testing.T) {
	a := desi.New()

	// A plain response names the responding positioner.
	got, ok := a.Interpret(can.Frame{ID: 0x10000000 | 1234})
	assert.True(t, ok)
	assert.Equal(t, "<=1234", got)

	// After a get_temperature command, responses carry a 16-bit temperature
	// in the first two data bytes, little-endian.
	got, ok = a.Interpret(can.Frame{ID: 1234<<8 | 9})
	assert.True(t, ok)
	assert.Equal(t, "get_temperature=>1234", got)

	got, ok = a.Interpret(can.Frame{
		ID:   0x10000000 | 1234,
		DLC:  2,
		Data: [8]byte{0x34, 0x12},
	})
	assert.True(t, ok)
	assert.Equal(t, "1234 T=1234", got)
}
