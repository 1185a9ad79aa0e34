package raccoon

import (
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// timestampFormat matches frame-relative timestamp specifications of the
// form <PRE>[<NAME>:<INDEX>] or [<NAME>:<INDEX>]<POST>.
var timestampFormat = regexp.MustCompile(`^([+-]\d+)?\[(?:(\w+):)?(-?\d+)\]([+-]\d+)?$`)

// Timestamp decodes a timestamp specification into a time in seconds.
//
// The value is either a number, taken as milliseconds, or a frame-relative
// specification:
//
//	<PRE>[<NAME>:<INDEX>]   or   [<NAME>:<INDEX>]<POST>
//
// where NAME selects the bus (defaultName when omitted), INDEX is the frame
// index on that bus (negative counts from the end), and PRE and POST are
// explicitly signed offsets in nominal bit times relative to the start or
// end of the frame. For example, -2[CAN10:2] is 2 bit times before the start
// bit of frame 2 on bus CAN10, and [-1]+5 is 5 bit times after the
// interframe space of the last frame on the default bus. Exactly one of PRE
// and POST must be present.
func (s *Session) Timestamp(encoded, defaultName string) (float64, error) {
	if v, err := strconv.ParseFloat(encoded, 64); err == nil {
		// Convert from ms to s.
		return 1e-3 * v, nil
	}
	m := timestampFormat.FindStringSubmatch(encoded)
	if m == nil {
		return 0, errors.Errorf("raccoon.Timestamp: unable to parse timestamp %q", encoded)
	}
	pre, name, index, post := m[1], m[2], m[3], m[4]
	if pre != "" && post != "" {
		return 0, errors.Errorf("raccoon.Timestamp: cannot specify pre and post offsets in timestamp %q", encoded)
	}
	if pre == "" && post == "" {
		return 0, errors.Errorf("raccoon.Timestamp: must specify either a pre or post offset in timestamp %q", encoded)
	}
	if name == "" {
		name = defaultName
	}
	d, ok := s.Decoders[name]
	if !ok {
		return 0, errors.Errorf("raccoon.Timestamp: invalid bus name %q", name)
	}
	k, err := strconv.Atoi(index)
	if err != nil {
		return 0, errors.Errorf("raccoon.Timestamp: invalid frame index %q", index)
	}
	if k < 0 {
		k += len(d.Frames)
	}
	if k < 0 || k >= len(d.Frames) {
		return 0, errors.Errorf("raccoon.Timestamp: frame index %s out of range for %d frames", index, len(d.Frames))
	}
	f := d.Frames[k]
	if pre != "" {
		off, _ := strconv.Atoi(pre)
		return (f.T1 + float64(off)) / d.Rate, nil
	}
	off, _ := strconv.Atoi(post)
	return (f.T2 + float64(off)) / d.Rate, nil
}
