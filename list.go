package raccoon

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// List writes a text listing of the frames decoded on the named bus to w,
// covering the frame indices [first, last). A negative last lists through
// the end. Times are printed in milliseconds; remote frames print their DLC
// in place of data bytes. When a high-level analyzer is configured, its
// interpretation is added as a final column.
func (s *Session) List(w io.Writer, name string, first, last int) error {
	d, ok := s.Decoders[name]
	if !ok {
		return errors.Errorf("raccoon.List: invalid bus name %q", name)
	}
	if last < 0 || last > len(d.Frames) {
		last = len(d.Frames)
	}
	hdr := "  N     tstart      tstop    ID    DATA"
	if d.HLA != nil {
		hdr += strings.Repeat(" ", 20) + "HLA"
	}
	fmt.Fprintln(w, hdr)
	for k := first; k < last; k++ {
		f := d.Frames[k]
		var data string
		if f.RTR != 0 {
			data = fmt.Sprintf("REMOTE DLC=%d", f.DLC)
		} else {
			n := int(f.DLC)
			if n > len(f.Data) {
				n = len(f.Data)
			}
			parts := make([]string, n)
			for i := 0; i < n; i++ {
				parts[i] = fmt.Sprintf("%02X", f.Data[i])
			}
			data = strings.Join(parts, ",")
		}
		line := fmt.Sprintf("%3d %10.3f %10.3f %08X %-23s",
			k, 1e3*f.T1/d.Rate, 1e3*f.T2/d.Rate, f.ID, data)
		if d.HLA != nil {
			line += " " + d.HLAAnnotations[k].Label
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
