// Package saleae reads analog captures exported by the Saleae Logic
// software.
//
// Two export formats are supported: the single-file binary format written by
// Logic 1.2.0+ [1] and the per-channel binary format written by Logic 2.x
// [2].
//
// [1]: https://support.saleae.com/faq/technical-faq/data-export-format-analog-binary
// [2]: https://support.saleae.com/faq/technical-faq/binary-export-format-logic-2
package saleae

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mewkiz/pkg/errutil"
)

// A Capture holds the analog traces of a logic-analyzer recording.
type Capture struct {
	// Per-channel sample values.
	Data [][]float32
	// Sampling period in seconds.
	Period float64
}

// LoadAnalogV1 reads analog traces stored in the binary format of Logic
// 1.2.0+ from the given file.
func LoadAnalogV1(path string) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errutil.Err(err)
	}
	defer f.Close()
	return ReadAnalogV1(f)
}

// ReadAnalogV1 reads analog traces stored in the binary format of Logic
// 1.2.0+.
//
// File format (pseudo code):
//
//	type ANALOG_V1 struct {
//	   nsamples  uint64  // little-endian.
//	   nchannels uint32  // little-endian.
//	   period    float64 // sampling period in seconds.
//	   samples   [nchannels][nsamples]float32
//	}
func ReadAnalogV1(r io.Reader) (*Capture, error) {
	var hdr struct {
		NSamples  uint64
		NChannels uint32
		Period    float64
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, errutil.Err(err)
	}
	if hdr.NChannels > 16 {
		return nil, fmt.Errorf("saleae.ReadAnalogV1: invalid nchannels=%d; are you sure this is binary analog data from v1.2.0+?", hdr.NChannels)
	}
	if hdr.Period < 1/50e6 || hdr.Period > 1 {
		return nil, fmt.Errorf("saleae.ReadAnalogV1: invalid period=%g; are you sure this is binary analog data from v1.2.0+?", hdr.Period)
	}
	capture := &Capture{
		Data:   make([][]float32, hdr.NChannels),
		Period: hdr.Period,
	}
	for ch := range capture.Data {
		capture.Data[ch] = make([]float32, hdr.NSamples)
		if err := binary.Read(r, binary.LittleEndian, capture.Data[ch]); err != nil {
			return nil, errutil.Err(err)
		}
	}
	return capture, nil
}

// Magic identifier at the beginning of each Logic 2.x binary export file.
const Magic = "<SALEAE>"

// LoadAnalogV2 reads analog traces stored in the per-channel binary format of
// Logic 2.x from the analog_N.bin files of the given directory. All channels
// must share the same sampling rate and length; digital channel exports are
// rejected.
func LoadAnalogV2(dir string) (*Capture, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*_*.bin"))
	if err != nil {
		return nil, errutil.Err(err)
	}
	sort.Strings(paths)
	// Assume only analog channels are present.
	capture := &Capture{
		Data:   make([][]float32, len(paths)),
		Period: -1,
	}
	nsamples := -1
	for _, path := range paths {
		stem := strings.TrimSuffix(filepath.Base(path), ".bin")
		idx := strings.Index(stem, "_")
		if stem[:idx] != "analog" {
			return nil, fmt.Errorf("saleae.LoadAnalogV2: found unexpected file: %q", path)
		}
		ch, err := strconv.Atoi(stem[idx+1:])
		if err != nil {
			return nil, errutil.Err(err)
		}
		if ch < 0 || ch >= len(capture.Data) {
			return nil, fmt.Errorf("saleae.LoadAnalogV2: channel number %d of %q out of range", ch, path)
		}
		data, period, err := readAnalogV2(path)
		if err != nil {
			return nil, err
		}
		switch {
		case capture.Period < 0:
			capture.Period = period
			nsamples = len(data)
		case period != capture.Period:
			return nil, fmt.Errorf("saleae.LoadAnalogV2: channels not saved with consistent sampling rate")
		case len(data) != nsamples:
			return nil, fmt.Errorf("saleae.LoadAnalogV2: channels not saved with same number of samples")
		}
		capture.Data[ch] = data
	}
	return capture, nil
}

// readAnalogV2 reads a single Logic 2.x analog channel file.
//
// File format (pseudo code):
//
//	type ANALOG_V2 struct {
//	   magic      [8]byte // "<SALEAE>".
//	   version    int32   // 0.
//	   datatype   int32   // 1 for analog data.
//	   begin_time float64
//	   rate       int64   // samples per second.
//	   downsample int64
//	   nsamples   int64
//	   samples    [nsamples]float32
//	}
func readAnalogV2(path string) (data []float32, period float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errutil.Err(err)
	}
	defer f.Close()

	var magic [8]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, 0, errutil.Err(err)
	}
	if string(magic[:]) != Magic {
		return nil, 0, fmt.Errorf("saleae.readAnalogV2: file %q has invalid header id %q", path, magic)
	}
	var hdr struct {
		Version    int32
		Datatype   int32
		BeginTime  float64
		SampleRate int64
		Downsample int64
		NSamples   int64
	}
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return nil, 0, errutil.Err(err)
	}
	if hdr.Version != 0 {
		return nil, 0, fmt.Errorf("saleae.readAnalogV2: file %q has invalid version %d", path, hdr.Version)
	}
	if hdr.Datatype != 1 {
		return nil, 0, fmt.Errorf("saleae.readAnalogV2: file %q has invalid datatype %d", path, hdr.Datatype)
	}
	data = make([]float32, hdr.NSamples)
	if err := binary.Read(f, binary.LittleEndian, data); err != nil {
		return nil, 0, errutil.Err(err)
	}
	return data, float64(hdr.Downsample) / float64(hdr.SampleRate), nil
}
