// Package can decodes Controller Area Network (CAN) 2.0 A/B [1] bus traffic
// from logic-analyzer captures.
//
// The decoder consumes a transition stream, the times at which the digital
// level of the bus changed, and produces one record per validated frame
// together with field annotations, raw bit samples and a table of protocol
// errors. Decoding is offline and forensic: the whole capture is always
// processed, protocol errors are recorded rather than fatal, and the decoder
// resynchronizes on the next candidate start-of-frame edge after each error.
//
// [1]: http://esd.cs.ucr.edu/webres/can20.pdf
package can

import (
	"fmt"
)

// DefaultRate is the nominal CAN bit rate in bits per second assumed when no
// rate is configured.
const DefaultRate = 500000

// MaxLabelLen is the maximum length of a field annotation label. Longer
// labels are truncated at emission time.
const MaxLabelLen = 12

// maxFrameBits is the length of the sampling window projected at each
// candidate frame start; an upper bound on an extended data frame including
// bit stuffing and the interframe space.
const maxFrameBits = 160

// Diagnostic flags recorded in the level of a raw bit sample.
const (
	// FlagValidStuff marks a stuff bit removed during decoding.
	FlagValidStuff = 1 << 1
	// FlagInvalidStuff marks a sixth consecutive identical bit, which
	// violates the stuffing rule.
	FlagInvalidStuff = 1 << 2
)

// A Frame is a decoded CAN data or remote frame.
type Frame struct {
	// Start and end times of the frame in bit-time units.
	T1, T2 float64
	// Identifier extension; 0 for a standard 11-bit identifier, 1 for an
	// extended 29-bit identifier.
	IDE uint8
	// Remote transmission request; 0 for data frames, 1 for remote frames.
	RTR uint8
	// Frame identifier. Extended identifiers are composed as IDA<<18 | IDB.
	ID uint32
	// Data length code in the range [0, 15]. Only min(DLC, 8) data bytes are
	// meaningful.
	DLC uint8
	// Frame payload. Bytes at indices >= min(DLC, 8) are zero.
	Data [8]byte
}

// A Sample is the raw level of a single sampled bit slot.
type Sample struct {
	// Bit-slot center time in bit-time units.
	T float64
	// Sampled level in the least significant bit, combined with the
	// FlagValidStuff and FlagInvalidStuff diagnostic flags.
	Level uint8
}

// Bit returns the sampled logic level with the diagnostic flags masked off.
func (s Sample) Bit() uint8 {
	return s.Level & 1
}

// An Annotation labels a time span of the capture, typically a single frame
// field. The label of a parse failure is "!".
type Annotation struct {
	// Start and end times of the span in bit-time units.
	T1, T2 float64
	// Label text, at most MaxLabelLen characters.
	Label string
}

// An HLA is a high-level analyzer: a pure function mapping a decoded frame to
// an application-specific interpretation. It reports false when the frame was
// not recognized.
type HLA func(f Frame) (string, bool)

// A Decoder decodes the CAN traffic of a single bus from its transition
// stream. A Decoder is not safe for concurrent use; the result tables may be
// read concurrently once Run has returned.
type Decoder struct {
	// Optional name identifying the bus.
	Name string
	// CAN bit rate in bits per second.
	Rate float64
	// Optional high-level analyzer applied to each decoded frame.
	HLA HLA

	// Initial logic level of the bus, before the first transition.
	x0 uint8
	// Transition times in bit-time units, strictly increasing.
	dt []float64

	// Index into dt of the transition the current sampling window starts at.
	cursor int
	// Running CRC-15 over the protected region of the current frame.
	crc uint16
	// Sampling window of the current candidate frame.
	win window

	// Decoded frames in capture order.
	Frames []Frame
	// Field annotations and parse failure markers in capture order.
	Annotations []Annotation
	// Raw bit samples with stuffing diagnostics.
	Samples []Sample
	// Protocol error timestamps, bucketed by kind.
	Errors map[Kind][]float64

	// High-level analysis of each decoded frame, parallel to Frames.
	HLAAnnotations []Annotation
	// Number of frames the high-level analyzer could not interpret.
	HLAErrors int
	// Number of annotation labels truncated to MaxLabelLen.
	TruncatedLabels int
}

// New returns a decoder for the transition stream given by the transition
// times in seconds and the initial logic level x0. Times are rebased on t0
// and rescaled to bit-time units using the bit rate in bits per second.
func New(times []float64, x0 uint8, t0, rate float64) (*Decoder, error) {
	if x0 != 0 && x0 != 1 {
		return nil, fmt.Errorf("can.New: expected x0 in {0, 1}; got %d", x0)
	}
	d := &Decoder{
		Rate: rate,
		x0:   x0,
		dt:   make([]float64, len(times)),
	}
	for i, t := range times {
		d.dt[i] = rate * (t - t0)
	}
	return d, nil
}

// Run decodes the entire capture. All result tables are rebuilt from scratch,
// so running twice on the same stream produces identical results.
func (d *Decoder) Run() {
	d.Frames = nil
	d.Annotations = nil
	d.Samples = nil
	d.Errors = make(map[Kind][]float64)
	d.HLAAnnotations = nil
	d.HLAErrors = 0
	d.TruncatedLabels = 0

	d.cursor = 0
	err := d.sample()
	for err == nil {
		err = d.decode()
		if cerr, ok := err.(*Error); ok {
			// Record the error at the last sampled bit and resynchronize on
			// the next candidate start-of-frame edge.
			t := d.win.slotTime(d.win.k - 1)
			d.Errors[cerr.Kind] = append(d.Errors[cerr.Kind], t)
			d.annotate(t-0.5, t+0.5, "!")
			err = d.advance()
		}
	}
	// err is errEndOfStream: the cursor moved past the last transition.

	if d.HLA != nil {
		for _, f := range d.Frames {
			interpreted, ok := d.HLA(f)
			if !ok {
				interpreted = "???"
				d.HLAErrors++
			}
			d.HLAAnnotations = append(d.HLAAnnotations, Annotation{T1: f.T1, T2: f.T2, Label: interpreted})
		}
	}
}

// setCursor moves the cursor to the transition at index k. Any move past the
// last transition reports errEndOfStream.
func (d *Decoder) setCursor(k int) error {
	if k >= len(d.dt) {
		return errEndOfStream
	}
	d.cursor = k
	return nil
}

// advance positions the cursor just past the last sampled bit of the current
// window and samples the next candidate frame.
func (d *Decoder) advance() error {
	if err := d.setCursor(d.cursor + d.win.idx[d.win.k-1]); err != nil {
		return err
	}
	return d.sample()
}

// annotate records a label covering the time span [t1, t2], truncating it to
// MaxLabelLen characters.
func (d *Decoder) annotate(t1, t2 float64, label string) {
	if len(label) > MaxLabelLen {
		label = label[:MaxLabelLen]
		d.TruncatedLabels++
	}
	d.Annotations = append(d.Annotations, Annotation{T1: t1, T2: t2, Label: label})
}
