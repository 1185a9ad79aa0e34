// Package raccoon reconstructs CAN bus traffic from logic-analyzer captures
// of differential CAN_H/CAN_L signal pairs.
//
// A Session takes the analog traces of a capture, pairs the CAN_H and CAN_L
// channels of each bus, digitizes their difference and runs one can.Decoder
// per bus. The heavy lifting lives in the subpackages: digitize turns analog
// samples into transition streams, can decodes and validates the frames, and
// saleae reads the capture files exported by Saleae Logic.
package raccoon

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/mewkiz/raccoon/can"
	"github.com/mewkiz/raccoon/digitize"
)

// Bus activity classification of a single overview chunk.
const (
	// ActivityIdle marks a chunk without bus transitions.
	ActivityIdle int8 = 0
	// ActivityFrames marks a chunk with bus transitions and no errors.
	ActivityFrames int8 = 1
	// ActivityErrors marks a chunk with bus transitions containing at least
	// one protocol error. An error in a chunk without transitions leaves the
	// chunk idle.
	ActivityErrors int8 = -1
)

// A Config carries the decoding parameters of a session. The zero value of
// each field selects its default.
type Config struct {
	// Digitization threshold of the CAN_H - CAN_L difference; defaults to
	// 180.
	Threshold float64
	// Digitization hysteresis deadband size; defaults to 50.
	Hysteresis float64
	// CAN bit rate in bits per second; defaults to can.DefaultRate.
	Rate float64
	// Number of overview chunks the capture is divided into; defaults to
	// 256.
	Chunks int
	// Optional high-level analyzer applied to every bus.
	HLA can.HLA
}

// A Session holds the decoded state of one capture: a decoder per CAN bus
// plus the paired analog traces and a coarse per-chunk activity overview.
type Session struct {
	// Channel names as captured, one per analog trace.
	Names []string
	// Bus names in capture order, derived from the CAN_H channel order.
	BusNames []string
	// Sampling period of the analog traces in seconds.
	Period float64
	// One decoder per bus, keyed by bus name; Run has completed on each.
	Decoders map[string]*can.Decoder
	// Paired analog traces per bus, parallel to BusNames.
	CanH, CanL [][]float32
	// Per-bus, per-chunk activity classification.
	Activity [][]int8

	chunks int
}

// NewSession digitizes and decodes a capture. The data traces are named by
// names in order; a bus is formed by each <name>H/<name>L channel pair, and
// the CAN_H - CAN_L difference is digitized with inverted polarity so that a
// large differential reads as the dominant level. Duplicate and unpaired
// channel names are errors.
func NewSession(data [][]float32, period float64, names []string, cfg Config) (*Session, error) {
	if cfg.Threshold == 0 {
		cfg.Threshold = 180
	}
	if cfg.Hysteresis == 0 {
		cfg.Hysteresis = 50
	}
	if cfg.Rate == 0 {
		cfg.Rate = can.DefaultRate
	}
	if cfg.Chunks == 0 {
		cfg.Chunks = 256
	}
	if len(names) != len(data) {
		return nil, errors.Errorf("raccoon.NewSession: have %d channel names for %d traces", len(names), len(data))
	}
	seen := make(map[string]bool)
	var dups []string
	for _, name := range names {
		if seen[name] {
			dups = append(dups, name)
		}
		seen[name] = true
	}
	if len(dups) > 0 {
		return nil, errors.Errorf("raccoon.NewSession: found duplicate names: %s", strings.Join(dups, ","))
	}

	// Identify and pair up CAN H/L signals. The input order of the H signals
	// defines the bus ordering.
	index := make(map[string]int)
	for i, name := range names {
		index[name] = i
	}
	var busNames []string
	for _, name := range names {
		if strings.HasSuffix(name, "H") {
			busNames = append(busNames, strings.TrimSuffix(name, "H"))
		}
	}
	var unmatched []string
	for _, bus := range busNames {
		if _, ok := index[bus+"L"]; !ok {
			unmatched = append(unmatched, bus)
		}
	}
	for _, name := range names {
		if strings.HasSuffix(name, "L") {
			if _, ok := index[strings.TrimSuffix(name, "L")+"H"]; !ok {
				unmatched = append(unmatched, strings.TrimSuffix(name, "L"))
			}
		}
	}
	if len(unmatched) > 0 {
		return nil, errors.Errorf("raccoon.NewSession: found unmatched CAN names: %s", strings.Join(unmatched, ","))
	}

	s := &Session{
		Names:    names,
		BusNames: busNames,
		Period:   period,
		Decoders: make(map[string]*can.Decoder),
		chunks:   cfg.Chunks,
	}
	for _, bus := range busNames {
		h := data[index[bus+"H"]]
		l := data[index[bus+"L"]]
		s.CanH = append(s.CanH, h)
		s.CanL = append(s.CanL, l)

		diff := make([]float32, len(h))
		for i := range diff {
			diff[i] = h[i] - l[i]
		}
		transitions, x0 := digitize.Transitions(diff, cfg.Threshold, cfg.Hysteresis, true)
		times := make([]float64, len(transitions))
		for i, idx := range transitions {
			times[i] = float64(idx) * period
		}
		d, err := can.New(times, x0, 0, cfg.Rate)
		if err != nil {
			return nil, errors.Wrapf(err, "raccoon.NewSession: bus %s", bus)
		}
		d.Name = bus
		d.HLA = cfg.HLA
		d.Run()
		s.Decoders[bus] = d
		s.Activity = append(s.Activity, s.activity(d, times, len(h)))
	}
	return s, nil
}

// activity classifies each overview chunk of a bus as idle, carrying frames
// or containing errors.
func (s *Session) activity(d *can.Decoder, transitions []float64, nsamples int) []int8 {
	chunks := make([]int8, s.chunks)
	width := float64(nsamples) * s.Period / float64(s.chunks)
	// The chunk edges are shifted back half a sampling period so that a
	// transition at sample index i falls into the chunk covering it.
	bin := func(t float64) int {
		return int((t + 0.5*s.Period) / width)
	}
	for _, t := range transitions {
		if k := bin(t); k >= 0 && k < len(chunks) {
			chunks[k] = ActivityFrames
		}
	}
	for _, times := range d.Errors {
		for _, t := range times {
			if k := bin(t / d.Rate); k >= 0 && k < len(chunks) && chunks[k] != ActivityIdle {
				chunks[k] = ActivityErrors
			}
		}
	}
	return chunks
}
