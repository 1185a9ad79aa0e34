// wav2can decodes CAN traffic from an analog capture stored as a WAV file,
// with the CAN_H trace on the first channel and CAN_L on the second.
package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/mewkiz/raccoon"
	"github.com/mewkiz/raccoon/can"
)

func main() {
	var (
		name       = pflag.StringP("name", "n", "CAN", "Bus name.")
		threshold  = pflag.Float64P("threshold", "t", 180, "Digitization threshold.")
		hysteresis = pflag.Float64P("hysteresis", "y", 50, "Digitization hysteresis.")
		rate       = pflag.Float64P("rate", "r", can.DefaultRate, "CAN bit rate in bits per second.")
	)
	pflag.Parse()
	for _, wavPath := range pflag.Args() {
		if err := wav2can(wavPath, *name, *threshold, *hysteresis, *rate); err != nil {
			log.Fatal("decoding failed", "path", wavPath, "err", err)
		}
	}
}

func wav2can(wavPath, name string, threshold, hysteresis, rate float64) error {
	// Decode WAV samples.
	r, err := os.Open(wavPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer r.Close()
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return errors.Errorf("invalid WAV file %q", wavPath)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return errors.WithStack(err)
	}
	data, period, err := split(buf)
	if err != nil {
		return err
	}

	// Decode CAN traffic on the H/L pair.
	s, err := raccoon.NewSession(data, period, []string{name + "H", name + "L"}, raccoon.Config{
		Threshold:  threshold,
		Hysteresis: hysteresis,
		Rate:       rate,
	})
	if err != nil {
		return err
	}
	d := s.Decoders[name]
	log.Info("decoded bus", "bus", name, "frames", len(d.Frames))
	for kind, times := range d.Errors {
		log.Warn("protocol errors", "bus", name, "kind", string(kind), "count", len(times))
	}
	return s.List(os.Stdout, name, 0, -1)
}

// split de-interleaves a two-channel PCM buffer into per-channel traces and
// returns them with the sampling period in seconds.
func split(buf *audio.IntBuffer) ([][]float32, float64, error) {
	nchannels := buf.Format.NumChannels
	if nchannels != 2 {
		return nil, 0, errors.Errorf("expected 2 channels (CAN_H, CAN_L); got %d", nchannels)
	}
	nsamples := len(buf.Data) / nchannels
	data := make([][]float32, nchannels)
	for ch := range data {
		data[ch] = make([]float32, nsamples)
	}
	for i, sample := range buf.Data {
		data[i%nchannels][i/nchannels] = float32(sample)
	}
	return data, 1 / float64(buf.Format.SampleRate), nil
}
