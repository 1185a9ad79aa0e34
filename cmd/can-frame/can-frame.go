// can-frame decodes the CAN traffic of Saleae analog captures and lists the
// frames of every bus.
package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/mewkiz/raccoon"
	"github.com/mewkiz/raccoon/desi"
	"github.com/mewkiz/raccoon/saleae"
)

// A captureConfig describes a capture: the channel names in trace order and
// the decoding parameters.
type captureConfig struct {
	Names      []string `yaml:"names"`
	Threshold  float64  `yaml:"threshold"`
	Hysteresis float64  `yaml:"hysteresis"`
	Rate       float64  `yaml:"rate"`
	HLA        string   `yaml:"hla"`
}

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "YAML capture description file.")
		names      = pflag.StringSliceP("names", "n", nil, "Comma-separated channel names, e.g. CAN10H,CAN10L.")
		threshold  = pflag.Float64P("threshold", "t", 0, "Digitization threshold.")
		hysteresis = pflag.Float64P("hysteresis", "y", 0, "Digitization hysteresis.")
		rate       = pflag.Float64P("rate", "r", 0, "CAN bit rate in bits per second.")
		hla        = pflag.String("hla", "", `High-level analyzer to apply ("desi").`)
		v2         = pflag.Bool("v2", false, "Read a Logic 2.x export directory rather than a v1 binary file.")
	)
	pflag.Parse()

	var cfg captureConfig
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatal("unable to read config file", "err", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal("unable to parse config file", "err", err)
		}
	}
	// Flags override the capture description.
	if len(*names) > 0 {
		cfg.Names = *names
	}
	if *threshold != 0 {
		cfg.Threshold = *threshold
	}
	if *hysteresis != 0 {
		cfg.Hysteresis = *hysteresis
	}
	if *rate != 0 {
		cfg.Rate = *rate
	}
	if *hla != "" {
		cfg.HLA = *hla
	}

	for _, path := range pflag.Args() {
		if err := canFrame(path, cfg, *v2); err != nil {
			log.Fatal("decoding failed", "path", path, "err", err)
		}
	}
}

func canFrame(path string, cfg captureConfig, v2 bool) error {
	var (
		capture *saleae.Capture
		err     error
	)
	if v2 {
		capture, err = saleae.LoadAnalogV2(path)
	} else {
		capture, err = saleae.LoadAnalogV1(path)
	}
	if err != nil {
		return err
	}
	log.Info("loaded capture",
		"path", path,
		"channels", len(capture.Data),
		"rate_mhz", 1e-6/capture.Period)

	sessionCfg := raccoon.Config{
		Threshold:  cfg.Threshold,
		Hysteresis: cfg.Hysteresis,
		Rate:       cfg.Rate,
	}
	switch cfg.HLA {
	case "":
	case "desi":
		sessionCfg.HLA = desi.New().Interpret
	default:
		log.Fatal("unknown high-level analyzer", "hla", cfg.HLA)
	}
	s, err := raccoon.NewSession(capture.Data, capture.Period, cfg.Names, sessionCfg)
	if err != nil {
		return err
	}

	for _, bus := range s.BusNames {
		d := s.Decoders[bus]
		log.Info("decoded bus", "bus", bus, "frames", len(d.Frames))
		if len(d.Errors) > 0 {
			for kind, times := range d.Errors {
				log.Warn("protocol errors", "bus", bus, "kind", string(kind), "count", len(times))
			}
		}
		if d.HLAErrors > 0 {
			log.Warn("uninterpreted frames", "bus", bus, "count", d.HLAErrors)
		}
		if d.TruncatedLabels > 0 {
			log.Warn("truncated annotation labels", "bus", bus, "count", d.TruncatedLabels)
		}
		if err := s.List(os.Stdout, bus, 0, -1); err != nil {
			return err
		}
	}
	return nil
}
