// Package firmware derives firmware and test-data names from the build
// configuration.
//
// The build exports MAKE_CONFIG (for example "DMA=axi INTERRUPTS=yes") and
// PLATFORM. Firmware images, stimuli and reference transcripts are all named
// after the same combination:
//
//	fw_<platform>[_<dma>][_irq]
//
// where the DMA part is omitted for "none" and the irq suffix is present
// only when INTERRUPTS=yes.
package firmware

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Environment variable names read by FromEnv.
const (
	EnvMakeConfig = "MAKE_CONFIG"
	EnvPlatform   = "PLATFORM"
)

// DefaultTestDataDir holds stimuli, references and XLS configs.
const DefaultTestDataDir = "ci/test_data"

const dmaNone = "none"

var (
	dmaPattern = regexp.MustCompile(`DMA=([a-zA-Z0-9]*)`)
	irqPattern = regexp.MustCompile(`INTERRUPTS=([a-zA-Z0-9]*)`)
)

// ErrMissingVariable is returned when a required environment variable is unset.
var ErrMissingVariable = errors.New("missing environment variable")

// Options is one build configuration.
type Options struct {
	Platform string `json:"platform"`
	DMA      string `json:"dma"`
	IRQ      string `json:"interrupts"`
}

// ParseMakeConfig extracts the DMA and INTERRUPTS settings from a
// MAKE_CONFIG value. Both settings are required.
func ParseMakeConfig(config string) (dma, irq string, err error) {
	m := dmaPattern.FindStringSubmatch(config)
	if m == nil {
		return "", "", fmt.Errorf("%s has no DMA= setting: %q", EnvMakeConfig, config)
	}
	dma = m[1]

	m = irqPattern.FindStringSubmatch(config)
	if m == nil {
		return "", "", fmt.Errorf("%s has no INTERRUPTS= setting: %q", EnvMakeConfig, config)
	}
	return dma, m[1], nil
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv reads the build configuration from the process environment.
func FromEnv() (Options, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup reads the build configuration through lookup.
func FromLookup(lookup LookupFunc) (Options, error) {
	config, ok := lookup(EnvMakeConfig)
	if !ok {
		return Options{}, fmt.Errorf("%w: %s", ErrMissingVariable, EnvMakeConfig)
	}
	platform, ok := lookup(EnvPlatform)
	if !ok {
		return Options{}, fmt.Errorf("%w: %s", ErrMissingVariable, EnvPlatform)
	}
	dma, irq, err := ParseMakeConfig(config)
	if err != nil {
		return Options{}, err
	}
	return Options{Platform: platform, DMA: dma, IRQ: irq}, nil
}

// FirmwareName returns the firmware base name for o.
func (o Options) FirmwareName() string {
	name := "fw_" + o.Platform
	if o.DMA != dmaNone {
		name += "_" + o.DMA
	}
	if o.IRQ == "yes" {
		name += "_irq"
	}
	return name
}

// ConfigName returns the XLS plugin config file name for o.
// It depends on the DMA setting only.
func (o Options) ConfigName() string {
	name := "config"
	if o.DMA != dmaNone {
		name += "_" + o.DMA
	}
	return name + ".textproto"
}

// Paths locates the test data for one build configuration.
type Paths struct {
	Firmware  string `json:"firmware"`
	Stimuli   string `json:"stimuli"`
	Reference string `json:"reference"`
	XLSConfig string `json:"xls_config"`
}

// Layout resolves test data paths under dir. An empty dir means
// DefaultTestDataDir.
func (o Options) Layout(dir string) Paths {
	if dir == "" {
		dir = DefaultTestDataDir
	}
	fw := o.FirmwareName()
	return Paths{
		Firmware:  fw,
		Stimuli:   filepath.Join(dir, fw+"_stimuli"),
		Reference: filepath.Join(dir, fw+"_response"),
		XLSConfig: filepath.Join(dir, o.ConfigName()),
	}
}
