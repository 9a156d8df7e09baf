package clocks

import (
	"bytes"
	"encoding/json"
	"fmt"

	"lpc11u-hal/errcode"
)

// Preset names accepted in a Spec.
const (
	PresetIRC12      = "irc12"
	PresetIRC24      = "irc24"
	PresetIRC48      = "irc48"
	PresetIRCPLL     = "irc_pll"
	PresetCrystal    = "crystal"
	PresetCrystalPLL = "crystal_pll"
	PresetWDOsc      = "wdosc"
)

// Presets lists the preset names in a stable order.
var Presets = []string{
	PresetIRC12, PresetIRC24, PresetIRC48, PresetIRCPLL,
	PresetCrystal, PresetCrystalPLL, PresetWDOsc,
}

// Spec is the declarative form of a Config, as found in board configuration
// files and on the command line. Zero fields are not applied.
type Spec struct {
	Preset       string       `json:"preset,omitempty"` // default irc12
	CrystalKHz   uint32       `json:"crystal_khz,omitempty"`
	TargetKHz    uint32       `json:"target_khz,omitempty"` // irc_pll and crystal_pll
	WDOsc        *WDOscConfig `json:"wdosc,omitempty"`
	MainDivider  uint8        `json:"main_divider,omitempty"`
	USBFullSpeed bool         `json:"usb_fs,omitempty"`
	SSP0KHz      uint32       `json:"ssp0_khz,omitempty"`
	SSP1KHz      uint32       `json:"ssp1_khz,omitempty"`
	USARTKHz     uint32       `json:"usart_khz,omitempty"`
}

// ParseSpec decodes a JSON Spec, rejecting unknown fields.
func ParseSpec(b []byte) (Spec, error) {
	var s Spec
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Spec{}, errcode.Wrap(errcode.InvalidParams, "clocks.ParseSpec", err)
	}
	return s, nil
}

// Build turns the Spec into a validated Config: the preset first, then the
// main divider, USB, and the peripheral clocks in that order.
func (s Spec) Build() (Config, error) {
	c, err := s.preset()
	if err != nil {
		return Config{}, err
	}
	if s.MainDivider != 0 {
		if c, err = c.WithMainDivider(s.MainDivider); err != nil {
			return Config{}, err
		}
	}
	if s.USBFullSpeed {
		if c, err = c.EnableUSBFullSpeed(); err != nil {
			return Config{}, err
		}
	}
	for _, p := range [...]struct {
		n   Node
		khz uint32
	}{
		{NodeSSP0, s.SSP0KHz},
		{NodeSSP1, s.SSP1KHz},
		{NodeUSART, s.USARTKHz},
	} {
		if p.khz == 0 {
			continue
		}
		if c, err = c.EnablePeripheral(p.n, p.khz); err != nil {
			return Config{}, err
		}
	}
	return c, nil
}

func (s Spec) preset() (Config, error) {
	const op = "clocks.Spec.Build"
	needCrystal := func() error {
		if s.CrystalKHz == 0 {
			return errcode.New(errcode.InvalidParams, op, fmt.Sprintf("preset %s needs crystal_khz", s.Preset))
		}
		return nil
	}
	withCrystal := func(c Config) Config {
		c.CrystalKHz = s.CrystalKHz
		return c
	}

	switch s.Preset {
	case "", PresetIRC12:
		return withCrystal(IRC12MHz()), nil
	case PresetIRC24:
		return withCrystal(IRC24MHz()), nil
	case PresetIRC48:
		return withCrystal(IRC48MHz()), nil
	case PresetIRCPLL:
		return withCrystal(IRC12MHz()).WithSystemPLL(PLLSourceIRC, s.TargetKHz)
	case PresetCrystal:
		if err := needCrystal(); err != nil {
			return Config{}, err
		}
		return CrystalOscillator(s.CrystalKHz), nil
	case PresetCrystalPLL:
		if err := needCrystal(); err != nil {
			return Config{}, err
		}
		return CrystalPLL(s.CrystalKHz, s.TargetKHz)
	case PresetWDOsc:
		if s.WDOsc == nil {
			return Config{}, errcode.New(errcode.InvalidParams, op, "preset wdosc needs wdosc")
		}
		c, err := WatchdogOscillator(s.WDOsc.AnalogKHz, s.WDOsc.Divider)
		if err != nil {
			return Config{}, err
		}
		return withCrystal(c), nil
	}
	return Config{}, errcode.New(errcode.InvalidParams, op, fmt.Sprintf("unknown preset %q", s.Preset))
}
