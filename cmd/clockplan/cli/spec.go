package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lpc11u-hal/clocks"
)

// specFlags describe a clock tree on the command line. A --config file is
// the base; flags given explicitly override its fields.
type specFlags struct {
	config      string
	spec        clocks.Spec
	wdoscAnalog uint32
	wdoscDiv    uint8
}

func (s *specFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.config, "config", "", "JSON clock spec file")
	f.StringVar(&s.spec.Preset, "preset", clocks.PresetIRC12,
		"one of "+strings.Join(clocks.Presets, ", "))
	f.Uint32Var(&s.spec.CrystalKHz, "crystal-khz", 0, "fitted crystal in kHz, 0 for none")
	f.Uint32Var(&s.spec.TargetKHz, "target-khz", 0, "system PLL output for irc_pll and crystal_pll")
	f.Uint32Var(&s.wdoscAnalog, "wdosc-analog-khz", 0, "watchdog oscillator analog frequency")
	f.Uint8Var(&s.wdoscDiv, "wdosc-divider", 0, "watchdog oscillator divider, even 2..64")
	f.Uint8Var(&s.spec.MainDivider, "main-divider", 0, "system AHB clock divider")
	f.BoolVar(&s.spec.USBFullSpeed, "usb", false, "derive a 48 MHz USB clock")
	f.Uint32Var(&s.spec.SSP0KHz, "ssp0-khz", 0, "SSP0 clock")
	f.Uint32Var(&s.spec.SSP1KHz, "ssp1-khz", 0, "SSP1 clock")
	f.Uint32Var(&s.spec.USARTKHz, "usart-khz", 0, "USART clock")
}

// resolve merges the config file and the flags into a Spec.
func (s *specFlags) resolve(cmd *cobra.Command) (clocks.Spec, error) {
	flags := s.spec
	if s.wdoscAnalog != 0 || s.wdoscDiv != 0 {
		flags.WDOsc = &clocks.WDOscConfig{AnalogKHz: s.wdoscAnalog, Divider: s.wdoscDiv}
	}
	if s.config == "" {
		return flags, nil
	}

	raw, err := os.ReadFile(s.config)
	if err != nil {
		return clocks.Spec{}, err
	}
	out, err := clocks.ParseSpec(raw)
	if err != nil {
		return clocks.Spec{}, fmt.Errorf("%s: %w", s.config, err)
	}
	set := cmd.Flags().Changed
	if set("preset") {
		out.Preset = flags.Preset
	}
	if set("crystal-khz") {
		out.CrystalKHz = flags.CrystalKHz
	}
	if set("target-khz") {
		out.TargetKHz = flags.TargetKHz
	}
	if flags.WDOsc != nil {
		out.WDOsc = flags.WDOsc
	}
	if set("main-divider") {
		out.MainDivider = flags.MainDivider
	}
	if set("usb") {
		out.USBFullSpeed = flags.USBFullSpeed
	}
	if set("ssp0-khz") {
		out.SSP0KHz = flags.SSP0KHz
	}
	if set("ssp1-khz") {
		out.SSP1KHz = flags.SSP1KHz
	}
	if set("usart-khz") {
		out.USARTKHz = flags.USARTKHz
	}
	return out, nil
}

// build resolves and builds the Config with its frequencies.
func (s *specFlags) build(cmd *cobra.Command) (clocks.Config, clocks.Frequencies, error) {
	spec, err := s.resolve(cmd)
	if err != nil {
		return clocks.Config{}, clocks.Frequencies{}, err
	}
	cfg, err := spec.Build()
	if err != nil {
		return clocks.Config{}, clocks.Frequencies{}, err
	}
	f, err := cfg.Frequencies()
	if err != nil {
		return clocks.Config{}, clocks.Frequencies{}, err
	}
	return cfg, f, nil
}
