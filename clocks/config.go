// Package clocks configures and derives the clock tree of an LPC11Uxx part:
// the internal RC oscillator, crystal oscillator and watchdog oscillator, the
// system and USB PLLs, the main clock multiplexer and divider, and the USB,
// SSP0, SSP1 and USART peripheral clocks.
//
// A Config is a complete, immutable description of the tree. It is built from
// a preset and extended with transformations that validate as they go, so an
// invalid tree is rejected before any register is touched. A Sequencer then
// programs the hardware and publishes the applied frequencies to a Cache that
// peripheral drivers read without locking.
//
// All frequencies are integer kHz.
package clocks

import (
	"lpc11u-hal/drivers/syscon"
)

// PLLSource is the input multiplexer of a PLL.
type PLLSource uint8

const (
	PLLSourceIRC    PLLSource = syscon.PLLClkSelIRC
	PLLSourceSysOsc PLLSource = syscon.PLLClkSelSysOsc
)

func (s PLLSource) String() string {
	if s == PLLSourceSysOsc {
		return "sysosc"
	}
	return "irc"
}

// MainSource is the main clock multiplexer selection.
type MainSource uint8

const (
	MainSourceIRC    MainSource = syscon.MainClkSelIRC
	MainSourceSysOsc MainSource = syscon.MainClkSelPLLIn
	MainSourceWDOsc  MainSource = syscon.MainClkSelWDTOsc
	MainSourceSysPLL MainSource = syscon.MainClkSelPLLOut
)

func (s MainSource) String() string {
	switch s {
	case MainSourceIRC:
		return "irc"
	case MainSourceSysOsc:
		return "sysosc"
	case MainSourceWDOsc:
		return "wdosc"
	case MainSourceSysPLL:
		return "sys_pll"
	}
	return "unknown"
}

// USBSource is the USB clock multiplexer selection.
type USBSource uint8

const (
	USBSourceUSBPLL  USBSource = syscon.USBClkSelUSBPLL
	USBSourceMainClk USBSource = syscon.USBClkSelMainClk
)

func (s USBSource) String() string {
	if s == USBSourceMainClk {
		return "mainclk"
	}
	return "usb_pll"
}

// PLLConfig describes one PLL. Output = input × M; the CCO runs at
// 2 × P × output and must stay inside [CCOMinKHz, CCOMaxKHz].
type PLLConfig struct {
	Source PLLSource
	M      uint8 // 1..32
	P      uint8 // 1, 2, 4 or 8
}

// MainClkConfig selects and divides the main clock.
type MainClkConfig struct {
	Source  MainSource
	Divider uint8 // 1..255
}

// USBClkConfig selects and divides the USB clock.
type USBClkConfig struct {
	Source  USBSource
	Divider uint8 // 1..255
}

// WDOscConfig configures the watchdog oscillator. AnalogKHz is one of the
// FREQSEL rates; Divider is even in [2, 64].
type WDOscConfig struct {
	AnalogKHz uint32 `json:"analog_khz"`
	Divider   uint8  `json:"divider"`
}

// Config is the whole clock tree. Treat it as a value: transformations return
// a new Config and never write through the pointers of the receiver.
type Config struct {
	IRC        bool   // internal RC oscillator enabled
	CrystalKHz uint32 // 0 when no crystal is used
	WDOsc      *WDOscConfig
	MainClk    MainClkConfig
	SysPLL     *PLLConfig
	USBPLL     *PLLConfig
	USBClk     *USBClkConfig

	// Peripheral clock dividers from the main clock; 0 leaves the clock off.
	SSP0Divider  uint8
	SSP1Divider  uint8
	USARTDivider uint8
}

// IRC12MHz runs the main clock directly from the IRC.
func IRC12MHz() Config {
	return Config{
		IRC:     true,
		MainClk: MainClkConfig{Source: MainSourceIRC, Divider: 1},
	}
}

// IRC24MHz drives the system PLL from the IRC to 24 MHz and runs the main
// clock from it.
func IRC24MHz() Config {
	c := IRC12MHz()
	c.SysPLL = &PLLConfig{Source: PLLSourceIRC, M: 2, P: 4}
	c.MainClk = MainClkConfig{Source: MainSourceSysPLL, Divider: 1}
	return c
}

// IRC48MHz drives the system PLL from the IRC to 48 MHz and runs the main
// clock from it.
func IRC48MHz() Config {
	c := IRC12MHz()
	c.SysPLL = &PLLConfig{Source: PLLSourceIRC, M: 4, P: 2}
	c.MainClk = MainClkConfig{Source: MainSourceSysPLL, Divider: 1}
	return c
}

// CrystalOscillator runs the main clock directly from a crystal of khz.
// The IRC is left disabled.
func CrystalOscillator(khz uint32) Config {
	return Config{
		CrystalKHz: khz,
		MainClk:    MainClkConfig{Source: MainSourceSysOsc, Divider: 1},
	}
}

// CrystalPLL drives the system PLL from a crystal of khz to targetKHz and runs
// the main clock from it.
func CrystalPLL(khz, targetKHz uint32) (Config, error) {
	return CrystalOscillator(khz).WithSystemPLL(PLLSourceSysOsc, targetKHz)
}

// WatchdogOscillator runs the main clock from the watchdog oscillator. The
// IRC stays enabled, as it is the only safe fallback for the main clock.
func WatchdogOscillator(analogKHz uint32, divider uint8) (Config, error) {
	c := IRC12MHz()
	c.WDOsc = &WDOscConfig{AnalogKHz: analogKHz, Divider: divider}
	c.MainClk = MainClkConfig{Source: MainSourceWDOsc, Divider: 1}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// MustConfig panics if err is non-nil. For presets built from constants.
func MustConfig(c Config, err error) Config {
	if err != nil {
		panic(err)
	}
	return c
}
