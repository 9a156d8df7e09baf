package clocks

import (
	"fmt"

	"lpc11u-hal/drivers/syscon"
	"lpc11u-hal/errcode"
	"lpc11u-hal/x/mathx"
)

// Hardware limits.
const (
	IRCKHz        = syscon.IRCKHz
	MaxMainClkKHz = 50_000
	MaxDivider    = 255
)

// IRCKHz returns the IRC frequency, or false if it is disabled.
func (c Config) IRCKHz() (uint32, bool) {
	if !c.IRC {
		return 0, false
	}
	return IRCKHz, true
}

// SysOscKHz returns the crystal frequency, or false if no crystal is used.
func (c Config) SysOscKHz() (uint32, bool) {
	return c.CrystalKHz, c.CrystalKHz != 0
}

// WDOscKHz returns the watchdog oscillator output. It is false when the
// oscillator is not configured or its settings are not an exact, valid pair.
func (c Config) WDOscKHz() (uint32, bool) {
	if c.WDOsc == nil {
		return 0, false
	}
	if _, ok := wdtFreqSel(c.WDOsc.AnalogKHz); !ok {
		return 0, false
	}
	d := c.WDOsc.Divider
	if d < 2 || d > 64 || d%2 != 0 {
		return 0, false
	}
	khz, exact := mathx.DivExact(c.WDOsc.AnalogKHz, uint32(d))
	return khz, exact && khz != 0
}

func wdtFreqSel(analogKHz uint32) (uint32, bool) {
	for sel, khz := range syscon.WDTOscAnalogKHz {
		if sel != 0 && khz == analogKHz {
			return uint32(sel), true
		}
	}
	return 0, false
}

func (c Config) pllInputKHz(src PLLSource) (uint32, bool) {
	if src == PLLSourceSysOsc {
		return c.SysOscKHz()
	}
	return c.IRCKHz()
}

func (c Config) pllKHz(p *PLLConfig) (uint32, bool) {
	if p == nil {
		return 0, false
	}
	in, ok := c.pllInputKHz(p.Source)
	if !ok {
		return 0, false
	}
	return in * uint32(p.M), true
}

// SysPLLKHz returns the system PLL output.
func (c Config) SysPLLKHz() (uint32, bool) { return c.pllKHz(c.SysPLL) }

// USBPLLKHz returns the USB PLL output.
func (c Config) USBPLLKHz() (uint32, bool) { return c.pllKHz(c.USBPLL) }

// MainClkSourceKHz returns the frequency entering the main clock divider.
func (c Config) MainClkSourceKHz() (uint32, bool) {
	switch c.MainClk.Source {
	case MainSourceIRC:
		return c.IRCKHz()
	case MainSourceSysOsc:
		return c.SysOscKHz()
	case MainSourceWDOsc:
		return c.WDOscKHz()
	case MainSourceSysPLL:
		return c.SysPLLKHz()
	}
	return 0, false
}

// MainClkKHz returns the main clock.
func (c Config) MainClkKHz() (uint32, bool) {
	src, ok := c.MainClkSourceKHz()
	if !ok || c.MainClk.Divider == 0 {
		return 0, false
	}
	return src / uint32(c.MainClk.Divider), true
}

// mainClkIsSysOscSourced reports whether the main clock ultimately comes from
// the crystal, directly or through the system PLL.
func (c Config) mainClkIsSysOscSourced() bool {
	switch c.MainClk.Source {
	case MainSourceSysOsc:
		return true
	case MainSourceSysPLL:
		return c.SysPLL != nil && c.SysPLL.Source == PLLSourceSysOsc
	}
	return false
}

// USBClkKHz returns the USB clock.
func (c Config) USBClkKHz() (uint32, bool) {
	if c.USBClk == nil || c.USBClk.Divider == 0 {
		return 0, false
	}
	var src uint32
	var ok bool
	if c.USBClk.Source == USBSourceMainClk {
		src, ok = c.MainClkKHz()
	} else {
		src, ok = c.USBPLLKHz()
	}
	if !ok {
		return 0, false
	}
	return src / uint32(c.USBClk.Divider), true
}

// leafKHz divides the main clock with plain truncation; peripheral baud and
// bit-rate generators absorb the remainder.
func (c Config) leafKHz(div uint8) (uint32, bool) {
	if div == 0 {
		return 0, false
	}
	main, ok := c.MainClkKHz()
	if !ok {
		return 0, false
	}
	return main / uint32(div), true
}

// SSP0KHz returns the SSP0 peripheral clock.
func (c Config) SSP0KHz() (uint32, bool) { return c.leafKHz(c.SSP0Divider) }

// SSP1KHz returns the SSP1 peripheral clock.
func (c Config) SSP1KHz() (uint32, bool) { return c.leafKHz(c.SSP1Divider) }

// USARTKHz returns the USART peripheral clock.
func (c Config) USARTKHz() (uint32, bool) { return c.leafKHz(c.USARTDivider) }

// KHz returns the frequency of any node.
func (c Config) KHz(n Node) (uint32, bool) {
	switch n {
	case NodeIRC:
		return c.IRCKHz()
	case NodeSysOsc:
		return c.SysOscKHz()
	case NodeWDOsc:
		return c.WDOscKHz()
	case NodeSysPLL:
		return c.SysPLLKHz()
	case NodeUSBPLL:
		return c.USBPLLKHz()
	case NodeMainClk:
		return c.MainClkKHz()
	case NodeUSBClk:
		return c.USBClkKHz()
	case NodeSSP0:
		return c.SSP0KHz()
	case NodeSSP1:
		return c.SSP1KHz()
	case NodeUSART:
		return c.USARTKHz()
	}
	return 0, false
}

// Frequencies validates c and returns the frequency of every node.
func (c Config) Frequencies() (Frequencies, error) {
	var f Frequencies
	if err := c.Validate(); err != nil {
		return f, err
	}
	for n := Node(0); n < NumNodes; n++ {
		f[n], _ = c.KHz(n)
	}
	return f, nil
}

// Validate checks every dependency and range of the tree.
func (c Config) Validate() error {
	const op = "clocks.Validate"

	if c.WDOsc != nil {
		if _, ok := c.WDOscKHz(); !ok {
			return errcode.New(errcode.WDOscOutOfRange, op,
				fmt.Sprintf("analog %d kHz / %d is not a valid exact setting", c.WDOsc.AnalogKHz, c.WDOsc.Divider))
		}
	}
	if err := c.validatePLL(c.SysPLL, errcode.InvalidSysPLLParams, "system"); err != nil {
		return err
	}
	if err := c.validatePLL(c.USBPLL, errcode.InvalidUSBPLLParams, "usb"); err != nil {
		return err
	}

	// The crystal reaches the main clock through the system PLL input mux,
	// so a system PLL fed from the IRC cannot coexist with it.
	if c.MainClk.Source == MainSourceSysOsc && c.SysPLL != nil && c.SysPLL.Source != PLLSourceSysOsc {
		return errcode.New(errcode.InvalidSysPLLParams, op,
			"main clock selects the crystal but the system PLL input is the irc")
	}

	if c.MainClk.Divider == 0 {
		return errcode.New(errcode.SysClkOutOfRange, op, "main clock divider is 0")
	}
	if _, ok := c.MainClkSourceKHz(); !ok {
		return errcode.New(errcode.SysClkOutOfRange, op,
			fmt.Sprintf("main clock source %s is not configured", c.MainClk.Source))
	}
	main, _ := c.MainClkKHz()
	if main == 0 || main > MaxMainClkKHz {
		return errcode.New(errcode.SysClkOutOfRange, op,
			fmt.Sprintf("main clock %d kHz outside (0, %d]", main, MaxMainClkKHz))
	}

	if c.USBClk != nil {
		usb, ok := c.USBClkKHz()
		if !ok {
			return errcode.New(errcode.USBClkOutOfRange, op,
				fmt.Sprintf("usb clock source %s is not configured", c.USBClk.Source))
		}
		if usb != USBFullSpeedKHz {
			return errcode.New(errcode.USBClkOutOfRange, op,
				fmt.Sprintf("usb clock is %d kHz, not %d", usb, USBFullSpeedKHz))
		}
	}
	return nil
}

func (c Config) validatePLL(p *PLLConfig, code errcode.Code, name string) error {
	const op = "clocks.Validate"
	if p == nil {
		return nil
	}
	in, ok := c.pllInputKHz(p.Source)
	if !ok {
		return errcode.New(code, op, fmt.Sprintf("%s pll input %s is not enabled", name, p.Source))
	}
	if p.M < 1 || p.M > MaxM {
		return errcode.New(code, op, fmt.Sprintf("%s pll M=%d outside [1, %d]", name, p.M, MaxM))
	}
	if _, ok := pselOf(p.P); !ok {
		return errcode.New(code, op, fmt.Sprintf("%s pll P=%d not in {1,2,4,8}", name, p.P))
	}
	out := in * uint32(p.M)
	if !ccoInBand(p.P, out) {
		return errcode.New(code, op,
			fmt.Sprintf("%s pll CCO %d kHz outside [%d, %d]", name, 2*uint64(p.P)*uint64(out), CCOMinKHz, CCOMaxKHz))
	}
	return nil
}
