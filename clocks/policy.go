package clocks

import (
	"fmt"

	"lpc11u-hal/errcode"
	"lpc11u-hal/x/mathx"
)

// USBFullSpeedKHz is the only USB clock the USB device block accepts.
const USBFullSpeedKHz = 48_000

// clone copies c so the result shares no pointers with it.
func (c Config) clone() Config {
	out := c
	if c.WDOsc != nil {
		w := *c.WDOsc
		out.WDOsc = &w
	}
	if c.SysPLL != nil {
		p := *c.SysPLL
		out.SysPLL = &p
	}
	if c.USBPLL != nil {
		p := *c.USBPLL
		out.USBPLL = &p
	}
	if c.USBClk != nil {
		u := *c.USBClk
		out.USBClk = &u
	}
	return out
}

// EnableUSBFullSpeed adds a 48 MHz USB clock. A main clock derived from the
// crystal is divided down when it is an exact multiple of 48 MHz; otherwise
// the USB PLL is driven from the crystal. The IRC is never used for USB: its
// tolerance is outside the USB full-speed limit.
func (c Config) EnableUSBFullSpeed() (Config, error) {
	const op = "clocks.EnableUSBFullSpeed"
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	out := c.clone()

	if c.mainClkIsSysOscSourced() {
		main, _ := c.MainClkKHz()
		if div, exact := mathx.DivExact(main, USBFullSpeedKHz); exact && mathx.Between(div, 1, MaxDivider) {
			out.USBPLL = nil
			out.USBClk = &USBClkConfig{Source: USBSourceMainClk, Divider: uint8(div)}
			return out, out.Validate()
		}
	}

	xtal, ok := c.SysOscKHz()
	if !ok {
		return Config{}, errcode.New(errcode.USBClkOutOfRange, op,
			"no crystal configured and the main clock is not a crystal-derived multiple of 48 MHz")
	}
	p, d, ok := SolveWithDivider(xtal, USBFullSpeedKHz)
	if !ok {
		return Config{}, errcode.New(errcode.InvalidUSBPLLParams, op,
			fmt.Sprintf("no usb pll setting reaches %d kHz from %d kHz", USBFullSpeedKHz, xtal))
	}
	out.USBPLL = &PLLConfig{Source: PLLSourceSysOsc, M: p.M, P: p.P}
	out.USBClk = &USBClkConfig{Source: USBSourceUSBPLL, Divider: d}
	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// EnablePeripheral sets the divider of SSP0, SSP1 or the USART so that the
// peripheral clock is main/divider with divider = main/targetKHz. The result
// is truncated, never rounded up past the target.
func (c Config) EnablePeripheral(n Node, targetKHz uint32) (Config, error) {
	const op = "clocks.EnablePeripheral"
	if targetKHz == 0 {
		return Config{}, errcode.New(errcode.InvalidParams, op, "target frequency is 0")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	main, _ := c.MainClkKHz()
	if main < targetKHz {
		return Config{}, errcode.New(errcode.SysClkOutOfRange, op,
			fmt.Sprintf("%s target %d kHz above main clock %d kHz", n, targetKHz, main))
	}
	div := main / targetKHz
	if div > MaxDivider {
		return Config{}, errcode.New(errcode.SysClkOutOfRange, op,
			fmt.Sprintf("%s divider %d exceeds %d", n, div, MaxDivider))
	}

	out := c.clone()
	switch n {
	case NodeSSP0:
		out.SSP0Divider = uint8(div)
	case NodeSSP1:
		out.SSP1Divider = uint8(div)
	case NodeUSART:
		out.USARTDivider = uint8(div)
	default:
		return Config{}, errcode.New(errcode.InvalidParams, op, fmt.Sprintf("%s is not a peripheral clock", n))
	}
	return out, nil
}

// WithSystemPLL drives the system PLL from src to exactly targetKHz and runs
// the main clock from it undivided.
func (c Config) WithSystemPLL(src PLLSource, targetKHz uint32) (Config, error) {
	const op = "clocks.WithSystemPLL"
	in, ok := c.pllInputKHz(src)
	if !ok {
		return Config{}, errcode.New(errcode.InvalidSysPLLParams, op, fmt.Sprintf("pll input %s is not enabled", src))
	}
	p, ok := Solve(in, targetKHz)
	if !ok {
		return Config{}, errcode.New(errcode.InvalidSysPLLParams, op,
			fmt.Sprintf("no system pll setting reaches %d kHz from %d kHz", targetKHz, in))
	}
	out := c.clone()
	out.SysPLL = &PLLConfig{Source: src, M: p.M, P: p.P}
	out.MainClk = MainClkConfig{Source: MainSourceSysPLL, Divider: 1}
	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// WithMainDivider replaces the main clock divider.
func (c Config) WithMainDivider(div uint8) (Config, error) {
	out := c.clone()
	out.MainClk.Divider = div
	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}
