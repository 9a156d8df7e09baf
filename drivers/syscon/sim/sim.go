// Package sim is a simulated SYSCON register set. It models PLL lock
// acquisition, update-enable latching of the clock multiplexers and the
// resulting main clock rate, and records every condition that would glitch
// a real clock tree.
package sim

import (
	"fmt"
	"sync"

	"lpc11u-hal/drivers/syscon"
)

// NeverLock keeps a PLL's LOCK bit low forever.
const NeverLock = -1

// Options configures the simulated part.
type Options struct {
	// CrystalKHz is the frequency of the fitted crystal; 0 means none.
	CrystalKHz uint32
	// SysLockAfter and USBLockAfter are the number of LOCK polls that read
	// 0 after (re)programming before LOCK reads 1. NeverLock disables locking.
	SysLockAfter int
	USBLockAfter int
}

// Write is one recorded bus write.
type Write struct {
	Off   uint32
	Value uint32
}

func (w Write) String() string {
	return fmt.Sprintf("%s=0x%X", syscon.RegName(w.Off), w.Value)
}

type pll struct {
	polls  int
	after  int
	locked bool
}

func (p *pll) relock() {
	p.polls = 0
	p.locked = false
}

func (p *pll) poll(powered bool) bool {
	if !powered {
		p.relock()
		return false
	}
	if p.locked {
		return true
	}
	if p.after < 0 {
		return false
	}
	p.polls++
	if p.polls > p.after {
		p.locked = true
	}
	return p.locked
}

// Registers implements syscon.Bus.
type Registers struct {
	mu   sync.Mutex
	opts Options
	regs map[uint32]uint32
	errs map[uint32]error

	sys, usb pll

	// Latched multiplexer outputs.
	mainSel, usbSel    uint32
	sysPLLIn, usbPLLIn uint32

	glitches []string
	writes   []Write
	peakMain uint32
}

var _ syscon.Bus = (*Registers)(nil)

// New returns a register set in its reset state.
func New(opts Options) *Registers {
	r := &Registers{
		opts: opts,
		regs: map[uint32]uint32{
			syscon.RegPDRunCfg:     syscon.ResetPDRunCfg,
			syscon.RegSysAHBClkDiv: syscon.ResetSysAHBClkDiv,
			syscon.RegUSBClkDiv:    syscon.ResetUSBClkDiv,
		},
		errs: map[uint32]error{},
		sys:  pll{after: opts.SysLockAfter},
		usb:  pll{after: opts.USBLockAfter},
	}
	r.peakMain = r.mainKHz()
	return r
}

// InjectError makes every access to off fail with err. nil clears it.
func (r *Registers) InjectError(off uint32, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.errs, off)
		return
	}
	r.errs[off] = err
}

// Preset writes a raw register value and latches all multiplexers, without
// recording a write or checking for glitches. Used to model state left by a
// previous boot stage.
func (r *Registers) Preset(off, v uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[off] = v
	r.mainSel = syscon.MainClkSel.Get(r.regs[syscon.RegMainClkSel])
	r.usbSel = syscon.USBClkSel.Get(r.regs[syscon.RegUSBClkSel])
	r.sysPLLIn = syscon.SysPLLClkSel.Get(r.regs[syscon.RegSysPLLClkSel])
	r.usbPLLIn = syscon.USBPLLClkSel.Get(r.regs[syscon.RegUSBPLLClkSel])
	if r.pllPowered(syscon.SysPLLPD) {
		r.sys.locked = true
	}
	if r.pllPowered(syscon.USBPLLPD) {
		r.usb.locked = true
	}
	r.peakMain = r.mainKHz()
}

// LoseSysPLLLock drops the system PLL's LOCK bit as if the PLL had lost its
// reference. LOCK reads 1 again after the given number of polls; NeverLock
// keeps it low.
func (r *Registers) LoseSysPLLLock(after int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sys.after = after
	r.sys.relock()
}

// ResetPeak restarts peak tracking from the current main clock rate.
func (r *Registers) ResetPeak() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peakMain = r.mainKHz()
}

func (r *Registers) Read32(off uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs[off]; err != nil {
		return 0, err
	}
	switch off {
	case syscon.RegSysPLLStat:
		return b2u(r.sys.poll(r.pllPowered(syscon.SysPLLPD))), nil
	case syscon.RegUSBPLLStat:
		return b2u(r.usb.poll(r.pllPowered(syscon.USBPLLPD))), nil
	}
	return r.regs[off], nil
}

func (r *Registers) Write32(off uint32, v uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs[off]; err != nil {
		return err
	}
	if off == syscon.RegSysPLLStat || off == syscon.RegUSBPLLStat {
		return nil
	}
	old := r.regs[off]
	r.regs[off] = v
	r.writes = append(r.writes, Write{Off: off, Value: v})

	switch off {
	case syscon.RegSysPLLCtrl:
		if v != old {
			r.sys.relock()
			if r.mainSel == syscon.MainClkSelPLLOut {
				r.glitch("SYSPLLCTRL changed while main clock runs from the system PLL")
			}
		}
	case syscon.RegUSBPLLCtrl:
		if v != old {
			r.usb.relock()
			if r.usbClockOnPLL() {
				r.glitch("USBPLLCTRL changed while USB clock runs from the USB PLL")
			}
		}
	case syscon.RegWDTOscCtrl:
		if v != old && r.mainSel == syscon.MainClkSelWDTOsc {
			r.glitch("WDTOSCCTRL changed while main clock runs from the watchdog oscillator")
		}
	case syscon.RegPDRunCfg:
		r.powerChanged(old, v)
	case syscon.RegSysPLLClkUEN:
		if rising(old, v) {
			r.sysPLLIn = syscon.SysPLLClkSel.Get(r.regs[syscon.RegSysPLLClkSel])
			r.sys.relock()
			if r.mainSel == syscon.MainClkSelPLLOut {
				r.glitch("system PLL input switched while main clock runs from the system PLL")
			}
		}
	case syscon.RegUSBPLLClkUEN:
		if rising(old, v) {
			r.usbPLLIn = syscon.USBPLLClkSel.Get(r.regs[syscon.RegUSBPLLClkSel])
			r.usb.relock()
			if r.usbClockOnPLL() {
				r.glitch("USB PLL input switched while USB clock runs from the USB PLL")
			}
		}
	case syscon.RegMainClkUEN:
		if rising(old, v) {
			r.mainSel = syscon.MainClkSel.Get(r.regs[syscon.RegMainClkSel])
			if r.mainSel == syscon.MainClkSelPLLOut && !r.sys.locked {
				r.glitch("main clock switched to an unlocked system PLL")
			}
			if r.mainKHz() == 0 {
				r.glitch("main clock switched to a stopped source")
			}
		}
	case syscon.RegUSBClkUEN:
		if rising(old, v) {
			r.usbSel = syscon.USBClkSel.Get(r.regs[syscon.RegUSBClkSel])
			if r.usbClockOnPLL() && !r.usb.locked {
				r.glitch("USB clock switched to an unlocked USB PLL")
			}
		}
	case syscon.RegUSBClkDiv:
		if v != 0 && r.usbSel == syscon.USBClkSelUSBPLL && !r.usb.locked {
			r.glitch("USB clock enabled on an unlocked USB PLL")
		}
	case syscon.RegSysAHBClkDiv:
		if v == 0 {
			r.glitch("SYSAHBCLKDIV=0 halts the core")
		}
	}

	if khz := r.mainKHz(); khz > r.peakMain {
		r.peakMain = khz
	}
	return nil
}

func (r *Registers) powerChanged(old, v uint32) {
	down := func(f syscon.Field) bool { return f.Get(old) == 0 && f.Get(v) == 1 }
	toggled := func(f syscon.Field) bool { return f.Get(old) != f.Get(v) }

	if toggled(syscon.SysPLLPD) {
		r.sys.relock()
		if r.mainSel == syscon.MainClkSelPLLOut {
			r.glitch("system PLL power changed while main clock runs from it")
		}
	}
	if toggled(syscon.USBPLLPD) {
		r.usb.relock()
		if r.usbClockOnPLL() {
			r.glitch("USB PLL power changed while USB clock runs from it")
		}
	}
	if (down(syscon.IRCPD) || down(syscon.IRCOutPD)) && r.usesIRC() {
		r.glitch("IRC powered down while in use")
	}
	if down(syscon.SysOscPD) && r.usesSysOsc() {
		r.glitch("system oscillator powered down while in use")
	}
	if down(syscon.WDTOscPD) && r.mainSel == syscon.MainClkSelWDTOsc {
		r.glitch("watchdog oscillator powered down while in use")
	}
}

func (r *Registers) usbClockOnPLL() bool {
	return r.usbSel == syscon.USBClkSelUSBPLL && r.regs[syscon.RegUSBClkDiv] != 0
}

func (r *Registers) usesIRC() bool {
	if r.mainSel == syscon.MainClkSelIRC {
		return true
	}
	pllIn := r.mainSel == syscon.MainClkSelPLLIn || r.mainSel == syscon.MainClkSelPLLOut
	return (pllIn && r.sysPLLIn == syscon.PLLClkSelIRC) ||
		(r.usbClockOnPLL() && r.usbPLLIn == syscon.PLLClkSelIRC)
}

func (r *Registers) usesSysOsc() bool {
	pllIn := r.mainSel == syscon.MainClkSelPLLIn || r.mainSel == syscon.MainClkSelPLLOut
	return (pllIn && r.sysPLLIn == syscon.PLLClkSelSysOsc) ||
		(r.usbClockOnPLL() && r.usbPLLIn == syscon.PLLClkSelSysOsc)
}

func (r *Registers) pllPowered(f syscon.Field) bool {
	return f.Get(r.regs[syscon.RegPDRunCfg]) == 0
}

func (r *Registers) inputKHz(sel uint32) uint32 {
	pd := r.regs[syscon.RegPDRunCfg]
	switch sel {
	case syscon.PLLClkSelIRC:
		if syscon.IRCPD.Get(pd) == 0 && syscon.IRCOutPD.Get(pd) == 0 {
			return syscon.IRCKHz
		}
	case syscon.PLLClkSelSysOsc:
		if syscon.SysOscPD.Get(pd) == 0 {
			return r.opts.CrystalKHz
		}
	}
	return 0
}

func (r *Registers) wdtKHz() uint32 {
	if syscon.WDTOscPD.Get(r.regs[syscon.RegPDRunCfg]) != 0 {
		return 0
	}
	ctl := r.regs[syscon.RegWDTOscCtrl]
	analog := syscon.WDTOscAnalogKHz[syscon.WDTOscFreqSel.Get(ctl)]
	return analog / (2 * (syscon.WDTOscDivSel.Get(ctl) + 1))
}

func (r *Registers) mainSourceKHz() uint32 {
	switch r.mainSel {
	case syscon.MainClkSelIRC:
		return r.inputKHz(syscon.PLLClkSelIRC)
	case syscon.MainClkSelPLLIn:
		return r.inputKHz(r.sysPLLIn)
	case syscon.MainClkSelWDTOsc:
		return r.wdtKHz()
	default:
		if !r.sys.locked {
			return 0
		}
		m := syscon.SysPLLMSel.Get(r.regs[syscon.RegSysPLLCtrl]) + 1
		return r.inputKHz(r.sysPLLIn) * m
	}
}

func (r *Registers) mainKHz() uint32 {
	div := r.regs[syscon.RegSysAHBClkDiv]
	if div == 0 {
		return 0
	}
	return r.mainSourceKHz() / div
}

func (r *Registers) glitch(s string) { r.glitches = append(r.glitches, s) }

// MainKHz returns the main clock rate as currently latched.
func (r *Registers) MainKHz() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mainKHz()
}

// PeakMainKHz returns the highest main clock rate observed after any write.
func (r *Registers) PeakMainKHz() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peakMain
}

// MainSel returns the latched main clock multiplexer output.
func (r *Registers) MainSel() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mainSel
}

// USBSel returns the latched USB clock multiplexer output.
func (r *Registers) USBSel() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usbSel
}

// Glitches returns every unsafe transition observed so far.
func (r *Registers) Glitches() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.glitches...)
}

// Writes returns the write log.
func (r *Registers) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Write(nil), r.writes...)
}

// Peek returns a register value without side effects.
func (r *Registers) Peek(off uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch off {
	case syscon.RegSysPLLStat:
		return b2u(r.sys.locked)
	case syscon.RegUSBPLLStat:
		return b2u(r.usb.locked)
	}
	return r.regs[off]
}

func rising(old, v uint32) bool { return old&1 == 0 && v&1 == 1 }

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
