package clocks

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"lpc11u-hal/drivers/syscon"
	"lpc11u-hal/errcode"
	"lpc11u-hal/x/mathx"
)

// Registers is the field-level access the sequencer needs. *syscon.Device
// implements it over any syscon.Bus.
type Registers interface {
	ReadField(f syscon.Field) (uint32, error)
	WriteField(f syscon.Field, v uint32) error
}

var _ Registers = (*syscon.Device)(nil)

// Stage is how far an apply got. Stages only move forward.
type Stage uint32

const (
	StageOscillatorsOff Stage = iota
	StageOscillatorsStable
	StageSystemPLLLocked
	StageMainClockSwitched
	StageUSBPLLLocked
	StagePeripheralDividersProgrammed
	StageApplied
)

var stageNames = [...]string{
	StageOscillatorsOff:               "oscillators_off",
	StageOscillatorsStable:            "oscillators_stable",
	StageSystemPLLLocked:              "sys_pll_locked",
	StageMainClockSwitched:            "main_clock_switched",
	StageUSBPLLLocked:                 "usb_pll_locked",
	StagePeripheralDividersProgrammed: "peripheral_dividers_programmed",
	StageApplied:                      "applied",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

const (
	DefaultLockPolls  = 1000
	DefaultOscStartup = 500 * time.Microsecond
)

// Options tunes a Sequencer. The zero value is usable.
type Options struct {
	// LockPolls bounds the LOCK reads per PLL before giving up.
	LockPolls int
	// OscStartup is waited after powering up an oscillator that was off.
	OscStartup time.Duration
	// Sleep implements the startup wait; time.Sleep when nil.
	Sleep func(time.Duration)
	// Logger gets one line per stage. nil is silent.
	Logger *log.Logger
	// Cache receives the frequencies of every successful apply.
	Cache *Cache
}

// Sequencer programs a validated Config into the clock registers.
type Sequencer struct {
	regs  Registers
	opts  Options
	mu    sync.Mutex // one apply at a time
	stage atomic.Uint32
}

// NewSequencer returns a Sequencer driving regs.
func NewSequencer(regs Registers, opts Options) *Sequencer {
	if opts.LockPolls <= 0 {
		opts.LockPolls = DefaultLockPolls
	}
	if opts.OscStartup == 0 {
		opts.OscStartup = DefaultOscStartup
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Sequencer{regs: regs, opts: opts}
}

// Cache returns the cache the sequencer publishes to, or nil.
func (s *Sequencer) Cache() *Cache { return s.opts.Cache }

// LastStage returns the last stage the most recent apply completed.
func (s *Sequencer) LastStage() Stage { return Stage(s.stage.Load()) }

// Apply validates cfg and then programs it. An invalid cfg touches no
// register. A failure stops the sequence where it is, with no rollback;
// calling Apply again with the same or a simpler Config is safe. The cache is
// only updated when every stage succeeded.
//
// Apply blocks for oscillator startup and PLL lock polling and must not be
// called from a context that cannot tolerate that.
func (s *Sequencer) Apply(ctx context.Context, cfg Config) error {
	freqs, err := cfg.Frequencies()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage.Store(uint32(StageOscillatorsOff))

	steps := [...]struct {
		done Stage
		run  func(context.Context, Config) error
	}{
		{StageOscillatorsStable, s.startOscillators},
		{StageSystemPLLLocked, s.lockSystemPLL},
		{StageMainClockSwitched, s.switchMainClock},
		{StageUSBPLLLocked, s.switchUSBClock},
		{StagePeripheralDividersProgrammed, s.programPeripherals},
		{StageApplied, s.powerDownUnused},
	}
	for _, st := range steps {
		if err := st.run(ctx, cfg); err != nil {
			s.logf("clocks: apply failed after %s: %v", s.LastStage(), err)
			return fmt.Errorf("clocks: apply: %w", err)
		}
		if st.done == StageApplied && s.opts.Cache != nil {
			s.opts.Cache.publish(freqs)
		}
		s.stage.Store(uint32(st.done))
		s.logf("clocks: %s", st.done)
	}
	return nil
}

func (s *Sequencer) logf(format string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Printf(format, args...)
	}
}

// ensure writes v to f unless it already holds v, and reports whether it wrote.
func (s *Sequencer) ensure(f syscon.Field, v uint32) (bool, error) {
	cur, err := s.regs.ReadField(f)
	if err != nil {
		return false, err
	}
	if cur == v {
		return false, nil
	}
	return true, s.regs.WriteField(f, v)
}

// selectSource writes a multiplexer and latches it with a 0 then 1 on its
// update-enable field.
func (s *Sequencer) selectSource(sel, uen syscon.Field, v uint32) error {
	if err := s.regs.WriteField(sel, v); err != nil {
		return err
	}
	if err := s.regs.WriteField(uen, 0); err != nil {
		return err
	}
	return s.regs.WriteField(uen, 1)
}

func (s *Sequencer) startOscillators(ctx context.Context, cfg Config) error {
	var started bool
	powerUp := func(pd syscon.Field) error {
		wrote, err := s.ensure(pd, 0)
		started = started || wrote
		return err
	}
	settle := func() error {
		if !started {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errcode.Wrap(errcode.Timeout, "clocks.Apply", err)
		}
		s.opts.Sleep(s.opts.OscStartup)
		started = false
		return nil
	}

	// The IRC stays up until the end: it is where the main clock parks.
	if err := powerUp(syscon.IRCOutPD); err != nil {
		return err
	}
	if err := powerUp(syscon.IRCPD); err != nil {
		return err
	}

	if khz, ok := cfg.SysOscKHz(); ok {
		if _, err := s.ensure(syscon.SysOscBypass, 0); err != nil {
			return err
		}
		if _, err := s.ensure(syscon.SysOscFreqRange, syscon.FreqRangeFor(khz)); err != nil {
			return err
		}
		if err := powerUp(syscon.SysOscPD); err != nil {
			return err
		}
	}

	if w := cfg.WDOsc; w != nil {
		freqSel, _ := wdtFreqSel(w.AnalogKHz)
		divSel := uint32(w.Divider)/2 - 1
		changed, err := s.differs(
			fieldValue{syscon.WDTOscFreqSel, freqSel},
			fieldValue{syscon.WDTOscDivSel, divSel},
		)
		if err != nil {
			return err
		}
		if changed {
			on, err := s.mainClockOn(syscon.MainClkSelWDTOsc)
			if err != nil {
				return err
			}
			if on {
				// Parking needs a stable IRC.
				if err := settle(); err != nil {
					return err
				}
				if err := s.parkMainClock(cfg); err != nil {
					return err
				}
			}
		}
		if _, err := s.ensure(syscon.WDTOscFreqSel, freqSel); err != nil {
			return err
		}
		if _, err := s.ensure(syscon.WDTOscDivSel, divSel); err != nil {
			return err
		}
		if err := powerUp(syscon.WDTOscPD); err != nil {
			return err
		}
	}

	return settle()
}

type fieldValue struct {
	f syscon.Field
	v uint32
}

// differs reports whether any field does not hold its wanted value yet.
func (s *Sequencer) differs(want ...fieldValue) (bool, error) {
	for _, fv := range want {
		cur, err := s.regs.ReadField(fv.f)
		if err != nil {
			return false, err
		}
		if cur != fv.v {
			return true, nil
		}
	}
	return false, nil
}

// mainClockOn reports whether the main clock multiplexer selects one of sels.
func (s *Sequencer) mainClockOn(sels ...uint32) (bool, error) {
	cur, err := s.regs.ReadField(syscon.MainClkSel)
	if err != nil {
		return false, err
	}
	for _, sel := range sels {
		if cur == sel {
			return true, nil
		}
	}
	return false, nil
}

// parkMainClock moves the main clock onto the IRC while its source changes.
// The divider is raised first so that the parked rate stays at or below the
// rate cfg asks for.
func (s *Sequencer) parkMainClock(cfg Config) error {
	cur, err := s.regs.ReadField(syscon.SysAHBClkDiv)
	if err != nil {
		return err
	}
	div := cur
	if target, ok := cfg.MainClkKHz(); ok {
		div = max(div, mathx.CeilDiv(uint32(syscon.IRCKHz), target))
	}
	div = min(div, MaxDivider)
	if div != cur {
		if err := s.regs.WriteField(syscon.SysAHBClkDiv, div); err != nil {
			return err
		}
	}
	s.logf("clocks: main clock parked on irc at /%d", div)
	return s.selectSource(syscon.MainClkSel, syscon.MainClkUEN, syscon.MainClkSelIRC)
}

type pllFields struct {
	msel, psel, pd, lock syscon.Field
	timeout              errcode.Code
}

var (
	sysPLLFields = pllFields{syscon.SysPLLMSel, syscon.SysPLLPSel, syscon.SysPLLPD, syscon.SysPLLLock, errcode.SysPLLLockTimeout}
	usbPLLFields = pllFields{syscon.USBPLLMSel, syscon.USBPLLPSel, syscon.USBPLLPD, syscon.USBPLLLock, errcode.USBPLLLockTimeout}
)

// pllDiffers reports whether M, P or the power state of the PLL still have
// to change for p. The lock bit is not part of it: an unchanged PLL is only
// polled.
func (s *Sequencer) pllDiffers(p *PLLConfig, f pllFields) (bool, error) {
	psel, _ := pselOf(p.P)
	return s.differs(
		fieldValue{f.msel, uint32(p.M) - 1},
		fieldValue{f.psel, psel},
		fieldValue{f.pd, 0},
	)
}

// lockPLL programs M and P where they differ, powers the PLL and polls LOCK
// at most LockPolls times.
func (s *Sequencer) lockPLL(ctx context.Context, p *PLLConfig, f pllFields) error {
	const op = "clocks.Apply"
	psel, _ := pselOf(p.P)
	if _, err := s.ensure(f.msel, uint32(p.M)-1); err != nil {
		return err
	}
	if _, err := s.ensure(f.psel, psel); err != nil {
		return err
	}
	if _, err := s.ensure(f.pd, 0); err != nil {
		return err
	}
	for i := 0; i < s.opts.LockPolls; i++ {
		if err := ctx.Err(); err != nil {
			return &errcode.E{C: f.timeout, Op: op, Msg: "lock wait abandoned", Err: err}
		}
		v, err := s.regs.ReadField(f.lock)
		if err != nil {
			return err
		}
		if v == 1 {
			return nil
		}
	}
	return errcode.New(f.timeout, op, fmt.Sprintf("%s not set after %d polls", f.lock, s.opts.LockPolls))
}

// lockSystemPLL brings the system PLL input mux and the PLL to cfg. The main
// clock is parked only when something it currently runs from changes: the
// input mux under PLL_IN or PLL_OUT, or M, P or power under PLL_OUT. An
// unchanged PLL is only polled, so a repeated apply does not move the main
// clock and a lock timeout leaves it where it was.
func (s *Sequencer) lockSystemPLL(ctx context.Context, cfg Config) error {
	// A crystal main clock is taken from the system PLL input mux, so that
	// mux is programmed even without a system PLL.
	if cfg.SysPLL == nil && cfg.MainClk.Source != MainSourceSysOsc {
		return nil
	}
	src := uint32(PLLSourceSysOsc)
	if cfg.SysPLL != nil {
		src = uint32(cfg.SysPLL.Source)
	}
	muxChange, err := s.differs(fieldValue{syscon.SysPLLClkSel, src})
	if err != nil {
		return err
	}
	pllChange := false
	if cfg.SysPLL != nil && !muxChange {
		if pllChange, err = s.pllDiffers(cfg.SysPLL, sysPLLFields); err != nil {
			return err
		}
	}

	var park bool
	switch {
	case muxChange:
		park, err = s.mainClockOn(syscon.MainClkSelPLLIn, syscon.MainClkSelPLLOut)
	case pllChange:
		park, err = s.mainClockOn(syscon.MainClkSelPLLOut)
	}
	if err != nil {
		return err
	}
	if park {
		if err := s.parkMainClock(cfg); err != nil {
			return err
		}
	}

	if muxChange {
		if err := s.selectSource(syscon.SysPLLClkSel, syscon.SysPLLClkUEN, src); err != nil {
			return err
		}
	}
	if cfg.SysPLL == nil {
		return nil
	}
	return s.lockPLL(ctx, cfg.SysPLL, sysPLLFields)
}

func (s *Sequencer) switchMainClock(_ context.Context, cfg Config) error {
	cur, err := s.regs.ReadField(syscon.SysAHBClkDiv)
	if err != nil {
		return err
	}
	// A larger divider goes in before the switch and a smaller one after it,
	// so the main clock never runs faster than the old or the new setting.
	div := uint32(cfg.MainClk.Divider)
	if div > cur {
		if err := s.regs.WriteField(syscon.SysAHBClkDiv, div); err != nil {
			return err
		}
	}
	changed, err := s.differs(fieldValue{syscon.MainClkSel, uint32(cfg.MainClk.Source)})
	if err != nil {
		return err
	}
	if changed {
		if err := s.selectSource(syscon.MainClkSel, syscon.MainClkUEN, uint32(cfg.MainClk.Source)); err != nil {
			return err
		}
	}
	if div < cur {
		return s.regs.WriteField(syscon.SysAHBClkDiv, div)
	}
	return nil
}

func (s *Sequencer) switchUSBClock(ctx context.Context, cfg Config) error {
	// USBCLKDIV=0 stops the USB clock while the PLL or mux behind it changes.
	if _, err := s.ensure(syscon.USBClkDiv, 0); err != nil {
		return err
	}
	if p := cfg.USBPLL; p != nil {
		if err := s.selectSource(syscon.USBPLLClkSel, syscon.USBPLLClkUEN, uint32(p.Source)); err != nil {
			return err
		}
		if err := s.lockPLL(ctx, p, usbPLLFields); err != nil {
			return err
		}
	}
	if cfg.USBClk == nil {
		return nil
	}
	if err := s.selectSource(syscon.USBClkSel, syscon.USBClkUEN, uint32(cfg.USBClk.Source)); err != nil {
		return err
	}
	return s.regs.WriteField(syscon.USBClkDiv, uint32(cfg.USBClk.Divider))
}

func (s *Sequencer) programPeripherals(_ context.Context, cfg Config) error {
	for _, d := range [...]struct {
		f   syscon.Field
		div uint8
	}{
		{syscon.SSP0ClkDiv, cfg.SSP0Divider},
		{syscon.SSP1ClkDiv, cfg.SSP1Divider},
		{syscon.UARTClkDiv, cfg.USARTDivider},
	} {
		if _, err := s.ensure(d.f, uint32(d.div)); err != nil {
			return err
		}
	}
	return nil
}

// powerDownUnused turns off every PLL and oscillator cfg does not use. By now
// nothing is clocked from them.
func (s *Sequencer) powerDownUnused(_ context.Context, cfg Config) error {
	var off []syscon.Field
	if cfg.SysPLL == nil {
		off = append(off, syscon.SysPLLPD)
	}
	if cfg.USBPLL == nil {
		off = append(off, syscon.USBPLLPD)
	}
	if cfg.WDOsc == nil {
		off = append(off, syscon.WDTOscPD)
	}
	if cfg.CrystalKHz == 0 {
		off = append(off, syscon.SysOscPD)
	}
	if !cfg.IRC {
		off = append(off, syscon.IRCOutPD, syscon.IRCPD)
	}
	for _, f := range off {
		if _, err := s.ensure(f, 1); err != nil {
			return err
		}
	}
	return nil
}
