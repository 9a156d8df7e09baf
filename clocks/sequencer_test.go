package clocks

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"lpc11u-hal/drivers/syscon"
	"lpc11u-hal/drivers/syscon/sim"
	"lpc11u-hal/errcode"
)

var _ = Describe("Sequencer", func() {
	var (
		ctx    context.Context
		regs   *sim.Registers
		cache  *Cache
		sleeps []time.Duration
		seq    *Sequencer
	)

	build := func(o sim.Options, lockPolls int) {
		regs = sim.New(o)
		cache = NewCache()
		sleeps = nil
		seq = NewSequencer(syscon.New(regs), Options{
			LockPolls: lockPolls,
			Cache:     cache,
			Sleep:     func(d time.Duration) { sleeps = append(sleeps, d) },
		})
	}

	BeforeEach(func() {
		ctx = context.Background()
		build(sim.Options{CrystalKHz: 12_000, SysLockAfter: 3, USBLockAfter: 5}, 0)
	})

	It("should run the main clock from a locked system PLL", func() {
		Expect(seq.Apply(ctx, IRC48MHz())).To(Succeed())

		Expect(regs.MainKHz()).To(Equal(uint32(48_000)))
		Expect(regs.MainSel()).To(Equal(uint32(syscon.MainClkSelPLLOut)))
		Expect(regs.Glitches()).To(BeEmpty())
		Expect(seq.LastStage()).To(Equal(StageApplied))
		Expect(sleeps).To(BeEmpty(), "the irc is already running")

		khz, ok := cache.KHz(NodeMainClk)
		Expect(ok).To(BeTrue())
		Expect(khz).To(Equal(uint32(48_000)))
	})

	It("should fail on lock timeout without touching the main clock", func() {
		build(sim.Options{SysLockAfter: sim.NeverLock}, 0)

		err := seq.Apply(ctx, IRC48MHz())
		Expect(errcode.Of(err)).To(Equal(errcode.SysPLLLockTimeout))
		Expect(regs.MainSel()).To(Equal(uint32(syscon.MainClkSelIRC)))
		Expect(regs.MainKHz()).To(Equal(uint32(12_000)))
		Expect(regs.Glitches()).To(BeEmpty())
		Expect(seq.LastStage()).To(Equal(StageOscillatorsStable))

		_, ok := cache.KHz(NodeMainClk)
		Expect(ok).To(BeFalse(), "nothing is published on failure")
	})

	It("should bound lock polling by LockPolls", func() {
		build(sim.Options{SysLockAfter: 10}, 5)
		Expect(errcode.Of(seq.Apply(ctx, IRC48MHz()))).To(Equal(errcode.SysPLLLockTimeout))

		build(sim.Options{SysLockAfter: 10}, 11)
		Expect(seq.Apply(ctx, IRC48MHz())).To(Succeed())
	})

	It("should report USB PLL lock timeouts separately", func() {
		build(sim.Options{CrystalKHz: 12_000, USBLockAfter: sim.NeverLock}, 0)

		err := seq.Apply(ctx, MustConfig(CrystalOscillator(12_000).EnableUSBFullSpeed()))
		Expect(errcode.Of(err)).To(Equal(errcode.USBPLLLockTimeout))
		Expect(seq.LastStage()).To(Equal(StageMainClockSwitched))
		Expect(regs.Glitches()).To(BeEmpty())
	})

	It("should abandon lock polling when the context ends", func() {
		build(sim.Options{SysLockAfter: sim.NeverLock}, 0)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := seq.Apply(cctx, IRC48MHz())
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(errcode.Of(err)).To(Equal(errcode.SysPLLLockTimeout))
	})

	It("should never raise the main clock above the old or new rate", func() {
		Expect(seq.Apply(ctx, MustConfig(IRC48MHz().WithMainDivider(4)))).To(Succeed())
		Expect(regs.MainKHz()).To(Equal(uint32(12_000)))
		Expect(regs.PeakMainKHz()).To(Equal(uint32(12_000)))

		Expect(seq.Apply(ctx, IRC12MHz())).To(Succeed())
		Expect(regs.MainKHz()).To(Equal(uint32(12_000)))
		Expect(regs.PeakMainKHz()).To(Equal(uint32(12_000)))
		Expect(regs.Glitches()).To(BeEmpty())
		Expect(syscon.SysPLLPD.Get(regs.Peek(syscon.RegPDRunCfg))).To(Equal(uint32(1)))
	})

	It("should park on the irc before reprogramming a running PLL", func() {
		Expect(seq.Apply(ctx, IRC48MHz())).To(Succeed())
		n := len(regs.Writes())

		Expect(seq.Apply(ctx, IRC24MHz())).To(Succeed())
		Expect(regs.MainKHz()).To(Equal(uint32(24_000)))
		Expect(regs.Glitches()).To(BeEmpty())

		park, ctrl := -1, -1
		for i, w := range regs.Writes()[n:] {
			if park < 0 && w.Off == syscon.RegMainClkSel && syscon.MainClkSel.Get(w.Value) == syscon.MainClkSelIRC {
				park = i
			}
			if ctrl < 0 && w.Off == syscon.RegSysPLLCtrl {
				ctrl = i
			}
		}
		Expect(park).To(BeNumerically(">=", 0))
		Expect(park).To(BeNumerically("<", ctrl))
	})

	mainClkWrites := func(ws []sim.Write) int {
		n := 0
		for _, w := range ws {
			if w.Off == syscon.RegMainClkSel {
				n++
			}
		}
		return n
	}

	It("should leave a running system PLL alone when its lock is lost", func() {
		Expect(seq.Apply(ctx, IRC48MHz())).To(Succeed())
		n := len(regs.Writes())
		regs.LoseSysPLLLock(sim.NeverLock)

		err := seq.Apply(ctx, IRC48MHz())
		Expect(errcode.Of(err)).To(Equal(errcode.SysPLLLockTimeout))
		Expect(regs.MainSel()).To(Equal(uint32(syscon.MainClkSelPLLOut)))
		Expect(mainClkWrites(regs.Writes()[n:])).To(BeZero())
		Expect(regs.Glitches()).To(BeEmpty())
	})

	It("should keep a crystal main clock when the new system PLL does not lock", func() {
		build(sim.Options{CrystalKHz: 12_000, SysLockAfter: sim.NeverLock}, 0)
		Expect(seq.Apply(ctx, CrystalOscillator(12_000))).To(Succeed())
		n := len(regs.Writes())

		err := seq.Apply(ctx, MustConfig(CrystalPLL(12_000, 48_000)))
		Expect(errcode.Of(err)).To(Equal(errcode.SysPLLLockTimeout))
		Expect(regs.MainSel()).To(Equal(uint32(syscon.MainClkSelPLLIn)))
		Expect(regs.MainKHz()).To(Equal(uint32(12_000)))
		Expect(mainClkWrites(regs.Writes()[n:])).To(BeZero())
		Expect(regs.Glitches()).To(BeEmpty())
	})

	It("should not move the main clock when a slow crystal config is applied again", func() {
		build(sim.Options{CrystalKHz: 4_000}, 0)
		cfg := CrystalOscillator(4_000)
		Expect(seq.Apply(ctx, cfg)).To(Succeed())
		Expect(regs.MainKHz()).To(Equal(uint32(4_000)))
		n := len(regs.Writes())
		regs.ResetPeak()

		Expect(seq.Apply(ctx, cfg)).To(Succeed())
		Expect(regs.PeakMainKHz()).To(Equal(uint32(4_000)))
		Expect(mainClkWrites(regs.Writes()[n:])).To(BeZero())
		Expect(regs.Glitches()).To(BeEmpty())
	})

	It("should park on a divided irc before retuning the watchdog oscillator", func() {
		Expect(seq.Apply(ctx, MustConfig(WatchdogOscillator(2_400, 2)))).To(Succeed())
		Expect(regs.MainKHz()).To(Equal(uint32(1_200)))
		n := len(regs.Writes())
		regs.ResetPeak()

		Expect(seq.Apply(ctx, MustConfig(WatchdogOscillator(2_400, 4)))).To(Succeed())
		Expect(regs.MainSel()).To(Equal(uint32(syscon.MainClkSelWDTOsc)))
		Expect(regs.MainKHz()).To(Equal(uint32(600)))
		Expect(regs.PeakMainKHz()).To(Equal(uint32(1_200)))
		Expect(regs.Glitches()).To(BeEmpty())

		park, ctrl := -1, -1
		for i, w := range regs.Writes()[n:] {
			if park < 0 && w.Off == syscon.RegMainClkSel && syscon.MainClkSel.Get(w.Value) == syscon.MainClkSelIRC {
				park = i
			}
			if ctrl < 0 && w.Off == syscon.RegWDTOscCtrl {
				ctrl = i
			}
		}
		Expect(park).To(BeNumerically(">=", 0))
		Expect(park).To(BeNumerically("<", ctrl))
		Expect(regs.Peek(syscon.RegSysAHBClkDiv)).To(Equal(uint32(1)))
	})

	It("should drive USB from the crystal through the USB PLL", func() {
		Expect(seq.Apply(ctx, MustConfig(CrystalOscillator(12_000).EnableUSBFullSpeed()))).To(Succeed())

		Expect(regs.Glitches()).To(BeEmpty())
		Expect(regs.MainKHz()).To(Equal(uint32(12_000)))
		Expect(regs.USBSel()).To(Equal(uint32(syscon.USBClkSelUSBPLL)))
		Expect(regs.Peek(syscon.RegUSBClkDiv)).To(Equal(uint32(1)))
		Expect(sleeps).To(Equal([]time.Duration{DefaultOscStartup}))

		pd := regs.Peek(syscon.RegPDRunCfg)
		Expect(syscon.IRCPD.Get(pd)).To(Equal(uint32(1)), "irc is not configured")
		Expect(syscon.SysOscPD.Get(pd)).To(BeZero())
		Expect(syscon.USBPLLPD.Get(pd)).To(BeZero())

		khz, ok := cache.KHz(NodeUSBClk)
		Expect(ok).To(BeTrue())
		Expect(khz).To(Equal(uint32(USBFullSpeedKHz)))
	})

	It("should be glitch free when the same config is applied twice", func() {
		cfg := MustConfig(CrystalOscillator(12_000).EnableUSBFullSpeed())
		Expect(seq.Apply(ctx, cfg)).To(Succeed())
		first := cache.Snapshot()
		Expect(seq.Apply(ctx, cfg)).To(Succeed())

		Expect(regs.Glitches()).To(BeEmpty())
		Expect(cache.Snapshot()).To(Equal(first))
	})

	It("should run from the watchdog oscillator", func() {
		Expect(seq.Apply(ctx, MustConfig(WatchdogOscillator(2_400, 2)))).To(Succeed())

		Expect(regs.MainSel()).To(Equal(uint32(syscon.MainClkSelWDTOsc)))
		Expect(regs.MainKHz()).To(Equal(uint32(1_200)))
		Expect(sleeps).To(HaveLen(1))
		Expect(regs.Glitches()).To(BeEmpty())
	})

	It("should program peripheral dividers", func() {
		cfg := MustConfig(MustConfig(IRC48MHz().EnablePeripheral(NodeUSART, 12_000)).EnablePeripheral(NodeSSP1, 24_000))
		Expect(seq.Apply(ctx, cfg)).To(Succeed())

		Expect(regs.Peek(syscon.RegUARTClkDiv)).To(Equal(uint32(4)))
		Expect(regs.Peek(syscon.RegSSP1ClkDiv)).To(Equal(uint32(2)))
		Expect(regs.Peek(syscon.RegSSP0ClkDiv)).To(BeZero())

		khz, _ := cache.KHz(NodeUSART)
		Expect(khz).To(Equal(uint32(12_000)))
	})

	It("should not touch registers for an invalid config", func() {
		err := seq.Apply(ctx, Config{})
		Expect(errcode.Of(err)).To(Equal(errcode.SysClkOutOfRange))
		Expect(regs.Writes()).To(BeEmpty())
		Expect(seq.LastStage()).To(Equal(StageOscillatorsOff))
	})

	It("should propagate register errors", func() {
		boom := errors.New("bus fault")
		regs.InjectError(syscon.RegMainClkSel, boom)

		err := seq.Apply(ctx, IRC48MHz())
		Expect(err).To(MatchError(boom))
	})
})

type access struct {
	write bool
	f     syscon.Field
	v     uint32
}

func read(f syscon.Field) access            { return access{f: f} }
func write(f syscon.Field, v uint32) access { return access{write: true, f: f, v: v} }

var _ = Describe("Sequencer register order", func() {
	var (
		mockCtrl *gomock.Controller
		regs     *MockRegisters
		fields   map[syscon.Field]uint32
		log      []access
		seq      *Sequencer
	)

	indexOf := func(want access) int {
		for i, a := range log {
			if a == want {
				return i
			}
		}
		return -1
	}

	expectBefore := func(a, b access) {
		ia, ib := indexOf(a), indexOf(b)
		ExpectWithOffset(1, ia).To(BeNumerically(">=", 0), "%+v never happened", a)
		ExpectWithOffset(1, ib).To(BeNumerically(">=", 0), "%+v never happened", b)
		ExpectWithOffset(1, ia).To(BeNumerically("<", ib), "%+v must come before %+v", a, b)
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		regs = NewMockRegisters(mockCtrl)
		fields = map[syscon.Field]uint32{
			syscon.SysOscPD:     1,
			syscon.WDTOscPD:     1,
			syscon.SysPLLPD:     1,
			syscon.USBPLLPD:     1,
			syscon.SysAHBClkDiv: 1,
			syscon.USBClkDiv:    1,
			syscon.SysPLLLock:   1,
			syscon.USBPLLLock:   1,
		}
		log = nil

		regs.EXPECT().ReadField(gomock.Any()).DoAndReturn(func(f syscon.Field) (uint32, error) {
			log = append(log, read(f))
			return fields[f], nil
		}).AnyTimes()
		regs.EXPECT().WriteField(gomock.Any(), gomock.Any()).DoAndReturn(func(f syscon.Field, v uint32) error {
			log = append(log, write(f, v))
			fields[f] = v
			return nil
		}).AnyTimes()

		seq = NewSequencer(regs, Options{Sleep: func(time.Duration) {}})
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should switch the main clock only after lock", func() {
		Expect(seq.Apply(context.Background(), IRC48MHz())).To(Succeed())

		expectBefore(write(syscon.SysPLLMSel, 3), write(syscon.SysPLLPD, 0))
		expectBefore(write(syscon.SysPLLPD, 0), read(syscon.SysPLLLock))
		expectBefore(read(syscon.SysPLLLock), write(syscon.MainClkSel, syscon.MainClkSelPLLOut))
	})

	It("should latch every mux with a rising update enable", func() {
		Expect(seq.Apply(context.Background(), IRC48MHz())).To(Succeed())

		i := indexOf(write(syscon.MainClkSel, syscon.MainClkSelPLLOut))
		Expect(i).To(BeNumerically(">=", 0))
		Expect(log[i+1:i+3]).To(Equal([]access{
			write(syscon.MainClkUEN, 0),
			write(syscon.MainClkUEN, 1),
		}))
	})

	It("should write a larger main divider before the source switch", func() {
		Expect(seq.Apply(context.Background(), MustConfig(IRC48MHz().WithMainDivider(4)))).To(Succeed())
		expectBefore(write(syscon.SysAHBClkDiv, 4), write(syscon.MainClkSel, syscon.MainClkSelPLLOut))
	})

	It("should write a smaller main divider after the source switch", func() {
		fields[syscon.SysAHBClkDiv] = 4
		Expect(seq.Apply(context.Background(), IRC48MHz())).To(Succeed())
		expectBefore(write(syscon.MainClkSel, syscon.MainClkSelPLLOut), write(syscon.SysAHBClkDiv, 1))
	})

	It("should stop the USB clock while the USB PLL changes", func() {
		cfg := MustConfig(CrystalOscillator(12_000).EnableUSBFullSpeed())
		Expect(seq.Apply(context.Background(), cfg)).To(Succeed())

		expectBefore(write(syscon.USBClkDiv, 0), write(syscon.USBPLLMSel, 3))
		expectBefore(read(syscon.USBPLLLock), write(syscon.USBClkDiv, 1))
	})

	It("should program peripheral dividers last", func() {
		cfg := MustConfig(IRC48MHz().EnablePeripheral(NodeSSP0, 8_000))
		Expect(seq.Apply(context.Background(), cfg)).To(Succeed())

		expectBefore(write(syscon.MainClkSel, syscon.MainClkSelPLLOut), write(syscon.SSP0ClkDiv, 6))
		expectBefore(write(syscon.USBClkDiv, 0), write(syscon.SSP0ClkDiv, 6))
	})

	It("should power down what the config does not use", func() {
		fields[syscon.WDTOscPD] = 0
		fields[syscon.USBPLLPD] = 0
		Expect(seq.Apply(context.Background(), IRC12MHz())).To(Succeed())

		Expect(fields[syscon.WDTOscPD]).To(Equal(uint32(1)))
		Expect(fields[syscon.USBPLLPD]).To(Equal(uint32(1)))
		Expect(fields[syscon.IRCPD]).To(BeZero())
		expectBefore(write(syscon.USBClkDiv, 0), write(syscon.USBPLLPD, 1))
	})
})

var _ = Describe("Sequencer validation", func() {
	It("should reject an invalid config before any register access", func() {
		mockCtrl := gomock.NewController(GinkgoT())
		defer mockCtrl.Finish()
		seq := NewSequencer(NewMockRegisters(mockCtrl), Options{})

		cfg := IRC12MHz()
		cfg.SysPLL = &PLLConfig{Source: PLLSourceIRC, M: 4, P: 8}
		err := seq.Apply(context.Background(), cfg)
		Expect(errcode.Of(err)).To(Equal(errcode.InvalidSysPLLParams))
	})
})
