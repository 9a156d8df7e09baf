package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"lpc11u-hal/clocks"
	"lpc11u-hal/drivers/syscon"
	"lpc11u-hal/drivers/syscon/mmio"
	"lpc11u-hal/drivers/syscon/sim"
	"lpc11u-hal/drivers/usart"
)

// simLockPolls is how many LOCK polls the simulated PLLs need.
const simLockPolls = 3

// target is the register block a command programs.
type target struct {
	bus   syscon.Bus
	sim   *sim.Registers // nil for /dev/mem
	close func() error
}

func openTarget(mem bool, crystalKHz uint32, logger *log.Logger) (*target, error) {
	if !mem {
		r := sim.New(sim.Options{
			CrystalKHz:   crystalKHz,
			SysLockAfter: simLockPolls,
			USBLockAfter: simLockPolls,
		})
		return &target{bus: r, sim: r, close: func() error { return nil }}, nil
	}
	w, err := mmio.OpenSYSCON(logger)
	if err != nil {
		return nil, err
	}
	return &target{bus: w, close: w.Close}, nil
}

type applyFlags struct {
	mem     bool
	verbose bool
	timeout time.Duration
	baud    uint32
}

func (a *applyFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&a.mem, "mem", false, "program a SYSCON window exposed through /dev/mem (FPGA model or debug bridge) instead of the simulator")
	f.BoolVar(&a.verbose, "verbose", false, "log each sequencer stage")
	f.DurationVar(&a.timeout, "timeout", time.Second, "give up on PLL lock after this long")
	f.Uint32Var(&a.baud, "baud", 0, "also resolve the USART divisor for this baud rate")
}

func (a *applyFlags) logger(w io.Writer) *log.Logger {
	if !a.verbose {
		return nil
	}
	return log.New(w, "clockplan: ", log.Lmicroseconds)
}

func newApplyCommand() *cobra.Command {
	var (
		sf specFlags
		af applyFlags
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Program a clock tree and report what was written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := sf.build(cmd)
			if err != nil {
				return err
			}
			logger := af.logger(cmd.ErrOrStderr())
			t, err := openTarget(af.mem, cfg.CrystalKHz, logger)
			if err != nil {
				return err
			}
			defer t.close()

			cache := clocks.NewCache()
			seq := clocks.NewSequencer(syscon.New(t.bus), clocks.Options{
				Logger: logger,
				Cache:  cache,
			})
			ctx, cancel := context.WithTimeout(cmd.Context(), af.timeout)
			defer cancel()

			w := cmd.OutOrStdout()
			if err := seq.Apply(ctx, cfg); err != nil {
				fmt.Fprintf(w, "stopped after stage %s\n", seq.LastStage())
				return err
			}
			if err := report(w, t, cache); err != nil {
				return err
			}
			if af.baud != 0 {
				d, err := usart.ForBaud(cache, af.baud)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "usart: %s\n", d)
			}
			return nil
		},
	}
	sf.register(cmd)
	af.register(cmd)
	return cmd
}

// report prints the applied frequencies and the register state behind them.
func report(w io.Writer, t *target, cache *clocks.Cache) error {
	if err := printFrequencies(w, cache.Snapshot()); err != nil {
		return err
	}
	fmt.Fprintln(w)

	if t.sim != nil {
		for i, wr := range t.sim.Writes() {
			fmt.Fprintf(w, "%3d  %s\n", i, wr)
		}
		if g := t.sim.Glitches(); len(g) > 0 {
			return fmt.Errorf("clock glitches: %v", g)
		}
		return nil
	}
	regs, err := syscon.New(t.bus).Dump()
	if err != nil {
		return err
	}
	for _, r := range regs {
		fmt.Fprintf(w, "0x%03X  %-14s 0x%08X\n", r.Offset, r.Name, r.Value)
	}
	return nil
}
