package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lpc11u-hal/clocks"
	"lpc11u-hal/errcode"
)

func newSolveCommand() *cobra.Command {
	var (
		inKHz, outKHz uint32
		divider       bool
	)
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Find PLL M and P for an exact output frequency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if inKHz == 0 || outKHz == 0 {
				return errcode.New(errcode.InvalidParams, "solve", "--in-khz and --out-khz are required")
			}
			w := cmd.OutOrStdout()
			if divider {
				p, d, ok := clocks.SolveWithDivider(inKHz, outKHz)
				if !ok {
					return errcode.New(errcode.InvalidSysPLLParams, "solve",
						fmt.Sprintf("no pll and divider reach %d kHz from %d kHz", outKHz, inKHz))
				}
				pll := outKHz * uint32(d)
				fmt.Fprintf(w, "M=%d P=%d pll=%d kHz cco=%d kHz divider=%d\n", p.M, p.P, pll, p.CCOKHz(pll), d)
				return nil
			}
			p, ok := clocks.Solve(inKHz, outKHz)
			if !ok {
				return errcode.New(errcode.InvalidSysPLLParams, "solve",
					fmt.Sprintf("no pll setting reaches %d kHz from %d kHz", outKHz, inKHz))
			}
			fmt.Fprintf(w, "M=%d P=%d cco=%d kHz\n", p.M, p.P, p.CCOKHz(outKHz))
			return nil
		},
	}
	cmd.Flags().Uint32Var(&inKHz, "in-khz", 0, "PLL input frequency in kHz")
	cmd.Flags().Uint32Var(&outKHz, "out-khz", 0, "wanted output frequency in kHz")
	cmd.Flags().BoolVar(&divider, "divider", false, "allow a 1..255 divider after the PLL")
	return cmd
}
