package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lpc11u-hal/clocks"
)

func newPlanCommand() *cobra.Command {
	var sf specFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Derive a clock tree without touching hardware",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, f, err := sf.build(cmd)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), cfg, f)
		},
	}
	sf.register(cmd)
	return cmd
}

func printPlan(w io.Writer, cfg clocks.Config, f clocks.Frequencies) error {
	fmt.Fprintf(w, "main clock: %s / %d\n", cfg.MainClk.Source, cfg.MainClk.Divider)
	if p := cfg.SysPLL; p != nil {
		out, _ := f.KHz(clocks.NodeSysPLL)
		fmt.Fprintf(w, "sys pll:    %s x%d, P=%d, cco %d kHz\n", p.Source, p.M, p.P, clocks.PLLParams{M: p.M, P: p.P}.CCOKHz(out))
	}
	if p := cfg.USBPLL; p != nil {
		out, _ := f.KHz(clocks.NodeUSBPLL)
		fmt.Fprintf(w, "usb pll:    %s x%d, P=%d, cco %d kHz\n", p.Source, p.M, p.P, clocks.PLLParams{M: p.M, P: p.P}.CCOKHz(out))
	}
	if u := cfg.USBClk; u != nil {
		fmt.Fprintf(w, "usb clock:  %s / %d\n", u.Source, u.Divider)
	}
	fmt.Fprintln(w)
	return printFrequencies(w, f)
}

func printFrequencies(w io.Writer, f clocks.Frequencies) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tKHZ")
	for n := clocks.Node(0); n < clocks.NumNodes; n++ {
		if khz, ok := f.KHz(n); ok {
			fmt.Fprintf(tw, "%s\t%d\n", n, khz)
		} else {
			fmt.Fprintf(tw, "%s\t-\n", n)
		}
	}
	return tw.Flush()
}
