package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"lpc11u-hal/bus"
	"lpc11u-hal/clocks"
	"lpc11u-hal/drivers/syscon"
	"lpc11u-hal/services/clocksvc"
	"lpc11u-hal/services/config"
)

func newRunCommand() *cobra.Command {
	var (
		af       applyFlags
		device   string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the clock service against an embedded board config",
		Long: `run starts the message bus, publishes the embedded configuration ` +
			`of --device and lets the clock service apply it, printing every ` +
			`clocks/ and usart/ message until interrupted or --for elapses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if device == "" {
				return errors.New("--device is required, one of " + strings.Join(config.Devices(), ", "))
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return runService(ctx, cmd.OutOrStdout(), device, af.mem, af.logger(cmd.ErrOrStderr()))
		},
	}
	af.register(cmd)
	cmd.Flags().StringVar(&device, "device", "", "embedded board config to publish")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long, 0 runs until interrupted")
	return cmd
}

func runService(ctx context.Context, w io.Writer, device string, mem bool, logger *log.Logger) error {
	b := bus.NewBus(16)
	mon := b.NewConnection("monitor")

	// The simulator needs the board's crystal before the first apply.
	crystal, err := boardCrystalKHz(device)
	if err != nil {
		return err
	}
	t, err := openTarget(mem, crystal, logger)
	if err != nil {
		return err
	}
	defer t.close()

	var wg sync.WaitGroup
	for _, topic := range []bus.Topic{bus.T("clocks", bus.MultiLevel), bus.T("usart", bus.MultiLevel)} {
		sub := mon.Subscribe(topic)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range sub.Channel() {
				printMessage(w, m)
			}
		}()
	}

	seq := clocks.NewSequencer(syscon.New(t.bus), clocks.Options{
		Logger: logger,
		Cache:  clocks.NewCache(),
	})
	svc := clocksvc.New(b.NewConnection("clocks"), seq, clocksvc.Options{Logger: logger})
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx)
	}()

	cs := config.NewConfigService()
	cs.Logger = logger
	cs.Start(config.WithDevice(ctx, device), b.NewConnection("config"))

	<-done
	mon.Disconnect()
	wg.Wait()
	return nil
}

var printMu sync.Mutex

func printMessage(w io.Writer, m *bus.Message) {
	printMu.Lock()
	defer printMu.Unlock()
	if m.Payload == nil {
		fmt.Fprintf(w, "%s cleared\n", m.Topic)
		return
	}
	fmt.Fprintf(w, "%s %v\n", m.Topic, m.Payload)
}

func boardCrystalKHz(device string) (uint32, error) {
	raw, ok := config.EmbeddedConfigLookup(device)
	if !ok {
		return 0, fmt.Errorf("unknown device %q, one of %s", device, strings.Join(config.Devices(), ", "))
	}
	var doc struct {
		Clocks clocks.Spec `json:"clocks"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("device %s: %w", device, err)
	}
	return doc.Clocks.CrystalKHz, nil
}
