package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/cycletime/pkg/cycletime"
)

var (
	demoSleep time.Duration
	demoWait  time.Duration
)

// demoCmd represents the demo command
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the example timers",
	Long: `Creates "my-timer" with a 10 second pulse and the silent "i-am-silent"
with no pulse, times a one second sleep with both, then waits long enough for
the first pulse so the average is printed and reported.`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().DurationVar(&demoSleep, "sleep", time.Second, "duration of the timed work")
	demoCmd.Flags().DurationVar(&demoWait, "wait", 11*time.Second, "how long to keep running after the work, so pulses can fire")
}

func runDemo(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := setup(ctx, loadSettings(viper.GetViper()), cmd.Name(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	timer, err := rt.factory.GetTimer("my-timer", 10)
	if err != nil {
		rt.shutdown.Shutdown()
		return err
	}
	silent, err := rt.factory.GetTimer("i-am-silent", 0, cycletime.WithSilent())
	if err != nil {
		rt.shutdown.Shutdown()
		return err
	}

	// Interrupts during the work still run the shutdown hooks.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	timer.Start()
	silent.Start()

	work := time.NewTimer(demoSleep)
	defer work.Stop()
	select {
	case <-work.C:
	case <-sigCtx.Done():
		rt.shutdown.Shutdown()
		return nil
	}

	timer.End()
	silent.End()

	waitCtx, cancel := context.WithTimeout(sigCtx, demoWait)
	defer cancel()

	err = rt.shutdown.WaitWithContext(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
