package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/cycletime/pkg/cycletime"
)

var (
	runName        string
	runPulse       float64
	runRepeat      int
	runDumpMetrics bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run --name <name> [--pulse seconds] [--repeat N] -- <command> [args...]",
	Short: "Time a command",
	Long: `Run a command one or more times under a named timer. Each execution is
reported on its own, or averaged per pulse interval when --pulse is set. Any
average still pending when the runs finish is flushed before exit.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runName, "name", "n", "", "timer name (required)")
	runCmd.Flags().Float64VarP(&runPulse, "pulse", "p", 0, "averaging interval in seconds (0 reports every run)")
	runCmd.Flags().IntVarP(&runRepeat, "repeat", "r", 1, "number of times to run the command")
	runCmd.Flags().BoolVar(&runDumpMetrics, "dump-metrics", false, "print the Prometheus exposition after the runs")
	_ = runCmd.MarkFlagRequired("name")
}

// runResult is one row of the summary table
type runResult struct {
	Run      int
	Seconds  float64
	Measured bool
	ExitCode int
}

func runRun(cmd *cobra.Command, args []string) error {
	if runRepeat < 1 {
		return fmt.Errorf("--repeat must be at least 1, got %d", runRepeat)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := setup(ctx, loadSettings(viper.GetViper()), cmd.Name(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	// Only matters on the early returns; after the explicit Shutdown below this is a no-op.
	defer rt.shutdown.Shutdown()

	var opts []cycletime.TimerOption
	if runPulse > 0 {
		opts = append(opts, cycletime.WithFlushOnStop())
	}
	timer, err := rt.factory.GetTimer(runName, runPulse, opts...)
	if err != nil {
		return err
	}

	results := make([]runResult, 0, runRepeat)
	for i := 1; i <= runRepeat; i++ {
		timer.Start()
		code, execErr := execute(ctx, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		seconds, ok := timer.End()
		if execErr != nil {
			return execErr
		}
		results = append(results, runResult{Run: i, Seconds: seconds, Measured: ok, ExitCode: code})
	}

	// Close flushes the pending window before the table is printed.
	if n := rt.shutdown.Shutdown(); n > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d shutdown step(s) failed, see log\n", n)
	}

	printRunSummary(cmd.OutOrStdout(), runName, results)

	if runDumpMetrics && rt.prometheus != nil {
		text, err := rt.prometheus.WriteText()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
	}

	return nil
}

// execute runs argv and returns its exit code. A non-zero exit is not an error;
// failing to start the command is.
func execute(ctx context.Context, argv []string, stdout, stderr io.Writer) (int, error) {
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Stdin = os.Stdin
	c.Stdout = stdout
	c.Stderr = stderr

	err := c.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to run %s: %w", argv[0], err)
}

func printRunSummary(w io.Writer, name string, results []runResult) {
	table := tablewriter.NewWriter(w)
	table.Header("Timer", "Run", "Seconds", "Exit")

	for _, r := range results {
		seconds := "-"
		if r.Measured {
			seconds = strconv.FormatFloat(r.Seconds, 'f', 3, 64)
		}
		table.Append(name, strconv.Itoa(r.Run), seconds, strconv.Itoa(r.ExitCode))
	}

	table.Render()
}
