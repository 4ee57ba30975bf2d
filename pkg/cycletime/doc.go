/*
Package cycletime measures how long named operations take and reports the
result to a metrics backend, AWS CloudWatch unless another reporter is given.

A Factory owns the backend configuration and hands out timers:

	f, err := cycletime.New(ctx, cycletime.Config{Namespace: "orders"})
	build, err := f.GetTimer("build", 0)   // report every cycle
	batch, err := f.GetTimer("batch", 60)  // report a 60s average
	defer f.Close(ctx)

	build.Start()
	...
	build.End()

With a pulse of zero every End reports its cycletime straight away. With a
positive pulse End only accumulates, and a per-timer loop reports the mean of
the window every pulse seconds, then resets. Windows without a sample report
nothing.

Reports are dispatched on their own goroutine. Start and End never wait for
the network, and a failed report is handed to Config.OnReportError (logged by
default). There are no retries.
*/
package cycletime
