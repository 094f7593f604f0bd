// Package process supervises the channel proxy subprocess.
//
// Benches that reach the device over a serial adapter usually expose the
// line as a TCP endpoint through a small bridge binary (ser2net, socat
// or similar). When twincore owns that bridge, this package starts it,
// captures its output into the structured log, and restarts it when it
// crashes.
//
// Features:
//   - Start/stop with process-group SIGTERM, then SIGKILL after a timeout
//   - Automatic restart on failure with exponential backoff
//   - Backoff reset once the process stays up past a stability threshold
//   - Line-oriented capture of subprocess stdout/stderr
//   - Context-based cancellation for clean shutdown
//
// Example usage:
//
//	mgr := process.NewManager(process.DefaultConfig(
//	    "channel-proxy",
//	    "/usr/sbin/ser2net",
//	    []string{"-n", "-C", "9600:raw:600:/dev/ttyACM0:9600"},
//	))
//
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop()
package process
