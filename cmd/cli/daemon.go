package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanward/scanward/internal/config"
	"github.com/scanward/scanward/internal/daemon"
)

const (
	daemonStopProgressStep = 5  // show progress every N seconds
	daemonStopTimeout      = 30 // seconds to wait before force kill
	statusLineLength       = 30 // characters for status separator line
)

var daemonPidFile string

// daemonCmd represents the daemon command.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scanward as a long-lived daemon",
	Long: `Run scanward as a long-lived daemon service that executes scheduled
scans, prunes old scan history, serves Prometheus metrics, and sends
email notifications when scans finish.`,
	Example: `  scanward daemon run
  scanward daemon stop
  scanward daemon status`,
}

// daemonRunCmd represents the daemon run command.
var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scanward daemon in the foreground",
	Long: `Run the scanward daemon in the foreground. The process blocks until
it receives SIGTERM or SIGINT, then shuts down gracefully. Use a
process supervisor (systemd, runit) for background operation.`,
	Example: `  scanward daemon run
  scanward daemon run --pid-file /run/scanward.pid`,
	Run: runDaemonRun,
}

// daemonStopCmd represents the daemon stop command.
var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running scanward daemon",
	Long: `Stop the currently running scanward daemon. Sends SIGTERM and waits
for the process to exit, escalating to SIGKILL if it does not stop
within the timeout.`,
	Example: `  scanward daemon stop
  scanward daemon stop --pid-file /run/scanward.pid`,
	Run: runDaemonStop,
}

// daemonStatusCmd represents the daemon status command.
var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the scanward daemon",
	Long: `Check whether the scanward daemon is currently running and display
information about its process.`,
	Run: runDaemonStatus,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)

	daemonCmd.PersistentFlags().StringVar(&daemonPidFile, "pid-file", "", "Path to PID file (default from config)")
}

func runDaemonRun(_ *cobra.Command, _ []string) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if daemonPidFile != "" {
		cfg.Daemon.PIDFile = daemonPidFile
	}

	if isDaemonRunning(cfg.Daemon.PIDFile) {
		fmt.Fprintf(os.Stderr, "Daemon is already running (PID file: %s)\n", cfg.Daemon.PIDFile)
		os.Exit(1)
	}

	if verbose {
		fmt.Printf("Starting daemon with configuration:\n")
		fmt.Printf("  PID file: %s\n", cfg.Daemon.PIDFile)
		fmt.Printf("  Work dir: %s\n", cfg.Daemon.WorkDir)
		fmt.Printf("  Metrics:  %s\n", cfg.Daemon.MetricsAddr)
	}

	d := daemon.New(cfg)

	fmt.Println("Starting scanward daemon...")
	if err := d.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running daemon: %v\n", err)
		os.Exit(1)
	}
}

func runDaemonStop(_ *cobra.Command, _ []string) {
	pidFile := effectivePIDFile()
	if !isDaemonRunning(pidFile) {
		fmt.Printf("Daemon is not running (no PID file found at %s)\n", pidFile)
		return
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading PID file: %v\n", err)
		os.Exit(1)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding daemon process: %v\n", err)
		os.Exit(1)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "Error sending stop signal to daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Stopping daemon (PID %d)...\n", pid)
	for i := 0; i < daemonStopTimeout; i++ {
		if !isDaemonRunning(pidFile) {
			fmt.Println("Daemon stopped successfully")
			return
		}
		time.Sleep(1 * time.Second)
		if i%daemonStopProgressStep == (daemonStopProgressStep - 1) {
			fmt.Printf("Waiting for daemon to stop... (%d seconds)\n", i+1)
		}
	}

	fmt.Println("Daemon did not stop gracefully, sending SIGKILL...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		fmt.Fprintf(os.Stderr, "Error force-killing daemon: %v\n", err)
		os.Exit(1)
	}

	time.Sleep(2 * time.Second)
	if !isDaemonRunning(pidFile) {
		fmt.Println("Daemon force-stopped")
	} else {
		fmt.Fprintln(os.Stderr, "Failed to stop daemon")
		os.Exit(1)
	}
}

func runDaemonStatus(_ *cobra.Command, _ []string) {
	pidFile := effectivePIDFile()

	fmt.Println("Scanward Daemon Status")
	fmt.Println(strings.Repeat("=", statusLineLength))

	if !isDaemonRunning(pidFile) {
		fmt.Println("Status: Not running")
		fmt.Printf("PID file: %s (not found or stale)\n", pidFile)
		return
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		fmt.Printf("Status: Unknown (error reading PID file: %v)\n", err)
		return
	}

	fmt.Println("Status: Running")
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("PID file: %s\n", pidFile)

	if info, err := os.Stat(pidFile); err == nil {
		fmt.Printf("Started: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Printf("Uptime: %s\n", time.Since(info.ModTime()).Round(time.Second))
	}

	fmt.Printf("\nTo stop daemon: scanward daemon stop\n")
}

// effectivePIDFile resolves the PID file path from the flag or config.
func effectivePIDFile() string {
	if daemonPidFile != "" {
		return daemonPidFile
	}
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return config.Default().Daemon.PIDFile
	}
	return cfg.Daemon.PIDFile
}

func isDaemonRunning(pidFile string) bool {
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return false
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks liveness without touching the process.
	return process.Signal(syscall.Signal(0)) == nil
}

func readPIDFile(pidFile string) (int, error) {
	// #nosec G304 - pidFile is a controlled path from flags or config
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %v", err)
	}

	return pid, nil
}
