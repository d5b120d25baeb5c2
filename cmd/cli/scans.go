package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/scanward/scanward/internal/artifacts"
	"github.com/scanward/scanward/internal/config"
	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/exec"
	"github.com/scanward/scanward/internal/notify"
	"github.com/scanward/scanward/internal/scanners"
	"github.com/scanward/scanward/internal/scans"
	"github.com/scanward/scanward/internal/tasks"
)

const (
	scanPollInterval = 2 * time.Second
	idDisplayLength  = 8 // characters of UUID shown in tables
)

var (
	scanTargetRef string
	scanScanner   string
	scanProfile   string
	scanRequester string
	scanStatus    string
	scanLimit     int
	scanOffset    int
	scanNoWait    bool
)

// scansCmd represents the scans command.
var scansCmd = &cobra.Command{
	Use:   "scans",
	Short: "Run and inspect security scans",
	Long: `Run security scans against registered targets and inspect their
results, findings, and report artifacts.`,
	Example: `  scanward scans run --target web-1 --scanner lynis
  scanward scans list --target web-1 --status completed
  scanward scans show 4f7c2a10-9c1e-4f6a-8d2b-3f5a6b7c8d9e
  scanward scans cancel 4f7c2a10-9c1e-4f6a-8d2b-3f5a6b7c8d9e`,
}

var scansRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scan against a target",
	Long: `Create a scan for the given target and execute it. By default the
command waits for the scan to finish and prints the result summary;
use --no-wait to return as soon as the scan is launched.`,
	Example: `  scanward scans run --target web-1 --scanner lynis
  scanward scans run --target db-host --scanner openscap --profile stig
  scanward scans run --target web-1 --scanner trivy --no-wait`,
	Run: runScansRun,
}

var scansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scans",
	Run:   runScansList,
}

var scansShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Show scan details and findings",
	Args:  cobra.ExactArgs(1),
	Run:   runScansShow,
}

var scansCancelCmd = &cobra.Command{
	Use:   "cancel <scan-id>",
	Short: "Cancel a pending or running scan",
	Args:  cobra.ExactArgs(1),
	Run:   runScansCancel,
}

func init() {
	rootCmd.AddCommand(scansCmd)
	scansCmd.AddCommand(scansRunCmd)
	scansCmd.AddCommand(scansListCmd)
	scansCmd.AddCommand(scansShowCmd)
	scansCmd.AddCommand(scansCancelCmd)

	scansRunCmd.Flags().StringVar(&scanTargetRef, "target", "", "Target name or ID (required)")
	scansRunCmd.Flags().StringVar(&scanScanner, "scanner", "", "Scanner: lynis, openscap, trivy, or atomic (required)")
	scansRunCmd.Flags().StringVar(&scanProfile, "profile", "", "Scanner profile override")
	scansRunCmd.Flags().StringVar(&scanRequester, "requester", "", "Requester recorded on the scan")
	scansRunCmd.Flags().BoolVar(&scanNoWait, "no-wait", false, "Launch the scan and return immediately")

	for _, flag := range []string{"target", "scanner"} {
		if err := scansRunCmd.MarkFlagRequired(flag); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to mark %s flag required: %v\n", flag, err)
		}
	}

	scansListCmd.Flags().StringVar(&scanTargetRef, "target", "", "Filter by target name or ID")
	scansListCmd.Flags().StringVar(&scanScanner, "scanner", "", "Filter by scanner")
	scansListCmd.Flags().StringVar(&scanStatus, "status", "", "Filter by status")
	scansListCmd.Flags().IntVar(&scanLimit, "limit", 20, "Maximum number of scans to show")
	scansListCmd.Flags().IntVar(&scanOffset, "offset", 0, "Number of scans to skip")
}

func runScansRun(_ *cobra.Command, _ []string) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	database, err := db.Connect(context.Background(), &cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()

	store := db.NewStore(database)
	ctx := context.Background()

	target, err := resolveTarget(ctx, store, scanTargetRef)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// The CLI executes the scan in-process with the same execution
	// pipeline the daemon uses.
	registry := scanners.NewRegistry(exec.NewLocalRunner(), artifacts.NewStore(cfg.Reports.Dir), scanners.Config{
		TrivyImage:     cfg.Scanning.TrivyImage,
		SCAPContentDir: cfg.Scanning.SCAPContentDir,
	})
	runner := tasks.NewRunner(tasks.Config{
		MaxConcurrent:   cfg.Scanning.MaxConcurrentScans,
		ShutdownTimeout: cfg.Daemon.ShutdownTimeout,
	})
	defer func() {
		if err := runner.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: task runner shutdown: %v\n", err)
		}
	}()

	var notifier scans.Notifier
	if cfg.SMTP.Enabled() {
		notifier = notify.New(cfg.SMTP, nil)
	}

	manager := scans.NewManager(store, registry, runner, notifier, cfg.Scanning)

	req := scans.CreateRequest{
		TargetID: target.ID,
		Scanner:  scanScanner,
		Profile:  optionalFlag(scanProfile),
	}
	if scanRequester != "" {
		req.Requester = &scanRequester
	}

	scan, err := manager.Create(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating scan: %v\n", err)
		os.Exit(1)
	}

	if _, err := manager.Start(ctx, scan.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting scan: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Scan %s started (%s on %s)\n", scan.ID, scanScanner, target.Name)
	if scanNoWait {
		return
	}

	final, err := waitForScan(ctx, store, scan.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error waiting for scan: %v\n", err)
		os.Exit(1)
	}

	displayScanDetails(final, target.Name)
	if final.Status != db.ScanStatusCompleted {
		os.Exit(1)
	}
}

// waitForScan polls until the scan reaches a terminal state.
func waitForScan(ctx context.Context, store *db.Store, id uuid.UUID) (*db.Scan, error) {
	ticker := time.NewTicker(scanPollInterval)
	defer ticker.Stop()

	for {
		scan, err := store.Scans.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if scan.IsTerminal() {
			return scan, nil
		}

		if verbose {
			fmt.Printf("Scan %s...\n", scan.Status)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func runScansList(_ *cobra.Command, _ []string) {
	withStoreOrExit(func(store *db.Store) {
		ctx := context.Background()

		filter := db.ScanFilter{
			Scanner: scanScanner,
			Status:  scanStatus,
			Limit:   scanLimit,
			Offset:  scanOffset,
		}
		if scanTargetRef != "" {
			target, err := resolveTarget(ctx, store, scanTargetRef)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filter.TargetID = &target.ID
		}

		scanRows, err := store.Scans.List(ctx, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing scans: %v\n", err)
			os.Exit(1)
		}

		if len(scanRows) == 0 {
			fmt.Println("No scans found.")
			return
		}

		displayScansTable(scanRows)
	})
}

func runScansShow(_ *cobra.Command, args []string) {
	id, err := parseID(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	withStoreOrExit(func(store *db.Store) {
		ctx := context.Background()

		scan, err := store.Scans.GetByID(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		targetName := scan.TargetID.String()
		if target, err := store.Targets.GetByID(ctx, scan.TargetID); err == nil {
			targetName = target.Name
		}

		displayScanDetails(scan, targetName)

		findings, err := store.Findings.ListByScan(ctx, scan.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing findings: %v\n", err)
			os.Exit(1)
		}
		if len(findings) > 0 {
			fmt.Println("\nFindings:")
			displayFindingsTable(findings)
		}
	})
}

func runScansCancel(_ *cobra.Command, args []string) {
	id, err := parseID(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	withStoreOrExit(func(store *db.Store) {
		ctx := context.Background()

		// Marking the record cancelled is enough from the CLI: the
		// daemon's completion guard discards any late adapter result.
		cancelled, err := store.Scans.MarkCancelled(ctx, id, time.Now().UTC())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error cancelling scan: %v\n", err)
			os.Exit(1)
		}
		if !cancelled {
			fmt.Fprintf(os.Stderr, "Scan %s is not pending or running\n", id)
			os.Exit(1)
		}
		fmt.Printf("Scan %s cancelled\n", id)
	})
}

func displayScansTable(scanRows []*db.Scan) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Scanner", "Status", "Score", "Pass", "Fail", "Warn", "Started")

	for _, s := range scanRows {
		score := "-"
		if s.Score != nil {
			score = strconv.Itoa(*s.Score)
		}
		started := "-"
		if s.StartedAt != nil {
			started = s.StartedAt.Format("2006-01-02 15:04")
		}
		_ = table.Append([]string{
			s.ID.String()[:idDisplayLength],
			s.Scanner,
			s.Status,
			score,
			strconv.Itoa(s.Passed),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Warnings),
			started,
		})
	}

	_ = table.Render()
}

func displayScanDetails(scan *db.Scan, targetName string) {
	fmt.Printf("Scan: %s\n", scan.ID)
	fmt.Println(strings.Repeat("=", statusLineLength))
	fmt.Printf("Target:    %s\n", targetName)
	fmt.Printf("Scanner:   %s\n", scan.Scanner)
	fmt.Printf("Status:    %s\n", scan.Status)
	if scan.Profile != nil {
		fmt.Printf("Profile:   %s\n", *scan.Profile)
	}
	if scan.Score != nil {
		fmt.Printf("Score:     %d\n", *scan.Score)
	}
	fmt.Printf("Passed:    %d\n", scan.Passed)
	fmt.Printf("Failed:    %d\n", scan.Failed)
	fmt.Printf("Warnings:  %d\n", scan.Warnings)
	if scan.DurationSeconds != nil {
		fmt.Printf("Duration:  %ds\n", *scan.DurationSeconds)
	}
	if scan.ReportPath != nil {
		fmt.Printf("Report:    %s\n", *scan.ReportPath)
	}
	if scan.HTMLReportPath != nil {
		fmt.Printf("HTML:      %s\n", *scan.HTMLReportPath)
	}
	if scan.ErrorMessage != nil {
		fmt.Printf("Error:     %s\n", *scan.ErrorMessage)
	}
}

func displayFindingsTable(findings []*db.Finding) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Rule", "Severity", "Status", "Title")

	for _, f := range findings {
		title := f.Title
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		_ = table.Append([]string{
			f.RuleID,
			f.Severity,
			f.Status,
			title,
		})
	}

	_ = table.Render()
}
