package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/scanward/scanward/internal/db"
)

var (
	targetName        string
	targetDisplayName string
	targetDescription string
	targetKind        string
	targetAddress     string
	targetPort        int
	targetSSHUser     string
	targetSSHKeyPath  string
	targetProfile     string
	targetScanners    []string
	targetTags        []string
	targetShowAll     bool
)

// targetsCmd represents the targets command.
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage scan targets",
	Long: `Manage the systems scanward can scan: containers, SSH hosts, and the
local machine. Targets must be registered before scans or schedules
can reference them.`,
	Example: `  scanward targets list
  scanward targets add --name web-1 --kind container --address web-1
  scanward targets show web-1
  scanward targets remove web-1`,
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered targets",
	Run:   runTargetsList,
}

var targetsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new target",
	Example: `  scanward targets add --name web-1 --kind container --address web-1
  scanward targets add --name db-host --kind ssh --address 10.0.0.12 --ssh-user audit --ssh-key ~/.ssh/audit
  scanward targets add --name localhost --kind local --scanners lynis,trivy`,
	Run: runTargetsAdd,
}

var targetsShowCmd = &cobra.Command{
	Use:   "show <name-or-id>",
	Short: "Show target details",
	Args:  cobra.ExactArgs(1),
	Run:   runTargetsShow,
}

var targetsRemoveCmd = &cobra.Command{
	Use:   "remove <name-or-id>",
	Short: "Remove a target and its scan history",
	Args:  cobra.ExactArgs(1),
	Run:   runTargetsRemove,
}

var targetsEnableCmd = &cobra.Command{
	Use:   "enable <name-or-id>",
	Short: "Mark a target active",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		setTargetActive(args[0], true)
	},
}

var targetsDisableCmd = &cobra.Command{
	Use:   "disable <name-or-id>",
	Short: "Mark a target inactive",
	Long: `Mark a target inactive. Inactive targets are skipped by schedules and
rejected by scan creation until re-enabled.`,
	Args: cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		setTargetActive(args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
	targetsCmd.AddCommand(targetsListCmd)
	targetsCmd.AddCommand(targetsAddCmd)
	targetsCmd.AddCommand(targetsShowCmd)
	targetsCmd.AddCommand(targetsRemoveCmd)
	targetsCmd.AddCommand(targetsEnableCmd)
	targetsCmd.AddCommand(targetsDisableCmd)

	targetsListCmd.Flags().BoolVar(&targetShowAll, "all", false, "Include inactive targets")

	targetsAddCmd.Flags().StringVar(&targetName, "name", "", "Unique target name (required)")
	targetsAddCmd.Flags().StringVar(&targetDisplayName, "display-name", "", "Human-friendly display name")
	targetsAddCmd.Flags().StringVar(&targetDescription, "description", "", "Free-form description")
	targetsAddCmd.Flags().StringVar(&targetKind, "kind", "container", "Target kind: container, ssh, or local")
	targetsAddCmd.Flags().StringVar(&targetAddress, "address", "", "Container name or SSH host address")
	targetsAddCmd.Flags().IntVar(&targetPort, "port", 0, "SSH port (ssh targets only)")
	targetsAddCmd.Flags().StringVar(&targetSSHUser, "ssh-user", "", "SSH username (ssh targets only)")
	targetsAddCmd.Flags().StringVar(&targetSSHKeyPath, "ssh-key", "", "Path to SSH private key (ssh targets only)")
	targetsAddCmd.Flags().StringVar(&targetProfile, "profile", "", "Default scan profile")
	targetsAddCmd.Flags().StringSliceVar(&targetScanners, "scanners", nil,
		"Scanners enabled for this target (default: all)")
	targetsAddCmd.Flags().StringSliceVar(&targetTags, "tags", nil, "Tags for grouping targets")

	if err := targetsAddCmd.MarkFlagRequired("name"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to mark name flag required: %v\n", err)
	}
}

func runTargetsList(_ *cobra.Command, _ []string) {
	withStoreOrExit(func(store *db.Store) {
		targets, err := store.Targets.GetAll(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing targets: %v\n", err)
			os.Exit(1)
		}

		if !targetShowAll {
			active := targets[:0]
			for _, t := range targets {
				if t.IsActive {
					active = append(active, t)
				}
			}
			targets = active
		}

		if len(targets) == 0 {
			fmt.Println("No targets found.")
			return
		}

		displayTargetsTable(targets)
	})
}

func runTargetsAdd(_ *cobra.Command, _ []string) {
	if !isValidTargetKind(targetKind) {
		fmt.Fprintf(os.Stderr, "Error: invalid kind %q (expected container, ssh, or local)\n", targetKind)
		os.Exit(1)
	}
	for _, kind := range targetScanners {
		if !db.IsValidScannerKind(kind) {
			fmt.Fprintf(os.Stderr, "Error: unknown scanner %q (supported: %s)\n",
				kind, strings.Join(db.ScannerKinds, ", "))
			os.Exit(1)
		}
	}

	target := &db.Target{
		Name:        targetName,
		DisplayName: optionalFlag(targetDisplayName),
		Description: optionalFlag(targetDescription),
		Kind:        targetKind,
		Address:     optionalFlag(targetAddress),
		SSHUser:     optionalFlag(targetSSHUser),
		SSHKeyPath:  optionalFlag(targetSSHKeyPath),
		ScanProfile: optionalFlag(targetProfile),
		IsActive:    true,
		Tags:        targetTags,
	}
	if targetPort > 0 {
		target.Port = &targetPort
	}
	if len(targetScanners) > 0 {
		raw, err := json.Marshal(targetScanners)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding scanner list: %v\n", err)
			os.Exit(1)
		}
		target.EnabledScanners = db.JSONB(raw)
	}

	withStoreOrExit(func(store *db.Store) {
		if err := store.Targets.Create(context.Background(), target); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating target: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Target %q created (ID: %s)\n", target.Name, target.ID)
	})
}

func runTargetsShow(_ *cobra.Command, args []string) {
	withStoreOrExit(func(store *db.Store) {
		ctx := context.Background()
		target, err := resolveTarget(ctx, store, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Target: %s\n", target.Name)
		fmt.Println(strings.Repeat("=", statusLineLength))
		fmt.Printf("ID:          %s\n", target.ID)
		fmt.Printf("Kind:        %s\n", target.Kind)
		fmt.Printf("Status:      %s\n", target.Status)
		fmt.Printf("Active:      %t\n", target.IsActive)
		if target.DisplayName != nil {
			fmt.Printf("Display:     %s\n", *target.DisplayName)
		}
		if target.Address != nil {
			fmt.Printf("Address:     %s\n", *target.Address)
		}
		if target.Port != nil {
			fmt.Printf("Port:        %d\n", *target.Port)
		}
		if target.SSHUser != nil {
			fmt.Printf("SSH user:    %s\n", *target.SSHUser)
		}
		if target.ScanProfile != nil {
			fmt.Printf("Profile:     %s\n", *target.ScanProfile)
		}
		if scanners := target.EnabledScannerSet(); len(scanners) > 0 {
			kinds := make([]string, 0, len(scanners))
			for _, kind := range db.ScannerKinds {
				if scanners[kind] {
					kinds = append(kinds, kind)
				}
			}
			fmt.Printf("Scanners:    %s\n", strings.Join(kinds, ", "))
		}
		if len(target.Tags) > 0 {
			fmt.Printf("Tags:        %s\n", strings.Join(target.Tags, ", "))
		}
		if target.LastScanScore != nil {
			fmt.Printf("Last score:  %d\n", *target.LastScanScore)
		}
		fmt.Printf("Created:     %s\n", target.CreatedAt.Format("2006-01-02 15:04"))

		// Show the most recent scans for context.
		scans, err := store.Scans.List(ctx, db.ScanFilter{TargetID: &target.ID, Limit: 5})
		if err == nil && len(scans) > 0 {
			fmt.Println("\nRecent scans:")
			displayScansTable(scans)
		}
	})
}

func runTargetsRemove(_ *cobra.Command, args []string) {
	withStoreOrExit(func(store *db.Store) {
		ctx := context.Background()
		target, err := resolveTarget(ctx, store, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := store.Targets.Delete(ctx, target.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing target: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Target %q removed\n", target.Name)
	})
}

func setTargetActive(ref string, active bool) {
	withStoreOrExit(func(store *db.Store) {
		ctx := context.Background()
		target, err := resolveTarget(ctx, store, ref)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		target.IsActive = active
		if err := store.Targets.Update(ctx, target); err != nil {
			fmt.Fprintf(os.Stderr, "Error updating target: %v\n", err)
			os.Exit(1)
		}
		state := "disabled"
		if active {
			state = "enabled"
		}
		fmt.Printf("Target %q %s\n", target.Name, state)
	})
}

func displayTargetsTable(targets []*db.Target) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "Kind", "Address", "Status", "Active", "Score", "Created")

	for _, t := range targets {
		address := "-"
		if t.Address != nil {
			address = *t.Address
		}
		score := "-"
		if t.LastScanScore != nil {
			score = strconv.Itoa(*t.LastScanScore)
		}
		_ = table.Append([]string{
			t.Name,
			t.Kind,
			address,
			t.Status,
			strconv.FormatBool(t.IsActive),
			score,
			t.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	_ = table.Render()
}

func isValidTargetKind(kind string) bool {
	switch kind {
	case db.TargetKindContainer, db.TargetKindSSH, db.TargetKindLocal:
		return true
	}
	return false
}

func optionalFlag(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
