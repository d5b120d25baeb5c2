package scanners

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/scanward/scanward/internal/artifacts"
	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/exec"
	"github.com/scanward/scanward/internal/logging"
)

// probe is one technique check in the battery. Expect "PASS" or "FAIL"
// looks for that marker in the output; an empty Expect fails the probe when
// any output line is a positive integer.
type probe struct {
	ID       string
	Name     string
	Cmd      string
	Expect   string
	Severity string
	Category string
}

// atomicProbes is the fixed battery of MITRE ATT&CK inspired checks.
var atomicProbes = []probe{
	{
		ID:       "T1003.008",
		Name:     "Credential Access: /etc/shadow readable",
		Cmd:      "test -r /etc/shadow && echo FAIL || echo PASS",
		Expect:   "PASS",
		Severity: db.SeverityCritical,
		Category: "credential-access",
	},
	{
		ID:       "T1053.003",
		Name:     "Persistence: cron jobs present",
		Cmd:      "ls /etc/cron.d/ /var/spool/cron/ 2>/dev/null | head -5; echo CHECK",
		Severity: db.SeverityMedium,
		Category: "persistence",
	},
	{
		ID:       "T1548.001",
		Name:     "Privilege Escalation: SUID binaries",
		Cmd:      "find / -perm -4000 -type f 2>/dev/null | head -20; echo DONE",
		Severity: db.SeverityHigh,
		Category: "privilege-escalation",
	},
	{
		ID:       "T1222.002",
		Name:     "Defense Evasion: World-writable dirs",
		Cmd:      "find / -maxdepth 3 -type d -perm -0002 ! -path '/proc/*' ! -path '/sys/*' 2>/dev/null | head -10; echo DONE",
		Severity: db.SeverityMedium,
		Category: "defense-evasion",
	},
	{
		ID:       "T1552.001",
		Name:     "Credential Access: Credentials in files",
		Cmd:      "grep -rl 'password\\|secret\\|api_key' /etc/ 2>/dev/null | head -5; echo DONE",
		Severity: db.SeverityHigh,
		Category: "credential-access",
	},
	{
		ID:       "T1018",
		Name:     "Discovery: Network configuration exposed",
		Cmd:      "cat /etc/hosts 2>/dev/null | wc -l; echo DONE",
		Severity: db.SeverityLow,
		Category: "discovery",
	},
	{
		ID:       "T1057",
		Name:     "Discovery: Process listing available",
		Cmd:      "ls /proc/*/cmdline 2>/dev/null | wc -l; echo DONE",
		Severity: db.SeverityLow,
		Category: "discovery",
	},
	{
		ID:       "T1070.003",
		Name:     "Defense Evasion: Bash history exists",
		Cmd:      "test -f /root/.bash_history && echo FAIL || echo PASS",
		Expect:   "PASS",
		Severity: db.SeverityMedium,
		Category: "defense-evasion",
	},
	{
		ID:       "T1136.001",
		Name:     "Persistence: Users with shells",
		Cmd:      "grep -c '/bin/bash\\|/bin/sh' /etc/passwd; echo DONE",
		Severity: db.SeverityMedium,
		Category: "persistence",
	},
	{
		ID:       "T1082",
		Name:     "Discovery: System info disclosure",
		Cmd:      "cat /etc/os-release 2>/dev/null | head -3; echo DONE",
		Severity: db.SeverityLow,
		Category: "discovery",
	},
	{
		ID:       "T1049",
		Name:     "Discovery: Network connections",
		Cmd:      "cat /proc/net/tcp 2>/dev/null | wc -l; echo DONE",
		Severity: db.SeverityMedium,
		Category: "discovery",
	},
	{
		ID:       "T1083",
		Name:     "Discovery: Sensitive file access",
		Cmd:      "test -r /etc/passwd && echo READABLE || echo PROTECTED",
		Severity: db.SeverityLow,
		Category: "discovery",
	},
	{
		ID:       "T1543.002",
		Name:     "Persistence: Systemd services",
		Cmd:      "ls /etc/systemd/system/*.service 2>/dev/null | wc -l; echo DONE",
		Severity: db.SeverityMedium,
		Category: "persistence",
	},
	{
		ID:       "T1059.004",
		Name:     "Execution: Shell available",
		Cmd:      "test -x /bin/sh && echo AVAILABLE || echo MISSING; echo DONE",
		Severity: db.SeverityLow,
		Category: "execution",
	},
	{
		ID:       "T1574.006",
		Name:     "Privilege Escalation: LD_PRELOAD hijack",
		Cmd:      "test -f /etc/ld.so.preload && echo FAIL || echo PASS",
		Expect:   "PASS",
		Severity: db.SeverityCritical,
		Category: "privilege-escalation",
	},
	{
		ID:       "T1027",
		Name:     "Defense Evasion: Compiled binaries in /tmp",
		Cmd:      "find /tmp -type f -executable 2>/dev/null | wc -l; echo DONE",
		Severity: db.SeverityHigh,
		Category: "defense-evasion",
	},
}

// AtomicScanner probes a container for technique exposure with a fixed
// battery of shell checks.
type AtomicScanner struct {
	docker *exec.Docker
	store  *artifacts.Store
	logger *logging.Logger
}

// NewAtomicScanner creates the atomic adapter.
func NewAtomicScanner(docker *exec.Docker, store *artifacts.Store, logger *logging.Logger) *AtomicScanner {
	return &AtomicScanner{docker: docker, store: store, logger: logger}
}

// Kind returns the scanner kind identifier.
func (s *AtomicScanner) Kind() string {
	return db.ScannerAtomic
}

// Run executes the probe battery against the target container. A probe
// whose command cannot run counts as failed; only context expiry aborts
// the battery.
func (s *AtomicScanner) Run(ctx context.Context, target *db.Target, scan *db.Scan) (*AdapterResult, error) {
	if err := requireContainer(target); err != nil {
		return nil, err
	}

	s.logger.Info("Starting technique probes", "target", target.Name, "probes", len(atomicProbes))

	var findings []Finding
	var reportLines []string
	passed := 0
	failed := 0

	reportLines = append(reportLines,
		fmt.Sprintf("Atomic Red Team Security Tests - %s", target.Name),
		strings.Repeat("=", 60))

	for i := range atomicProbes {
		p := &atomicProbes[i]

		result, err := s.docker.Exec(ctx, target.Name, "sh", "-c", p.Cmd)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			failed++
			reportLines = append(reportLines, fmt.Sprintf("\n[%s] %s - ERROR: %v", p.ID, p.Name, err))
			findings = append(findings, Finding{
				RuleID:   p.ID,
				Title:    p.Name + " (error)",
				Severity: p.Severity,
				Status:   db.FindingStatusFail,
				Category: p.Category,
			})
			continue
		}

		stdout := strings.TrimSpace(result.Stdout)
		probePassed := evaluateProbe(p.Expect, stdout)

		status := "pass"
		if probePassed {
			passed++
		} else {
			failed++
			status = "fail"
			findings = append(findings, Finding{
				RuleID:   p.ID,
				Title:    p.Name,
				Severity: p.Severity,
				Status:   db.FindingStatusFail,
				Category: p.Category,
			})
		}

		reportLines = append(reportLines,
			fmt.Sprintf("\n[%s] %s", p.ID, p.Name),
			fmt.Sprintf("  Status: %s", strings.ToUpper(status)),
			fmt.Sprintf("  Output: %s", truncate(stdout, 200)))
	}

	reportPath, err := s.store.Save(db.ScannerAtomic, target.Name, scan.ID, "log",
		[]byte(strings.Join(reportLines, "\n")))
	if err != nil {
		return nil, err
	}

	adapterResult := &AdapterResult{
		Success:    true,
		Score:      scoreFromCounts(passed, failed),
		Passed:     passed,
		Failed:     failed,
		ReportPath: reportPath,
		Findings:   findings,
	}

	s.logger.Info("Technique probes completed",
		"target", target.Name,
		"passed", passed,
		"failed", failed,
		"score", adapterResult.Score)

	return adapterResult, nil
}

// evaluateProbe applies a probe's expectation to its output. Marker
// expectations pass when the marker appears on any line. Count-based probes
// fail when any line is a positive integer.
func evaluateProbe(expect, stdout string) bool {
	lines := strings.Split(stdout, "\n")

	switch expect {
	case "PASS", "FAIL":
		for _, line := range lines {
			if strings.Contains(line, expect) {
				return true
			}
		}
		return false
	default:
		for _, line := range lines {
			n, err := strconv.Atoi(strings.TrimSpace(line))
			if err == nil && n > 0 {
				return false
			}
		}
		return true
	}
}
