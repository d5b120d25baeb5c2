package scanners

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/scanward/scanward/internal/artifacts"
	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/exec"
	"github.com/scanward/scanward/internal/logging"
)

var (
	lynisNumber         = regexp.MustCompile(`(\d+)`)
	lynisHardeningIndex = regexp.MustCompile(`(?i)Hardening index\s*:\s*(\d+)`)
	lynisWarningTag     = regexp.MustCompile(`\[WARNING\]`)
)

// Keyword sets that classify suggestion severity.
var (
	lynisHighKeywords = []string{"password", "auth", "root", "permission", "firewall", "encrypt"}
	lynisLowKeywords  = []string{"log", "banner", "update", "version"}
	// Imperative verbs that mark a bullet line as an actionable suggestion.
	lynisSuggestionCues = []string{"Consider", "Enable", "Disable", "Configure", "Install", "Set ", "Add ", "Remove"}
)

// LynisScanner audits host hardening by running lynis inside the target
// container and parsing its text report.
type LynisScanner struct {
	docker *exec.Docker
	store  *artifacts.Store
	logger *logging.Logger
}

// NewLynisScanner creates the lynis adapter.
func NewLynisScanner(docker *exec.Docker, store *artifacts.Store, logger *logging.Logger) *LynisScanner {
	return &LynisScanner{docker: docker, store: store, logger: logger}
}

// Kind returns the scanner kind identifier.
func (s *LynisScanner) Kind() string {
	return db.ScannerLynis
}

// Run executes a lynis audit against the target container.
func (s *LynisScanner) Run(ctx context.Context, target *db.Target, scan *db.Scan) (*AdapterResult, error) {
	if err := requireContainer(target); err != nil {
		return nil, err
	}

	s.logger.Info("Starting lynis audit", "target", target.Name)

	result, err := s.docker.Exec(ctx, target.Name, "lynis", "audit", "system", "--no-colors", "--quick")
	if err != nil {
		return nil, err
	}

	output := result.Output()
	reportPath, err := s.store.Save(db.ScannerLynis, target.Name, scan.ID, "log", []byte(output))
	if err != nil {
		return nil, err
	}

	parsed := parseLynisOutput(output)

	adapterResult := &AdapterResult{
		Success:    true,
		Score:      parsed.Score,
		Passed:     parsed.Warnings + parsed.Suggestions,
		Failed:     len(parsed.Findings),
		Warnings:   parsed.Warnings,
		ReportPath: reportPath,
		Findings:   parsed.Findings,
		Degraded:   parsed.Score == 0,
	}

	s.logger.Info("Lynis audit completed",
		"target", target.Name,
		"score", adapterResult.Score,
		"warnings", parsed.Warnings,
		"suggestions", parsed.Suggestions)

	return adapterResult, nil
}

// lynisReport holds the values extracted from a lynis text report.
type lynisReport struct {
	Score       int
	Warnings    int
	Suggestions int
	Findings    []Finding
}

// parseLynisOutput extracts the hardening index, warning and suggestion
// counts, and findings from lynis stdout. Warning lines are deduplicated
// by title.
func parseLynisOutput(output string) *lynisReport {
	report := &lynisReport{}
	seenTitles := make(map[string]bool)

	addFinding := func(f Finding) {
		if seenTitles[f.Title] {
			return
		}
		seenTitles[f.Title] = true
		report.Findings = append(report.Findings, f)
	}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(line)

		switch {
		case strings.Contains(lower, "hardening index") || strings.Contains(lower, "hardening_index"):
			if m := lynisNumber.FindStringSubmatch(line); m != nil {
				report.Score, _ = strconv.Atoi(m[1])
			}

		case strings.HasPrefix(trimmed, "! ") || (strings.Contains(lower, "warning") && strings.Contains(line, "[")):
			report.Warnings++
			title := truncate(strings.TrimSpace(strings.TrimPrefix(trimmed, "! ")), 500)
			if title != "" {
				addFinding(Finding{
					RuleID:   fmt.Sprintf("LYNIS-WARN-%04d", report.Warnings),
					Title:    title,
					Severity: db.SeverityHigh,
					Status:   db.FindingStatusFail,
					Category: "hardening",
				})
			}

		case strings.HasPrefix(trimmed, "- ") && containsAny(trimmed, lynisSuggestionCues):
			report.Suggestions++
			title := truncate(strings.TrimSpace(strings.TrimPrefix(trimmed, "- ")), 500)
			if len(title) > 10 {
				addFinding(Finding{
					RuleID:   fmt.Sprintf("LYNIS-SUGG-%04d", report.Suggestions),
					Title:    title,
					Severity: suggestionSeverity(title),
					Status:   db.FindingStatusFail,
					Category: "hardening",
				})
			}
		}

		if strings.Contains(line, "[WARNING]") {
			report.Warnings++
			title := strings.TrimSpace(lynisWarningTag.ReplaceAllString(line, ""))
			title = truncate(strings.TrimSpace(strings.Trim(title, "-")), 500)
			if len(title) > 5 {
				addFinding(Finding{
					RuleID:   fmt.Sprintf("LYNIS-W-%04d", report.Warnings),
					Title:    title,
					Severity: db.SeverityHigh,
					Status:   db.FindingStatusFail,
					Category: "security",
				})
			}
		}
	}

	// Reports sometimes render the index on a line the generic match missed.
	if report.Score == 0 && output != "" {
		if m := lynisHardeningIndex.FindStringSubmatch(output); m != nil {
			report.Score, _ = strconv.Atoi(m[1])
		}
	}

	return report
}

// suggestionSeverity classifies a suggestion title by keyword.
func suggestionSeverity(title string) string {
	lower := strings.ToLower(title)
	for _, w := range lynisHighKeywords {
		if strings.Contains(lower, w) {
			return db.SeverityHigh
		}
	}
	for _, w := range lynisLowKeywords {
		if strings.Contains(lower, w) {
			return db.SeverityLow
		}
	}
	return db.SeverityMedium
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
