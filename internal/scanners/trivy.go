package scanners

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scanward/scanward/internal/artifacts"
	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/errors"
	"github.com/scanward/scanward/internal/exec"
	"github.com/scanward/scanward/internal/logging"
)

// trivyFindingCap bounds how many vulnerabilities become findings. Counts
// and the score still reflect every vulnerability in the report.
const trivyFindingCap = 100

// TrivyScanner scans the image backing a container for known
// vulnerabilities by running the pinned trivy image against it.
type TrivyScanner struct {
	docker *exec.Docker
	store  *artifacts.Store
	cfg    Config
	logger *logging.Logger
}

// NewTrivyScanner creates the trivy adapter.
func NewTrivyScanner(docker *exec.Docker, store *artifacts.Store, cfg Config, logger *logging.Logger) *TrivyScanner {
	return &TrivyScanner{docker: docker, store: store, cfg: cfg, logger: logger}
}

// Kind returns the scanner kind identifier.
func (s *TrivyScanner) Kind() string {
	return db.ScannerTrivy
}

// Run resolves the target's backing image and scans it for vulnerabilities.
func (s *TrivyScanner) Run(ctx context.Context, target *db.Target, scan *db.Scan) (*AdapterResult, error) {
	if err := requireContainer(target); err != nil {
		return nil, err
	}

	inspect, err := s.docker.Inspect(ctx, target.Name, "{{.Config.Image}}")
	if err != nil {
		return nil, err
	}
	imageName := strings.TrimSpace(inspect.Stdout)
	if inspect.ExitCode != 0 || imageName == "" {
		return nil, errors.NewScanErrorWithTarget(errors.CodeExecutionFailed,
			fmt.Sprintf("Cannot determine image for container %s", target.Name),
			target.Name)
	}

	s.logger.Info("Starting trivy scan", "target", target.Name, "image", imageName)

	result, err := s.docker.RunWithFlags(ctx,
		[]string{"-v", "/var/run/docker.sock:/var/run/docker.sock:ro"},
		s.cfg.TrivyImage,
		"image", "--no-progress", "--format", "json", "--scanners", "vuln", imageName)
	if err != nil {
		return nil, err
	}

	output := result.Stdout
	reportPath, err := s.store.Save(db.ScannerTrivy, target.Name, scan.ID, "json", []byte(output))
	if err != nil {
		return nil, err
	}

	parsed := parseTrivyReport(output)

	adapterResult := &AdapterResult{
		Success:    true,
		Score:      trivyScore(parsed),
		Passed:     parsed.Medium + parsed.Low,
		Failed:     parsed.Critical + parsed.High,
		Warnings:   parsed.Medium + parsed.Low,
		ReportPath: reportPath,
		Findings:   parsed.Findings,
		Degraded:   parsed.Degraded,
	}

	s.logger.Info("Trivy scan completed",
		"target", target.Name,
		"image", imageName,
		"total", parsed.Total,
		"critical", parsed.Critical,
		"high", parsed.High,
		"medium", parsed.Medium,
		"low", parsed.Low)

	return adapterResult, nil
}

// trivyReport holds severity tallies extracted from trivy JSON output.
type trivyReport struct {
	Total    int
	Critical int
	High     int
	Medium   int
	Low      int
	Findings []Finding
	Degraded bool
}

// trivyDocument mirrors the subset of trivy's JSON report the adapter reads.
type trivyDocument struct {
	Results []struct {
		Vulnerabilities []struct {
			VulnerabilityID  string   `json:"VulnerabilityID"`
			PkgName          string   `json:"PkgName"`
			InstalledVersion string   `json:"InstalledVersion"`
			Title            string   `json:"Title"`
			Severity         string   `json:"Severity"`
			References       []string `json:"References"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

// parseTrivyReport tallies vulnerabilities by severity. Findings are capped
// at trivyFindingCap while counts remain exact. Unparseable JSON yields a
// degraded empty report.
func parseTrivyReport(output string) *trivyReport {
	report := &trivyReport{}

	var doc trivyDocument
	if err := json.Unmarshal([]byte(output), &doc); err != nil {
		report.Degraded = true
		return report
	}

	for _, result := range doc.Results {
		for _, vuln := range result.Vulnerabilities {
			report.Total++

			severity := strings.ToLower(vuln.Severity)
			switch severity {
			case db.SeverityCritical:
				report.Critical++
			case db.SeverityHigh:
				report.High++
			case db.SeverityMedium:
				report.Medium++
			case db.SeverityLow:
				report.Low++
			default:
				severity = db.SeverityInfo
			}

			if report.Total <= trivyFindingCap {
				ruleID := vuln.VulnerabilityID
				if ruleID == "" {
					ruleID = "CVE-UNKNOWN"
				}
				title := vuln.Title
				if title == "" {
					title = vuln.VulnerabilityID
				}
				pkg := vuln.PkgName
				if pkg == "" {
					pkg = "?"
				}
				report.Findings = append(report.Findings, Finding{
					RuleID:     ruleID,
					Title:      truncate(fmt.Sprintf("%s %s - %s", pkg, vuln.InstalledVersion, title), 500),
					Severity:   severity,
					Status:     db.FindingStatusFail,
					Category:   "vulnerability",
					References: vuln.References,
				})
			}
		}
	}

	return report
}

// trivyScore weights vulnerabilities by severity and clamps to 0..100.
func trivyScore(report *trivyReport) int {
	score := 100 - (report.Critical*10 + report.High*5 + report.Medium*2 + report.Low)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
