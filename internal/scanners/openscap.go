package scanners

import (
	"context"
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	"github.com/scanward/scanward/internal/artifacts"
	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/errors"
	"github.com/scanward/scanward/internal/exec"
	"github.com/scanward/scanward/internal/logging"
)

const (
	defaultOSCAPProfile = "xccdf_org.ssgproject.content_profile_standard"
	oscapResultsPath    = "/tmp/oscap-results.xml"
	xccdfRulePrefix     = "xccdf_org.ssgproject.content_rule_"
)

// datastreamFiles maps an OS family to its SCAP source datastream file.
var datastreamFiles = map[string]string{
	"fedora": "ssg-fedora-ds.xml",
	"debian": "ssg-debian12-ds.xml",
	"centos": "ssg-cs9-ds.xml",
	"ubuntu": "ssg-ubuntu2204-ds.xml",
}

// OpenSCAPScanner evaluates compliance by running oscap inside the target
// container against the datastream matching its OS family.
type OpenSCAPScanner struct {
	docker *exec.Docker
	store  *artifacts.Store
	cfg    Config
	logger *logging.Logger
}

// NewOpenSCAPScanner creates the openscap adapter.
func NewOpenSCAPScanner(docker *exec.Docker, store *artifacts.Store, cfg Config, logger *logging.Logger) *OpenSCAPScanner {
	return &OpenSCAPScanner{docker: docker, store: store, cfg: cfg, logger: logger}
}

// Kind returns the scanner kind identifier.
func (s *OpenSCAPScanner) Kind() string {
	return db.ScannerOpenSCAP
}

// datastreamFor resolves the datastream path for a target's OS family.
func (s *OpenSCAPScanner) datastreamFor(osFamily string) (string, error) {
	file, ok := datastreamFiles[osFamily]
	if !ok {
		return "", errors.ErrNoContentForPlatform(osFamily)
	}
	return path.Join(s.cfg.SCAPContentDir, file), nil
}

// Run executes an oscap xccdf evaluation against the target container.
func (s *OpenSCAPScanner) Run(ctx context.Context, target *db.Target, scan *db.Scan) (*AdapterResult, error) {
	if err := requireContainer(target); err != nil {
		return nil, err
	}

	check, err := s.docker.Exec(ctx, target.Name, "sh", "-c", "command -v oscap")
	if err != nil {
		return nil, err
	}
	if check.ExitCode != 0 {
		return nil, errors.NewScanErrorWithTarget(errors.CodeExecutionFailed,
			fmt.Sprintf("oscap not installed in %s. Install openscap-scanner package.", target.Name),
			target.Name)
	}

	osFamily := ""
	if target.OSFamily != nil {
		osFamily = *target.OSFamily
	}
	datastream, err := s.datastreamFor(osFamily)
	if err != nil {
		return nil, err
	}

	profile := defaultOSCAPProfile
	if scan.Profile != nil && *scan.Profile != "" {
		profile = *scan.Profile
	}

	s.logger.Info("Starting openscap evaluation",
		"target", target.Name, "profile", profile, "datastream", datastream)

	// oscap exits non-zero when any rule fails, so the exit code is not
	// checked here.
	evalResult, err := s.docker.Exec(ctx, target.Name,
		"oscap", "xccdf", "eval",
		"--profile", profile,
		"--results", oscapResultsPath,
		datastream)
	if err != nil {
		return nil, err
	}

	xmlResult, err := s.docker.Exec(ctx, target.Name, "cat", oscapResultsPath)
	if err != nil {
		return nil, err
	}
	xmlData := xmlResult.Stdout

	reportPath := ""
	if strings.TrimSpace(xmlData) != "" {
		reportPath, err = s.store.Save(db.ScannerOpenSCAP, target.Name, scan.ID, "xml", []byte(xmlData))
		if err != nil {
			return nil, err
		}
	}

	parsed := parseXCCDFResults(xmlData)

	degraded := false
	if parsed.Passed == 0 && parsed.Failed == 0 {
		parsed.Passed, parsed.Failed = parseOSCAPStdout(evalResult.Stdout)
		degraded = true
	}

	adapterResult := &AdapterResult{
		Success:    true,
		Score:      scoreFromCounts(parsed.Passed, parsed.Failed),
		Passed:     parsed.Passed,
		Failed:     parsed.Failed,
		Warnings:   parsed.NotApplicable,
		ReportPath: reportPath,
		Findings:   parsed.Findings,
		Degraded:   degraded,
	}

	s.logger.Info("OpenSCAP evaluation completed",
		"target", target.Name,
		"score", adapterResult.Score,
		"passed", parsed.Passed,
		"failed", parsed.Failed)

	return adapterResult, nil
}

// xccdfReport holds the values extracted from XCCDF result XML.
type xccdfReport struct {
	Passed        int
	Failed        int
	NotApplicable int
	Findings      []Finding
}

// xccdfRuleResult is one rule-result element in an XCCDF result document.
type xccdfRuleResult struct {
	IDRef  string `xml:"idref,attr"`
	Result string `xml:"result"`
}

// parseXCCDFResults walks an XCCDF result document and tallies rule
// results. Failed rules become compliance findings titled from their rule
// id. Malformed XML yields an empty report rather than an error.
func parseXCCDFResults(xmlData string) *xccdfReport {
	report := &xccdfReport{}
	if strings.TrimSpace(xmlData) == "" {
		return report
	}

	decoder := xml.NewDecoder(strings.NewReader(xmlData))
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "rule-result" {
			continue
		}

		var rr xccdfRuleResult
		if err := decoder.DecodeElement(&rr, &start); err != nil {
			break
		}

		switch rr.Result {
		case "pass":
			report.Passed++
		case "fail":
			report.Failed++
			ruleID := rr.IDRef
			if ruleID == "" {
				ruleID = "unknown"
			}
			report.Findings = append(report.Findings, Finding{
				RuleID:   truncate(ruleID, 200),
				Title:    truncate(ruleTitle(ruleID), 500),
				Severity: db.SeverityHigh,
				Status:   db.FindingStatusFail,
				Category: "compliance",
			})
		case "notapplicable":
			report.NotApplicable++
		}
	}

	return report
}

// parseOSCAPStdout counts pass and fail result lines in oscap stdout. Used
// when the XML result document yields nothing.
func parseOSCAPStdout(stdout string) (passed, failed int) {
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, "Result") {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "pass") {
			passed++
		} else if strings.Contains(lower, "fail") {
			failed++
		}
	}
	return passed, failed
}

// ruleTitle derives a readable title from an XCCDF rule id.
func ruleTitle(ruleID string) string {
	title := strings.TrimPrefix(ruleID, xccdfRulePrefix)
	words := strings.Split(strings.ReplaceAll(title, "_", " "), " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
