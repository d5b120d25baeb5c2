package scanners

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/errors"
	"github.com/scanward/scanward/internal/exec"
)

const sampleXCCDFResults = `<?xml version="1.0" encoding="UTF-8"?>
<Benchmark xmlns="http://checklists.nist.gov/xccdf/1.2">
  <TestResult>
    <rule-result idref="xccdf_org.ssgproject.content_rule_package_aide_installed">
      <result>pass</result>
    </rule-result>
    <rule-result idref="xccdf_org.ssgproject.content_rule_service_auditd_enabled">
      <result>pass</result>
    </rule-result>
    <rule-result idref="xccdf_org.ssgproject.content_rule_accounts_password_minlen">
      <result>fail</result>
    </rule-result>
    <rule-result idref="xccdf_org.ssgproject.content_rule_sshd_disable_root_login">
      <result>fail</result>
    </rule-result>
    <rule-result idref="xccdf_org.ssgproject.content_rule_grub2_password">
      <result>fail</result>
    </rule-result>
    <rule-result idref="xccdf_org.ssgproject.content_rule_kernel_module_usb">
      <result>error</result>
    </rule-result>
    <rule-result idref="xccdf_org.ssgproject.content_rule_something_odd">
      <result>unknown</result>
    </rule-result>
    <rule-result idref="xccdf_org.ssgproject.content_rule_ovirt_only">
      <result>notapplicable</result>
    </rule-result>
  </TestResult>
</Benchmark>`

func TestParseXCCDFResults(t *testing.T) {
	report := parseXCCDFResults(sampleXCCDFResults)

	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, 1, report.NotApplicable)
	require.Len(t, report.Findings, 3)

	first := report.Findings[0]
	assert.Equal(t, "xccdf_org.ssgproject.content_rule_accounts_password_minlen", first.RuleID)
	assert.Equal(t, "Accounts Password Minlen", first.Title)
	assert.Equal(t, db.SeverityHigh, first.Severity)
	assert.Equal(t, db.FindingStatusFail, first.Status)
	assert.Equal(t, "compliance", first.Category)
}

// Error and unknown rule results do not enter the score denominator:
// 2 pass / 3 fail scores 40.
func TestXCCDFScorePinned(t *testing.T) {
	report := parseXCCDFResults(sampleXCCDFResults)
	assert.Equal(t, 40, scoreFromCounts(report.Passed, report.Failed))
}

func TestParseXCCDFResultsMalformed(t *testing.T) {
	report := parseXCCDFResults("<Benchmark><rule-result>")
	assert.Equal(t, 0, report.Passed)
	assert.Equal(t, 0, report.Failed)
	assert.Empty(t, report.Findings)
}

func TestParseOSCAPStdout(t *testing.T) {
	stdout := `Title   Install AIDE
Rule    xccdf_org.ssgproject.content_rule_package_aide_installed
Result  pass

Title   Disable root SSH login
Rule    xccdf_org.ssgproject.content_rule_sshd_disable_root_login
Result  fail
`
	passed, failed := parseOSCAPStdout(stdout)
	assert.Equal(t, 1, passed)
	assert.Equal(t, 1, failed)
}

func TestOpenSCAPRun(t *testing.T) {
	runner := &scriptedRunner{scripts: map[string]*exec.Result{
		"command -v oscap":          {Stdout: "/usr/bin/oscap"},
		"oscap xccdf eval":          {Stdout: ""},
		"cat /tmp/oscap-results.xml": {Stdout: sampleXCCDFResults},
	}}
	registry := NewRegistry(runner, testStore(), testConfig())
	scanner, err := registry.ForKind(db.ScannerOpenSCAP)
	require.NoError(t, err)

	result, err := scanner.Run(context.Background(), containerTarget("db-1"), testScan())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 40, result.Score)
	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, 1, result.Warnings)
	assert.False(t, result.Degraded)
	assert.NotEmpty(t, result.ReportPath)

	// The debian target must evaluate the debian datastream.
	joined := ""
	for _, cmd := range runner.commands {
		joined += cmd + "\n"
	}
	assert.Contains(t, joined, "ssg-debian12-ds.xml")
	assert.Contains(t, joined, "--profile xccdf_org.ssgproject.content_profile_standard")
}

func TestOpenSCAPRunUsesScanProfile(t *testing.T) {
	runner := &scriptedRunner{scripts: map[string]*exec.Result{
		"command -v oscap":          {Stdout: "/usr/bin/oscap"},
		"cat /tmp/oscap-results.xml": {Stdout: sampleXCCDFResults},
	}}
	registry := NewRegistry(runner, testStore(), testConfig())
	scanner, err := registry.ForKind(db.ScannerOpenSCAP)
	require.NoError(t, err)

	scan := testScan()
	profile := "xccdf_org.ssgproject.content_profile_cis"
	scan.Profile = &profile

	_, err = scanner.Run(context.Background(), containerTarget("db-1"), scan)
	require.NoError(t, err)

	found := false
	for _, cmd := range runner.commands {
		if containsAny(cmd, []string{"--profile " + profile}) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestOpenSCAPRunMissingTool(t *testing.T) {
	runner := &scriptedRunner{scripts: map[string]*exec.Result{
		"command -v oscap": {ExitCode: 127},
	}}
	registry := NewRegistry(runner, testStore(), testConfig())
	scanner, err := registry.ForKind(db.ScannerOpenSCAP)
	require.NoError(t, err)

	_, err = scanner.Run(context.Background(), containerTarget("db-1"), testScan())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oscap not installed in db-1")
}

func TestOpenSCAPRunUnknownPlatform(t *testing.T) {
	runner := &scriptedRunner{scripts: map[string]*exec.Result{
		"command -v oscap": {Stdout: "/usr/bin/oscap"},
	}}
	registry := NewRegistry(runner, testStore(), testConfig())
	scanner, err := registry.ForKind(db.ScannerOpenSCAP)
	require.NoError(t, err)

	target := containerTarget("db-1")
	osFamily := "gentoo"
	target.OSFamily = &osFamily

	_, err = scanner.Run(context.Background(), target, testScan())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNoContent))
	assert.Contains(t, err.Error(), "no SCAP datastream for OS: gentoo")
}

func TestOpenSCAPRunStdoutFallbackIsDegraded(t *testing.T) {
	runner := &scriptedRunner{scripts: map[string]*exec.Result{
		"command -v oscap": {Stdout: "/usr/bin/oscap"},
		"oscap xccdf eval": {Stdout: "Result  pass\nResult  fail\nResult  fail\n"},
		// No XML results produced.
	}}
	registry := NewRegistry(runner, testStore(), testConfig())
	scanner, err := registry.ForKind(db.ScannerOpenSCAP)
	require.NoError(t, err)

	result, err := scanner.Run(context.Background(), containerTarget("db-1"), testScan())
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 33, result.Score)
	assert.Empty(t, result.ReportPath)
}
