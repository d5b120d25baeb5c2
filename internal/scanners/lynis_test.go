package scanners

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/exec"
)

const sampleLynisOutput = `
[+] Initializing program
------------------------------------
  - Detecting OS...                                           [ DONE ]

[+] Boot and services
------------------------------------
  - Checking presence GRUB2                                   [ FOUND ]
  - Check running services                                    [ WARNING ]

  ! Found one or more vulnerable packages.

  Suggestions:
  - Configure password aging limits to enforce password changing on a regular base
  - Install a PAM module for password strength testing like pam_cracklib or pam_passwdqc
  - Enable logging to an external logging host for archiving purposes

  Lynis security scan details:

  Hardening index : 64 [############        ]
  Tests performed : 232
`

func TestParseLynisOutput(t *testing.T) {
	report := parseLynisOutput(sampleLynisOutput)

	assert.Equal(t, 64, report.Score)
	// One "! " warning line plus one bracketed WARNING result line.
	assert.Equal(t, 2, report.Warnings)
	assert.Equal(t, 3, report.Suggestions)

	require.NotEmpty(t, report.Findings)
	titles := make(map[string]bool)
	for _, f := range report.Findings {
		assert.False(t, titles[f.Title], "duplicate finding title: %s", f.Title)
		titles[f.Title] = true
		assert.Equal(t, db.FindingStatusFail, f.Status)
	}
}

func TestParseLynisSuggestionSeverity(t *testing.T) {
	report := parseLynisOutput(sampleLynisOutput)

	severityByRule := make(map[string]string)
	for _, f := range report.Findings {
		severityByRule[f.RuleID] = f.Severity
	}

	// Password-related suggestions rank high, logging-related rank low.
	assert.Equal(t, db.SeverityHigh, severityByRule["LYNIS-SUGG-0001"])
	assert.Equal(t, db.SeverityHigh, severityByRule["LYNIS-SUGG-0002"])
	assert.Equal(t, db.SeverityLow, severityByRule["LYNIS-SUGG-0003"])
}

func TestParseLynisOutputEmpty(t *testing.T) {
	report := parseLynisOutput("")

	assert.Equal(t, 0, report.Score)
	assert.Equal(t, 0, report.Warnings)
	assert.Equal(t, 0, report.Suggestions)
	assert.Empty(t, report.Findings)
}

func TestParseLynisHardeningIndexFallback(t *testing.T) {
	// The index line can appear without surfacing in the line scan when it
	// carries other digits first.
	report := parseLynisOutput("some preamble\nHardening index : 82")
	assert.Equal(t, 82, report.Score)
}

func TestLynisRun(t *testing.T) {
	runner := &scriptedRunner{scripts: map[string]*exec.Result{
		"lynis audit system": {Stdout: sampleLynisOutput},
	}}
	registry := NewRegistry(runner, testStore(), testConfig())
	scanner, err := registry.ForKind(db.ScannerLynis)
	require.NoError(t, err)

	result, err := scanner.Run(context.Background(), containerTarget("web-1"), testScan())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 64, result.Score)
	assert.False(t, result.Degraded)
	assert.Equal(t, len(result.Findings), result.Failed)
	assert.Equal(t, result.Warnings+3, result.Passed)
	assert.NotEmpty(t, result.ReportPath)

	// The audit must run inside the target container.
	require.Len(t, runner.commands, 1)
	assert.Contains(t, runner.commands[0], "docker exec web-1 lynis audit system --no-colors --quick")
}

func TestLynisRunDegradedWithoutScore(t *testing.T) {
	runner := &scriptedRunner{scripts: map[string]*exec.Result{
		"lynis audit system": {Stdout: "no usable report here"},
	}}
	registry := NewRegistry(runner, testStore(), testConfig())
	scanner, err := registry.ForKind(db.ScannerLynis)
	require.NoError(t, err)

	result, err := scanner.Run(context.Background(), containerTarget("web-1"), testScan())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.Score)
	assert.True(t, result.Degraded)
}
