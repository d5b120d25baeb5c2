// Package scanners implements the scanner adapters. Each adapter drives one
// external security tool against a container target and normalizes its
// output into findings and summary counts. Parsers are pure functions kept
// separate from execution so they can be tested on captured tool output.
package scanners

import (
	"context"

	"github.com/scanward/scanward/internal/artifacts"
	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/errors"
	"github.com/scanward/scanward/internal/exec"
	"github.com/scanward/scanward/internal/logging"
)

// Finding is one normalized check result produced by an adapter.
type Finding struct {
	RuleID      string
	Title       string
	Description string
	Severity    string
	Status      string
	Category    string
	Remediation string
	References  []string
}

// AdapterResult summarizes one adapter run.
type AdapterResult struct {
	Success        bool
	Score          int
	Passed         int
	Failed         int
	Warnings       int
	ReportPath     string
	HTMLReportPath string
	Findings       []Finding
	// Degraded marks results assembled from partial or fallback parsing,
	// such as a missing hardening index or unparseable XML.
	Degraded bool
}

// Scanner runs one kind of security scan against a target.
type Scanner interface {
	// Kind returns the scanner kind identifier.
	Kind() string

	// Run executes the scan. The context carries the per-scan timeout and
	// cancellation. A returned error means the scan failed outright; a
	// result with Degraded set means the tool ran but parsing fell back.
	Run(ctx context.Context, target *db.Target, scan *db.Scan) (*AdapterResult, error)
}

// Config holds adapter settings.
type Config struct {
	// TrivyImage is the pinned trivy scanner image reference.
	TrivyImage string

	// SCAPContentDir is the directory holding SCAP datastream content
	// inside target containers.
	SCAPContentDir string
}

// Registry dispatches scans to the closed set of known adapters.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds the adapter set on top of the given runner.
func NewRegistry(runner exec.Runner, store *artifacts.Store, cfg Config) *Registry {
	docker := exec.NewDocker(runner)
	logger := logging.Default().WithComponent("scanners")

	return &Registry{
		scanners: map[string]Scanner{
			db.ScannerLynis:    NewLynisScanner(docker, store, logger),
			db.ScannerOpenSCAP: NewOpenSCAPScanner(docker, store, cfg, logger),
			db.ScannerTrivy:    NewTrivyScanner(docker, store, cfg, logger),
			db.ScannerAtomic:   NewAtomicScanner(docker, store, logger),
		},
	}
}

// ForKind returns the adapter for a scanner kind.
func (r *Registry) ForKind(kind string) (Scanner, error) {
	scanner, ok := r.scanners[kind]
	if !ok {
		return nil, errors.ErrUnknownScanner(kind)
	}
	return scanner, nil
}

// Kinds returns the registered scanner kinds.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.scanners))
	for _, kind := range db.ScannerKinds {
		if _, ok := r.scanners[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// requireContainer rejects targets the container-exec adapters cannot scan.
func requireContainer(target *db.Target) error {
	if target.Kind != db.TargetKindContainer {
		return errors.ErrUnsupportedTargetKind(target.Kind)
	}
	return nil
}

// scoreFromCounts computes the pass-ratio score used by the compliance and
// probe adapters. No checks at all scores 0.
func scoreFromCounts(passed, failed int) int {
	total := passed + failed
	if total == 0 {
		return 0
	}
	return passed * 100 / total
}
