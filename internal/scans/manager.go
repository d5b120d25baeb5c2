// Package scans implements the scan lifecycle manager. It owns every
// transition of the scan state machine (pending, running, completed, failed,
// cancelled), dispatches adapters onto the task runner, persists terminal
// results with their findings, and triggers notifications exactly once per
// completed or failed scan.
package scans

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/scanward/scanward/internal/config"
	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/errors"
	"github.com/scanward/scanward/internal/logging"
	"github.com/scanward/scanward/internal/metrics"
	"github.com/scanward/scanward/internal/scanners"
	"github.com/scanward/scanward/internal/tasks"
)

// persistTimeout bounds terminal-state writes so a dead database cannot pin
// a worker forever.
const persistTimeout = 30 * time.Second

// Store is the persistence surface the manager needs. internal/db.Store
// satisfies it; tests use an in-memory fake.
type Store interface {
	GetTarget(ctx context.Context, id uuid.UUID) (*db.Target, error)
	UpdateTargetStatus(ctx context.Context, id uuid.UUID, status string) error
	SetTargetLastScan(ctx context.Context, id, scanID uuid.UUID, score *int) error
	CreateScan(ctx context.Context, scan *db.Scan) error
	GetScan(ctx context.Context, id uuid.UUID) (*db.Scan, error)
	MarkScanRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	MarkScanCancelled(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error)
	CompleteScan(ctx context.Context, scan *db.Scan) (bool, error)
	InsertFindings(ctx context.Context, findings []*db.Finding) error
}

// Adapters resolves scanner kinds to adapters.
type Adapters interface {
	ForKind(kind string) (scanners.Scanner, error)
}

// Notifier dispatches scan event notifications. Delivery outcomes never
// affect scan records.
type Notifier interface {
	ScanCompleted(ctx context.Context, targetName, scanner string, score, passed, failed int) bool
	ScanFailed(ctx context.Context, targetName, scanner, errorMessage string) bool
}

// CreateRequest describes a new scan to record.
type CreateRequest struct {
	TargetID   uuid.UUID  `json:"target_id" validate:"required"`
	Scanner    string     `json:"scanner" validate:"required,oneof=lynis openscap trivy atomic"`
	Profile    *string    `json:"profile,omitempty" validate:"omitempty,min=1,max=255"`
	Requester  *string    `json:"requester,omitempty" validate:"omitempty,min=1,max=255"`
	ScheduleID *uuid.UUID `json:"schedule_id,omitempty"`
}

// Manager owns the scan state machine.
type Manager struct {
	store    Store
	adapters Adapters
	runner   *tasks.Runner
	notifier Notifier
	cfg      config.ScanningConfig
	validate *validator.Validate
	logger   *logging.Logger

	mu       sync.Mutex
	cancels  map[uuid.UUID]context.CancelFunc
	inFlight map[uuid.UUID]uuid.UUID // target id -> scan id
}

// NewManager creates a lifecycle manager. The notifier may be nil when
// notifications are not configured.
func NewManager(store Store, adapters Adapters, runner *tasks.Runner, notifier Notifier, cfg config.ScanningConfig) *Manager {
	return &Manager{
		store:    store,
		adapters: adapters,
		runner:   runner,
		notifier: notifier,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logging.Default().WithComponent("scans"),
		cancels:  make(map[uuid.UUID]context.CancelFunc),
		inFlight: make(map[uuid.UUID]uuid.UUID),
	}
}

// Create records a new pending scan for an existing target.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*db.Scan, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, errors.WrapValidationError("invalid scan request", err)
	}

	target, err := m.store.GetTarget(ctx, req.TargetID)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return nil, errors.NewValidationFieldError("target does not exist", "target_id")
		}
		return nil, err
	}
	if !target.IsActive {
		return nil, errors.NewValidationFieldError("target is not active", "target_id")
	}

	scan := &db.Scan{
		ID:         uuid.New(),
		TargetID:   target.ID,
		Requester:  req.Requester,
		ScheduleID: req.ScheduleID,
		Scanner:    req.Scanner,
		Profile:    req.Profile,
		Status:     db.ScanStatusPending,
	}

	if err := m.store.CreateScan(ctx, scan); err != nil {
		return nil, err
	}

	m.logger.InfoScan("Scan created", target.Name,
		"scan_id", scan.ID.String(), "scanner", scan.Scanner)
	return scan, nil
}

// Start transitions a pending scan to running and launches its adapter on
// the task runner. The caller observes only the running transition; the
// adapter completes in the background. Returns ErrNotStartable when the scan
// does not exist or is no longer pending, and a TargetBusy error when the
// target already has a scan in flight.
func (m *Manager) Start(ctx context.Context, scanID uuid.UUID) (*db.Scan, error) {
	scan, err := m.store.GetScan(ctx, scanID)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return nil, errors.ErrNotStartable
		}
		return nil, err
	}
	if scan.Status != db.ScanStatusPending {
		return nil, errors.ErrNotStartable
	}

	target, err := m.store.GetTarget(ctx, scan.TargetID)
	if err != nil {
		return nil, err
	}

	if err := m.reserveTarget(target.ID, scan.ID); err != nil {
		return nil, err
	}

	startedAt := time.Now().UTC()
	ok, err := m.store.MarkScanRunning(ctx, scan.ID, startedAt)
	if err != nil {
		m.releaseTarget(target.ID)
		return nil, err
	}
	if !ok {
		m.releaseTarget(target.ID)
		return nil, errors.ErrNotStartable
	}

	scan.Status = db.ScanStatusRunning
	scan.StartedAt = &startedAt

	if err := m.store.UpdateTargetStatus(ctx, target.ID, db.TargetStatusScanning); err != nil {
		m.logger.ErrorScan("Failed to mark target scanning", target.Name, err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), m.timeout())
	m.registerCancel(scan.ID, cancel)

	task := tasks.NewFuncTask(scan.ID.String(), "scan", func(taskCtx context.Context) error {
		// Runner shutdown cancels every in-flight scan.
		stop := context.AfterFunc(taskCtx, cancel)
		defer stop()
		return m.execute(runCtx, target, scan)
	})

	if _, err := m.runner.Go(task); err != nil {
		m.release(scan.ID, target.ID)
		m.failUnlaunched(target, scan, startedAt, err)
		return nil, errors.WrapScanError(errors.CodeExecutionFailed, "failed to launch scan", err)
	}

	m.logger.InfoScan("Scan started", target.Name,
		"scan_id", scan.ID.String(), "scanner", scan.Scanner)
	return scan, nil
}

// Cancel transitions a pending or running scan to cancelled and interrupts
// its adapter. Returns ErrNotCancellable when the scan does not exist or is
// already terminal.
func (m *Manager) Cancel(ctx context.Context, scanID uuid.UUID) (*db.Scan, error) {
	completedAt := time.Now().UTC()
	ok, err := m.store.MarkScanCancelled(ctx, scanID, completedAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.ErrNotCancellable
	}

	m.mu.Lock()
	cancel := m.cancels[scanID]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	scan, err := m.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Scan cancelled", "scan_id", scanID.String())
	return scan, nil
}

// Active returns the number of scans currently in flight.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inFlight)
}

// execute runs the adapter and persists the terminal result. It is the only
// path that writes completed or failed states.
func (m *Manager) execute(runCtx context.Context, target *db.Target, scan *db.Scan) error {
	defer m.release(scan.ID, target.ID)

	startedAt := *scan.StartedAt

	adapter, err := m.adapters.ForKind(scan.Scanner)
	if err != nil {
		return m.finalize(target, scan, startedAt, nil, err)
	}

	result, err := m.runAdapter(runCtx, adapter, target, scan)
	return m.finalize(target, scan, startedAt, result, err)
}

// runAdapter executes the adapter and converts panics into execution errors
// so a broken adapter can never leave a scan in a non-terminal state.
func (m *Manager) runAdapter(ctx context.Context, adapter scanners.Scanner, target *db.Target, scan *db.Scan) (result *scanners.AdapterResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.NewScanError(errors.CodeExecutionFailed, fmt.Sprintf("scan panicked: %v", r))
		}
	}()
	return adapter.Run(ctx, target, scan)
}

// finalize writes the terminal scan record, inserts findings, restores the
// target, records metrics, and dispatches the notification. Persistence
// failures propagate to the task runner after the target is restored.
func (m *Manager) finalize(target *db.Target, scan *db.Scan, startedAt time.Time, result *scanners.AdapterResult, runErr error) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	completedAt := time.Now().UTC()
	duration := int(completedAt.Sub(startedAt).Seconds())
	scan.CompletedAt = &completedAt
	scan.DurationSeconds = &duration

	succeeded := runErr == nil && result != nil && result.Success
	if succeeded {
		score := result.Score
		scan.Status = db.ScanStatusCompleted
		scan.Score = &score
		scan.Passed = result.Passed
		scan.Failed = result.Failed
		scan.Warnings = result.Warnings
		scan.ReportPath = optional(result.ReportPath)
		scan.HTMLReportPath = optional(result.HTMLReportPath)
		scan.ErrorMessage = nil
	} else {
		scan.Status = db.ScanStatusFailed
		scan.Score = nil
		scan.ErrorMessage = optional(errorText(runErr))
	}

	wrote, err := m.store.CompleteScan(ctx, scan)
	if err != nil {
		m.logger.ErrorScan("Failed to persist scan result", target.Name, err,
			"scan_id", scan.ID.String())
		m.restoreTarget(ctx, target)
		return err
	}
	if !wrote {
		// A cancel raced the completion; the cancelled record stands.
		m.logger.InfoScan("Scan result discarded, scan already terminal", target.Name,
			"scan_id", scan.ID.String())
		m.restoreTarget(ctx, target)
		return nil
	}

	if succeeded {
		if result.Degraded {
			m.logger.Warn("Scan completed with degraded parsing",
				"target", target.Name, "scan_id", scan.ID.String(), "scanner", scan.Scanner)
		}
		if len(result.Findings) > 0 {
			if err := m.store.InsertFindings(ctx, findingRows(scan.ID, result.Findings)); err != nil {
				m.logger.ErrorScan("Failed to persist findings", target.Name, err,
					"scan_id", scan.ID.String())
				m.restoreTarget(ctx, target)
				return err
			}
		}
		if err := m.store.SetTargetLastScan(ctx, target.ID, scan.ID, scan.Score); err != nil {
			m.logger.ErrorScan("Failed to update target last scan", target.Name, err)
		}
	} else {
		metrics.IncrementScanErrors(scan.Scanner, target.Name)
	}

	m.restoreTarget(ctx, target)

	metrics.RecordScanDuration(scan.Scanner, completedAt.Sub(startedAt))
	metrics.IncrementScansTotal(scan.Scanner, scan.Status)

	m.logger.InfoScan("Scan finished", target.Name,
		"scan_id", scan.ID.String(), "scanner", scan.Scanner,
		"status", scan.Status, "duration_seconds", duration)

	m.dispatchNotification(target, scan)
	return nil
}

// failUnlaunched records a failed terminal state for a scan whose task was
// never accepted by the runner.
func (m *Manager) failUnlaunched(target *db.Target, scan *db.Scan, startedAt time.Time, cause error) {
	err := errors.WrapScanError(errors.CodeExecutionFailed, "failed to launch scan", cause)
	if ferr := m.finalize(target, scan, startedAt, nil, err); ferr != nil {
		m.logger.ErrorScan("Failed to record unlaunched scan", target.Name, ferr,
			"scan_id", scan.ID.String())
	}
}

// dispatchNotification sends the terminal notification off the completion
// path. Cancelled scans never notify, and neither does a nil notifier.
func (m *Manager) dispatchNotification(target *db.Target, scan *db.Scan) {
	if m.notifier == nil {
		return
	}

	var notify func(ctx context.Context) error
	switch scan.Status {
	case db.ScanStatusCompleted:
		score := 0
		if scan.Score != nil {
			score = *scan.Score
		}
		passed, failed := scan.Passed, scan.Failed
		notify = func(ctx context.Context) error {
			m.notifier.ScanCompleted(ctx, target.Name, scan.Scanner, score, passed, failed)
			return nil
		}
	case db.ScanStatusFailed:
		message := ""
		if scan.ErrorMessage != nil {
			message = *scan.ErrorMessage
		}
		notify = func(ctx context.Context) error {
			m.notifier.ScanFailed(ctx, target.Name, scan.Scanner, message)
			return nil
		}
	default:
		return
	}

	// The scan task still holds its runner slot here, so the notification
	// must not wait for one of its own.
	task := tasks.NewFuncTask(scan.ID.String(), "notify", notify)
	if _, err := m.runner.GoDetached(task); err != nil {
		m.logger.Warn("Notification dropped, task runner unavailable",
			"scan_id", scan.ID.String(), "error", err)
	}
}

// restoreTarget returns the target to online after a scan leaves it.
func (m *Manager) restoreTarget(ctx context.Context, target *db.Target) {
	if err := m.store.UpdateTargetStatus(ctx, target.ID, db.TargetStatusOnline); err != nil {
		m.logger.ErrorScan("Failed to restore target status", target.Name, err)
	}
}

// timeout returns the per-scan execution ceiling.
func (m *Manager) timeout() time.Duration {
	timeout := m.cfg.DefaultScanTimeout
	if timeout <= 0 || (m.cfg.MaxScanTimeout > 0 && timeout > m.cfg.MaxScanTimeout) {
		timeout = m.cfg.MaxScanTimeout
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return timeout
}

// reserveTarget enforces one in-flight scan per target.
func (m *Manager) reserveTarget(targetID, scanID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if runningScan, busy := m.inFlight[targetID]; busy {
		return errors.NewScanError(errors.CodeTargetBusy,
			fmt.Sprintf("target already has scan %s in flight", runningScan))
	}
	m.inFlight[targetID] = scanID
	metrics.SetActiveScans(len(m.inFlight))
	return nil
}

func (m *Manager) releaseTarget(targetID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, targetID)
	metrics.SetActiveScans(len(m.inFlight))
}

func (m *Manager) registerCancel(scanID uuid.UUID, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[scanID] = cancel
}

// release drops the scan's cancel registration and frees its target slot.
func (m *Manager) release(scanID, targetID uuid.UUID) {
	m.mu.Lock()
	cancel := m.cancels[scanID]
	delete(m.cancels, scanID)
	delete(m.inFlight, targetID)
	metrics.SetActiveScans(len(m.inFlight))
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// findingRows converts adapter findings to database rows.
func findingRows(scanID uuid.UUID, found []scanners.Finding) []*db.Finding {
	rows := make([]*db.Finding, 0, len(found))
	for _, f := range found {
		rows = append(rows, &db.Finding{
			ID:          uuid.New(),
			ScanID:      scanID,
			RuleID:      f.RuleID,
			Title:       f.Title,
			Description: optional(f.Description),
			Severity:    f.Severity,
			Status:      f.Status,
			Category:    optional(f.Category),
			Remediation: optional(f.Remediation),
			References:  f.References,
		})
	}
	return rows
}

func errorText(err error) string {
	if err == nil {
		return "scan failed"
	}
	// Timed-out scans store the plain message, not the coded form.
	if errors.IsCode(err, errors.CodeTimeout) {
		return "Scan timeout"
	}
	return err.Error()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
