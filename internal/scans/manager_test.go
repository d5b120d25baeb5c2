package scans

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanward/scanward/internal/config"
	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/errors"
	"github.com/scanward/scanward/internal/scanners"
	"github.com/scanward/scanward/internal/tasks"
)

const waitTimeout = 5 * time.Second

// fakeStore is an in-memory Store with the same transition guards as the
// database layer.
type fakeStore struct {
	mu       sync.Mutex
	targets  map[uuid.UUID]*db.Target
	scans    map[uuid.UUID]*db.Scan
	findings map[uuid.UUID][]*db.Finding
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		targets:  make(map[uuid.UUID]*db.Target),
		scans:    make(map[uuid.UUID]*db.Scan),
		findings: make(map[uuid.UUID][]*db.Finding),
	}
}

func (s *fakeStore) addTarget(target *db.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *target
	s.targets[target.ID] = &copied
}

func (s *fakeStore) GetTarget(_ context.Context, id uuid.UUID) (*db.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.targets[id]
	if !ok {
		return nil, errors.NewDatabaseError(errors.CodeNotFound, "target not found")
	}
	copied := *target
	return &copied, nil
}

func (s *fakeStore) UpdateTargetStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target, ok := s.targets[id]; ok {
		target.Status = status
	}
	return nil
}

func (s *fakeStore) SetTargetLastScan(_ context.Context, id, scanID uuid.UUID, score *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target, ok := s.targets[id]; ok {
		scanRef := scanID
		target.LastScanID = &scanRef
		target.LastScanScore = score
	}
	return nil
}

func (s *fakeStore) CreateScan(_ context.Context, scan *db.Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *scan
	copied.CreatedAt = time.Now().UTC()
	s.scans[scan.ID] = &copied
	return nil
}

func (s *fakeStore) GetScan(_ context.Context, id uuid.UUID) (*db.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[id]
	if !ok {
		return nil, errors.NewDatabaseError(errors.CodeNotFound, "scan not found")
	}
	copied := *scan
	return &copied, nil
}

func (s *fakeStore) MarkScanRunning(_ context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[id]
	if !ok || scan.Status != db.ScanStatusPending {
		return false, nil
	}
	scan.Status = db.ScanStatusRunning
	scan.StartedAt = &startedAt
	return true, nil
}

func (s *fakeStore) MarkScanCancelled(_ context.Context, id uuid.UUID, completedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scan, ok := s.scans[id]
	if !ok {
		return false, nil
	}
	switch scan.Status {
	case db.ScanStatusPending, db.ScanStatusRunning:
		scan.Status = db.ScanStatusCancelled
		scan.CompletedAt = &completedAt
		return true, nil
	}
	return false, nil
}

func (s *fakeStore) CompleteScan(_ context.Context, scan *db.Scan) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.scans[scan.ID]
	if !ok || stored.Status != db.ScanStatusRunning {
		return false, nil
	}
	copied := *scan
	s.scans[scan.ID] = &copied
	return true, nil
}

func (s *fakeStore) InsertFindings(_ context.Context, findings []*db.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range findings {
		s.findings[f.ScanID] = append(s.findings[f.ScanID], f)
	}
	return nil
}

func (s *fakeStore) scanStatus(id uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scan, ok := s.scans[id]; ok {
		return scan.Status
	}
	return ""
}

func (s *fakeStore) targetStatus(id uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target, ok := s.targets[id]; ok {
		return target.Status
	}
	return ""
}

// stubScanner runs a canned adapter function.
type stubScanner struct {
	kind string
	run  func(ctx context.Context, target *db.Target, scan *db.Scan) (*scanners.AdapterResult, error)
}

func (s *stubScanner) Kind() string { return s.kind }

func (s *stubScanner) Run(ctx context.Context, target *db.Target, scan *db.Scan) (*scanners.AdapterResult, error) {
	return s.run(ctx, target, scan)
}

// stubAdapters resolves every known kind to the same stub.
type stubAdapters struct {
	scanner scanners.Scanner
}

func (a *stubAdapters) ForKind(kind string) (scanners.Scanner, error) {
	if !db.IsValidScannerKind(kind) {
		return nil, errors.ErrUnknownScanner(kind)
	}
	return a.scanner, nil
}

// countingNotifier tallies notifications.
type countingNotifier struct {
	completed atomic.Int64
	failed    atomic.Int64
}

func (n *countingNotifier) ScanCompleted(context.Context, string, string, int, int, int) bool {
	n.completed.Add(1)
	return true
}

func (n *countingNotifier) ScanFailed(context.Context, string, string, string) bool {
	n.failed.Add(1)
	return true
}

type managerFixture struct {
	store    *fakeStore
	notifier *countingNotifier
	runner   *tasks.Runner
	manager  *Manager
	target   *db.Target
}

func newFixture(t *testing.T, run func(ctx context.Context, target *db.Target, scan *db.Scan) (*scanners.AdapterResult, error)) *managerFixture {
	t.Helper()
	return newFixtureWithRunner(t, tasks.DefaultConfig(), run)
}

func newFixtureWithRunner(t *testing.T, runnerCfg tasks.Config, run func(ctx context.Context, target *db.Target, scan *db.Scan) (*scanners.AdapterResult, error)) *managerFixture {
	t.Helper()

	store := newFakeStore()
	target := &db.Target{
		ID:       uuid.New(),
		Name:     "web-1",
		Kind:     db.TargetKindContainer,
		Status:   db.TargetStatusOnline,
		IsActive: true,
	}
	store.addTarget(target)

	notifier := &countingNotifier{}
	runner := tasks.NewRunner(runnerCfg)
	t.Cleanup(func() { _ = runner.Shutdown() })

	adapters := &stubAdapters{scanner: &stubScanner{kind: db.ScannerLynis, run: run}}
	cfg := config.ScanningConfig{
		MaxConcurrentScans: 4,
		DefaultScanTimeout: time.Minute,
		MaxScanTimeout:     2 * time.Minute,
	}
	manager := NewManager(store, adapters, runner, notifier, cfg)

	return &managerFixture{
		store:    store,
		notifier: notifier,
		runner:   runner,
		manager:  manager,
		target:   target,
	}
}

func succeedingAdapter(_ context.Context, _ *db.Target, _ *db.Scan) (*scanners.AdapterResult, error) {
	return &scanners.AdapterResult{
		Success:    true,
		Score:      64,
		Passed:     5,
		Failed:     5,
		Warnings:   2,
		ReportPath: "/reports/lynis/web-1.log",
		Findings: []scanners.Finding{
			{
				RuleID:     "LYNIS-0001",
				Title:      "Weak umask",
				Severity:   db.SeverityMedium,
				Status:     db.FindingStatusFail,
				References: []string{"https://cisofy.com/lynis/controls/LYNIS-0001/"},
			},
		},
	}, nil
}

func (f *managerFixture) createScan(t *testing.T) *db.Scan {
	t.Helper()
	scan, err := f.manager.Create(context.Background(), CreateRequest{
		TargetID: f.target.ID,
		Scanner:  db.ScannerLynis,
	})
	require.NoError(t, err)
	return scan
}

func (f *managerFixture) waitTerminal(t *testing.T, scanID uuid.UUID) *db.Scan {
	t.Helper()
	require.Eventually(t, func() bool {
		scan, err := f.store.GetScan(context.Background(), scanID)
		return err == nil && scan.IsTerminal()
	}, waitTimeout, 10*time.Millisecond)

	scan, err := f.store.GetScan(context.Background(), scanID)
	require.NoError(t, err)
	return scan
}

func TestCreateScan(t *testing.T) {
	f := newFixture(t, succeedingAdapter)

	scan := f.createScan(t)
	assert.Equal(t, db.ScanStatusPending, scan.Status)
	assert.Equal(t, f.target.ID, scan.TargetID)
	assert.Equal(t, db.ScannerLynis, scan.Scanner)
	assert.Equal(t, db.ScanStatusPending, f.store.scanStatus(scan.ID))
}

func TestCreateScanValidation(t *testing.T) {
	f := newFixture(t, succeedingAdapter)

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"unknown scanner kind", CreateRequest{TargetID: f.target.ID, Scanner: "nessus"}},
		{"missing scanner", CreateRequest{TargetID: f.target.ID}},
		{"missing target", CreateRequest{Scanner: db.ScannerLynis}},
		{"nonexistent target", CreateRequest{TargetID: uuid.New(), Scanner: db.ScannerLynis}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestCreateScanInactiveTarget(t *testing.T) {
	f := newFixture(t, succeedingAdapter)
	inactive := &db.Target{ID: uuid.New(), Name: "retired", Kind: db.TargetKindContainer, Status: db.TargetStatusOffline}
	f.store.addTarget(inactive)

	_, err := f.manager.Create(context.Background(), CreateRequest{TargetID: inactive.ID, Scanner: db.ScannerLynis})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestStartRunsScanToCompletion(t *testing.T) {
	f := newFixture(t, succeedingAdapter)
	scan := f.createScan(t)

	started, err := f.manager.Start(context.Background(), scan.ID)
	require.NoError(t, err)
	assert.Equal(t, db.ScanStatusRunning, started.Status)
	require.NotNil(t, started.StartedAt)

	final := f.waitTerminal(t, scan.ID)
	assert.Equal(t, db.ScanStatusCompleted, final.Status)
	require.NotNil(t, final.Score)
	assert.Equal(t, 64, *final.Score)
	assert.Equal(t, 5, final.Passed)
	assert.Equal(t, 5, final.Failed)
	assert.Equal(t, 2, final.Warnings)
	require.NotNil(t, final.ReportPath)
	assert.Equal(t, "/reports/lynis/web-1.log", *final.ReportPath)
	require.NotNil(t, final.CompletedAt)
	require.NotNil(t, final.DurationSeconds)
	assert.Nil(t, final.ErrorMessage)

	f.store.mu.Lock()
	findings := f.store.findings[scan.ID]
	f.store.mu.Unlock()
	require.Len(t, findings, 1)
	assert.Equal(t, "LYNIS-0001", findings[0].RuleID)
	assert.Equal(t, pq.StringArray{"https://cisofy.com/lynis/controls/LYNIS-0001/"}, findings[0].References)

	assert.Equal(t, db.TargetStatusOnline, f.store.targetStatus(f.target.ID))
	updated, err := f.store.GetTarget(context.Background(), f.target.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastScanID)
	assert.Equal(t, scan.ID, *updated.LastScanID)

	require.Eventually(t, func() bool {
		return f.notifier.completed.Load() == 1
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, int64(0), f.notifier.failed.Load())
}

func TestScanCompletesAndNotifiesAtFullConcurrency(t *testing.T) {
	// With a single runner slot the scan task occupies the runner entirely;
	// the terminal notification must still go out and the slot must free.
	f := newFixtureWithRunner(t, tasks.Config{
		MaxConcurrent:   1,
		ShutdownTimeout: time.Second,
	}, succeedingAdapter)
	scan := f.createScan(t)

	_, err := f.manager.Start(context.Background(), scan.ID)
	require.NoError(t, err)

	final := f.waitTerminal(t, scan.ID)
	assert.Equal(t, db.ScanStatusCompleted, final.Status)

	require.Eventually(t, func() bool {
		return f.notifier.completed.Load() == 1
	}, waitTimeout, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.manager.Active() == 0
	}, waitTimeout, 10*time.Millisecond)

	// The freed slot accepts the next scan immediately.
	next := f.createScan(t)
	_, err = f.manager.Start(context.Background(), next.ID)
	require.NoError(t, err)
	f.waitTerminal(t, next.ID)
}

func TestStartPreconditions(t *testing.T) {
	f := newFixture(t, succeedingAdapter)

	_, err := f.manager.Start(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrNotStartable)

	scan := f.createScan(t)
	_, err = f.manager.Start(context.Background(), scan.ID)
	require.NoError(t, err)
	f.waitTerminal(t, scan.ID)

	_, err = f.manager.Start(context.Background(), scan.ID)
	assert.ErrorIs(t, err, errors.ErrNotStartable)
}

func TestStartRejectsBusyTarget(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ *db.Target, _ *db.Scan) (*scanners.AdapterResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &scanners.AdapterResult{Success: true, Score: 100}, nil
	})

	first := f.createScan(t)
	second := f.createScan(t)

	_, err := f.manager.Start(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.manager.Active())

	_, err = f.manager.Start(context.Background(), second.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTargetBusy))
	assert.Equal(t, db.ScanStatusPending, f.store.scanStatus(second.ID))

	close(release)
	f.waitTerminal(t, first.ID)

	// The slot frees once the first scan finishes.
	_, err = f.manager.Start(context.Background(), second.ID)
	require.NoError(t, err)
	f.waitTerminal(t, second.ID)
}

func TestAdapterFailureMarksScanFailed(t *testing.T) {
	f := newFixture(t, func(context.Context, *db.Target, *db.Scan) (*scanners.AdapterResult, error) {
		return nil, errors.NewScanError(errors.CodeExecutionFailed, "oscap not installed in web-1")
	})
	scan := f.createScan(t)

	_, err := f.manager.Start(context.Background(), scan.ID)
	require.NoError(t, err)

	final := f.waitTerminal(t, scan.ID)
	assert.Equal(t, db.ScanStatusFailed, final.Status)
	assert.Nil(t, final.Score)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "oscap not installed")
	assert.Equal(t, db.TargetStatusOnline, f.store.targetStatus(f.target.ID))

	require.Eventually(t, func() bool {
		return f.notifier.failed.Load() == 1
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, int64(0), f.notifier.completed.Load())
}

func TestAdapterPanicMarksScanFailed(t *testing.T) {
	f := newFixture(t, func(context.Context, *db.Target, *db.Scan) (*scanners.AdapterResult, error) {
		panic("parser blew up")
	})
	scan := f.createScan(t)

	_, err := f.manager.Start(context.Background(), scan.ID)
	require.NoError(t, err)

	final := f.waitTerminal(t, scan.ID)
	assert.Equal(t, db.ScanStatusFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "scan panicked")
	assert.Contains(t, *final.ErrorMessage, "parser blew up")
	assert.Equal(t, db.TargetStatusOnline, f.store.targetStatus(f.target.ID))
}

func TestUnsuccessfulResultMarksScanFailed(t *testing.T) {
	f := newFixture(t, func(context.Context, *db.Target, *db.Scan) (*scanners.AdapterResult, error) {
		return &scanners.AdapterResult{Success: false}, nil
	})
	scan := f.createScan(t)

	_, err := f.manager.Start(context.Background(), scan.ID)
	require.NoError(t, err)

	final := f.waitTerminal(t, scan.ID)
	assert.Equal(t, db.ScanStatusFailed, final.Status)
}

func TestCancelPendingScan(t *testing.T) {
	f := newFixture(t, succeedingAdapter)
	scan := f.createScan(t)

	cancelled, err := f.manager.Cancel(context.Background(), scan.ID)
	require.NoError(t, err)
	assert.Equal(t, db.ScanStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	// A cancelled scan can no longer start.
	_, err = f.manager.Start(context.Background(), scan.ID)
	assert.ErrorIs(t, err, errors.ErrNotStartable)
	assert.Equal(t, int64(0), f.notifier.completed.Load())
	assert.Equal(t, int64(0), f.notifier.failed.Load())
}

func TestCancelRunningScanInterruptsAdapter(t *testing.T) {
	adapterStarted := make(chan struct{})
	interrupted := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, _ *db.Target, _ *db.Scan) (*scanners.AdapterResult, error) {
		close(adapterStarted)
		<-ctx.Done()
		close(interrupted)
		return nil, errors.WrapScanError(errors.CodeCanceled, "scan canceled", ctx.Err())
	})
	scan := f.createScan(t)

	_, err := f.manager.Start(context.Background(), scan.ID)
	require.NoError(t, err)

	select {
	case <-adapterStarted:
	case <-time.After(waitTimeout):
		t.Fatal("adapter never started")
	}

	cancelled, err := f.manager.Cancel(context.Background(), scan.ID)
	require.NoError(t, err)
	assert.Equal(t, db.ScanStatusCancelled, cancelled.Status)

	select {
	case <-interrupted:
	case <-time.After(waitTimeout):
		t.Fatal("adapter was not interrupted")
	}

	// The cancelled record stands; the late adapter result is discarded.
	require.Eventually(t, func() bool {
		return f.manager.Active() == 0
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, db.ScanStatusCancelled, f.store.scanStatus(scan.ID))
	assert.Equal(t, db.TargetStatusOnline, f.store.targetStatus(f.target.ID))
	assert.Equal(t, int64(0), f.notifier.completed.Load())
	assert.Equal(t, int64(0), f.notifier.failed.Load())
}

func TestCancelPreconditions(t *testing.T) {
	f := newFixture(t, succeedingAdapter)

	_, err := f.manager.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrNotCancellable)

	scan := f.createScan(t)
	_, err = f.manager.Start(context.Background(), scan.ID)
	require.NoError(t, err)
	f.waitTerminal(t, scan.ID)

	_, err = f.manager.Cancel(context.Background(), scan.ID)
	assert.ErrorIs(t, err, errors.ErrNotCancellable)
}

func TestScanTimeoutMarksScanFailed(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, _ *db.Target, _ *db.Scan) (*scanners.AdapterResult, error) {
		<-ctx.Done()
		return nil, errors.WrapScanError(errors.CodeTimeout, "Scan timeout", ctx.Err())
	})
	f.manager.cfg.DefaultScanTimeout = 50 * time.Millisecond
	f.manager.cfg.MaxScanTimeout = 50 * time.Millisecond
	scan := f.createScan(t)

	_, err := f.manager.Start(context.Background(), scan.ID)
	require.NoError(t, err)

	final := f.waitTerminal(t, scan.ID)
	assert.Equal(t, db.ScanStatusFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Equal(t, "Scan timeout", *final.ErrorMessage)
}
