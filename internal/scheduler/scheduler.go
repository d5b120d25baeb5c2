// Package scheduler dispatches recurring scans from cron schedules and runs
// the daily scan retention cleanup. It owns one cron instance and keeps a
// dispatch entry per active schedule; administrative changes take effect
// immediately, without polling.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/scanward/scanward/internal/config"
	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/errors"
	"github.com/scanward/scanward/internal/logging"
	"github.com/scanward/scanward/internal/metrics"
	"github.com/scanward/scanward/internal/scans"
)

// Store is the persistence surface the scheduler needs. internal/db.Store
// satisfies it.
type Store interface {
	GetSchedule(ctx context.Context, id uuid.UUID) (*db.Schedule, error)
	GetActiveSchedules(ctx context.Context) ([]*db.Schedule, error)
	CreateSchedule(ctx context.Context, schedule *db.Schedule) error
	UpdateSchedule(ctx context.Context, schedule *db.Schedule) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	MarkScheduleFired(ctx context.Context, id uuid.UUID, lastRun time.Time, nextRun *time.Time) error
	DeleteScansOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Launcher creates, starts, and cancels scans. The lifecycle manager
// satisfies it.
type Launcher interface {
	Create(ctx context.Context, req scans.CreateRequest) (*db.Scan, error)
	Start(ctx context.Context, scanID uuid.UUID) (*db.Scan, error)
	Cancel(ctx context.Context, scanID uuid.UUID) (*db.Scan, error)
}

// Scheduler manages cron dispatch for scan schedules.
type Scheduler struct {
	store    Store
	launcher Launcher
	cron     *cron.Cron
	cfg      config.SchedulerConfig
	logger   *logging.Logger

	mu      sync.RWMutex
	entries map[uuid.UUID]cron.EntryID
	running bool
}

// New creates a scheduler. Nothing fires until Start.
func New(store Store, launcher Launcher, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:    store,
		launcher: launcher,
		cron:     cron.New(),
		cfg:      cfg,
		logger:   logging.Default().WithComponent("scheduler"),
		entries:  make(map[uuid.UUID]cron.EntryID),
	}
}

// Start loads active schedules from the store, registers their dispatch
// entries plus the retention cleanup entry, and begins firing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	schedules, err := s.store.GetActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	for _, schedule := range schedules {
		if err := s.addEntryLocked(schedule); err != nil {
			s.logger.ErrorScheduler("Skipping schedule with invalid cron expression", err,
				"schedule_id", schedule.ID.String(), "name", schedule.Name)
		}
	}

	if _, err := s.cron.AddFunc(s.cfg.CleanupCron, s.runCleanup); err != nil {
		return fmt.Errorf("failed to register cleanup entry: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.InfoScheduler("Scheduler started",
		"schedules", len(s.entries), "retention_days", s.cfg.RetentionDays)
	return nil
}

// Stop halts dispatch and waits for in-progress fire callbacks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.InfoScheduler("Scheduler stopped")
}

// Add validates and persists a new schedule, then registers its dispatch
// entry. Malformed cron expressions or unknown timezones are rejected before
// anything is written.
func (s *Scheduler) Add(ctx context.Context, schedule *db.Schedule) error {
	sched, err := s.parseSpec(schedule)
	if err != nil {
		return err
	}
	if !db.IsValidScannerKind(schedule.Scanner) {
		return errors.NewValidationFieldError(
			fmt.Sprintf("unknown scanner: %s", schedule.Scanner), "scanner")
	}

	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	nextRun := sched.Next(time.Now())
	schedule.NextRunAt = &nextRun

	if err := s.store.CreateSchedule(ctx, schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if schedule.IsActive {
		if err := s.addEntryLocked(schedule); err != nil {
			return err
		}
	}

	s.logger.InfoScheduler("Schedule added",
		"schedule_id", schedule.ID.String(), "name", schedule.Name,
		"cron", schedule.CronExpression)
	return nil
}

// Update validates and persists schedule changes and replaces the dispatch
// entry in place.
func (s *Scheduler) Update(ctx context.Context, schedule *db.Schedule) error {
	sched, err := s.parseSpec(schedule)
	if err != nil {
		return err
	}
	if !db.IsValidScannerKind(schedule.Scanner) {
		return errors.NewValidationFieldError(
			fmt.Sprintf("unknown scanner: %s", schedule.Scanner), "scanner")
	}

	nextRun := sched.Next(time.Now())
	schedule.NextRunAt = &nextRun

	if err := s.store.UpdateSchedule(ctx, schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeEntryLocked(schedule.ID)
	if schedule.IsActive {
		if err := s.addEntryLocked(schedule); err != nil {
			return err
		}
	}

	s.logger.InfoScheduler("Schedule updated",
		"schedule_id", schedule.ID.String(), "name", schedule.Name)
	return nil
}

// Remove deletes a schedule and its dispatch entry. Historical scans keep
// their schedule reference.
func (s *Scheduler) Remove(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	s.removeEntryLocked(id)
	s.mu.Unlock()

	s.logger.InfoScheduler("Schedule removed", "schedule_id", id.String())
	return nil
}

// Entries returns the number of registered dispatch entries.
func (s *Scheduler) Entries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// parseSpec validates the schedule's cron expression and timezone together,
// returning the parsed schedule for next-fire computation.
func (s *Scheduler) parseSpec(schedule *db.Schedule) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(cronSpec(schedule))
	if err != nil {
		return nil, errors.WrapValidationError(
			fmt.Sprintf("invalid cron expression %q", schedule.CronExpression), err)
	}
	return sched, nil
}

// cronSpec renders the dispatch spec with the schedule's timezone applied.
func cronSpec(schedule *db.Schedule) string {
	expr := strings.TrimSpace(schedule.CronExpression)
	if schedule.Timezone == "" {
		return expr
	}
	return "CRON_TZ=" + schedule.Timezone + " " + expr
}

// addEntryLocked registers a dispatch entry. Caller holds s.mu.
func (s *Scheduler) addEntryLocked(schedule *db.Schedule) error {
	scheduleID := schedule.ID
	entryID, err := s.cron.AddFunc(cronSpec(schedule), func() {
		s.fire(scheduleID)
	})
	if err != nil {
		return errors.WrapValidationError(
			fmt.Sprintf("invalid cron expression %q", schedule.CronExpression), err)
	}
	s.entries[scheduleID] = entryID
	metrics.Gauge(metrics.MetricActiveSchedules, float64(len(s.entries)), nil)
	return nil
}

// removeEntryLocked drops a dispatch entry if present. Caller holds s.mu.
func (s *Scheduler) removeEntryLocked(id uuid.UUID) {
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
		metrics.Gauge(metrics.MetricActiveSchedules, float64(len(s.entries)), nil)
	}
}

// fire handles one cron trigger for a schedule: re-read, create the scan,
// record the fire bookkeeping, and delegate to the lifecycle manager.
func (s *Scheduler) fire(scheduleID uuid.UUID) {
	ctx := context.Background()

	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			// Deleted behind our back; drop the stale entry.
			s.mu.Lock()
			s.removeEntryLocked(scheduleID)
			s.mu.Unlock()
			return
		}
		s.logger.ErrorScheduler("Failed to read schedule on fire", err,
			"schedule_id", scheduleID.String())
		return
	}
	if !schedule.IsActive {
		return
	}

	scheduleRef := schedule.ID
	scan, err := s.launcher.Create(ctx, scans.CreateRequest{
		TargetID:   schedule.TargetID,
		Scanner:    schedule.Scanner,
		Profile:    schedule.Profile,
		Requester:  schedule.Requester,
		ScheduleID: &scheduleRef,
	})
	if err != nil {
		s.logger.ErrorScheduler("Failed to create scheduled scan", err,
			"schedule_id", schedule.ID.String(), "name", schedule.Name)
		return
	}

	now := time.Now().UTC()
	if err := s.store.MarkScheduleFired(ctx, schedule.ID, now, s.nextRun(schedule.ID)); err != nil {
		s.logger.ErrorScheduler("Failed to record schedule fire", err,
			"schedule_id", schedule.ID.String())
	}
	metrics.Counter(metrics.MetricScheduleFires, metrics.Labels{
		metrics.LabelScanner: schedule.Scanner,
	})

	if _, err := s.launcher.Start(ctx, scan.ID); err != nil {
		s.logger.ErrorScheduler("Failed to start scheduled scan", err,
			"schedule_id", schedule.ID.String(), "scan_id", scan.ID.String())
		// A pending scan nobody will start again would sit until retention
		// deletes it. Cancel it so the record reads as resolved.
		if _, cerr := s.launcher.Cancel(ctx, scan.ID); cerr != nil {
			s.logger.ErrorScheduler("Failed to cancel unstarted scheduled scan", cerr,
				"schedule_id", schedule.ID.String(), "scan_id", scan.ID.String())
		}
		return
	}

	s.logger.InfoScheduler("Schedule fired",
		"schedule_id", schedule.ID.String(), "name", schedule.Name,
		"scan_id", scan.ID.String())
}

// nextRun reads the dispatcher's own next-fire time for a schedule.
func (s *Scheduler) nextRun(id uuid.UUID) *time.Time {
	s.mu.RLock()
	entryID, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	next := s.cron.Entry(entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// runCleanup deletes scans older than the retention window. Findings go
// with them by cascade.
func (s *Scheduler) runCleanup() {
	ctx := context.Background()
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)

	deleted, err := s.store.DeleteScansOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.ErrorScheduler("Retention cleanup failed", err)
		return
	}

	metrics.CounterAdd(metrics.MetricScansCleanedUp, float64(deleted), nil)
	s.logger.InfoScheduler("Retention cleanup finished",
		"deleted", deleted, "retention_days", s.cfg.RetentionDays)
}
