// Package db provides database connectivity and data models for scanward.
// It handles schema migrations, target and schedule management, scan and
// finding storage, and provides the core data access layer.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/scanward/scanward/internal/errors"
	"github.com/scanward/scanward/internal/logging"
)

// sanitizeDBError converts raw database errors into safe, sanitized errors
// that don't expose internal SQL details or credentials to callers.
// The original error is preserved in the Cause field for internal debugging.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if err == sql.ErrNoRows {
		return errors.NewDatabaseError(errors.CodeNotFound, "Resource not found")
	}

	if pqErr, ok := err.(*pq.Error); ok {
		var dbErr *errors.DatabaseError
		switch pqErr.Code {
		case "23505": // unique_violation
			dbErr = errors.NewDatabaseError(errors.CodeConflict, "Resource already exists")
		case "23503": // foreign_key_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Referenced resource does not exist")
		case "23502": // not_null_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Required field is missing")
		case "57014": // query_canceled
			dbErr = errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled")
		case "08000", "08003", "08006": // connection errors
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error")
		default:
			msg := fmt.Sprintf("Database operation failed: %s", operation)
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseQuery, msg)
		}
		dbErr.Operation = operation
		dbErr.Cause = err
		return dbErr
	}

	dbErr := errors.NewDatabaseError(errors.CodeDatabaseQuery, fmt.Sprintf("Database operation failed: %s", operation))
	dbErr.Operation = operation
	dbErr.Cause = err
	return dbErr
}

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
)

// DB wraps sqlx.DB with additional functionality.
type DB struct {
	*sqlx.DB
}

// Config holds database configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration.
// Database name, username, and password must be explicitly configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		Database:        "",
		Username:        "",
		Password:        "",
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// Connect establishes a connection to PostgreSQL.
// Returns sanitized errors that don't leak credentials or DSN details.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		config.Host, config.Port, config.Database,
		config.Username, config.Password, config.SSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.ErrorDatabase("Failed to close database connection after ping failure", closeErr)
		}
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Failed to verify database connection", err)
	}

	logging.InfoDatabase("Connected to database",
		"host", config.Host, "port", config.Port, "database", config.Database)
	return &DB{DB: db}, nil
}

// closeRows closes a row set, logging close failures.
func closeRows(rows *sqlx.Rows) {
	if err := rows.Close(); err != nil {
		logging.ErrorDatabase("Failed to close rows", err)
	}
}

// TargetRepository handles target operations.
type TargetRepository struct {
	db *DB
}

// NewTargetRepository creates a new target repository.
func NewTargetRepository(db *DB) *TargetRepository {
	return &TargetRepository{db: db}
}

// Create creates a new target.
func (r *TargetRepository) Create(ctx context.Context, target *Target) error {
	query := `
		INSERT INTO targets (
			id, name, display_name, description, kind, address, port,
			ssh_user, ssh_key_path, os_family, os_version, architecture,
			status, is_active, enabled_scanners, scan_profile, tags
		) VALUES (
			:id, :name, :display_name, :description, :kind, :address, :port,
			:ssh_user, :ssh_key_path, :os_family, :os_version, :architecture,
			:status, :is_active, :enabled_scanners, :scan_profile, :tags
		)
		RETURNING created_at, updated_at`

	if target.ID == uuid.Nil {
		target.ID = uuid.New()
	}
	if target.Status == "" {
		target.Status = TargetStatusUnknown
	}
	if len(target.EnabledScanners) == 0 {
		target.EnabledScanners = JSONB(`[]`)
	}
	if target.Tags == nil {
		target.Tags = pq.StringArray{}
	}

	rows, err := r.db.NamedQueryContext(ctx, query, target)
	if err != nil {
		return sanitizeDBError("create target", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&target.CreatedAt, &target.UpdatedAt); err != nil {
			return sanitizeDBError("scan created target", err)
		}
	}

	return nil
}

// GetByID retrieves a target by ID.
func (r *TargetRepository) GetByID(ctx context.Context, id uuid.UUID) (*Target, error) {
	var target Target
	query := `SELECT * FROM targets WHERE id = $1`

	if err := r.db.GetContext(ctx, &target, query, id); err != nil {
		return nil, sanitizeDBError("get target", err)
	}

	return &target, nil
}

// GetByName retrieves a target by its unique name.
func (r *TargetRepository) GetByName(ctx context.Context, name string) (*Target, error) {
	var target Target
	query := `SELECT * FROM targets WHERE name = $1`

	if err := r.db.GetContext(ctx, &target, query, name); err != nil {
		return nil, sanitizeDBError("get target by name", err)
	}

	return &target, nil
}

// GetAll retrieves all targets.
func (r *TargetRepository) GetAll(ctx context.Context) ([]*Target, error) {
	var targets []*Target
	query := `SELECT * FROM targets ORDER BY name`

	if err := r.db.SelectContext(ctx, &targets, query); err != nil {
		return nil, sanitizeDBError("get targets", err)
	}

	return targets, nil
}

// Update updates a target's editable fields.
func (r *TargetRepository) Update(ctx context.Context, target *Target) error {
	query := `
		UPDATE targets
		SET name = :name, display_name = :display_name, description = :description,
		    kind = :kind, address = :address, port = :port, ssh_user = :ssh_user,
		    ssh_key_path = :ssh_key_path, os_family = :os_family, os_version = :os_version,
		    architecture = :architecture, is_active = :is_active,
		    enabled_scanners = :enabled_scanners, scan_profile = :scan_profile, tags = :tags,
		    updated_at = NOW()
		WHERE id = :id
		RETURNING updated_at`

	rows, err := r.db.NamedQueryContext(ctx, query, target)
	if err != nil {
		return sanitizeDBError("update target", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&target.UpdatedAt); err != nil {
			return sanitizeDBError("scan updated target", err)
		}
	}

	return nil
}

// UpdateStatus sets a target's status.
func (r *TargetRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE targets SET status = $1, updated_at = NOW() WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, status, id); err != nil {
		return sanitizeDBError("update target status", err)
	}
	return nil
}

// SetLastScan records a target's most recent completed scan and score.
func (r *TargetRepository) SetLastScan(ctx context.Context, id, scanID uuid.UUID, score *int) error {
	query := `UPDATE targets SET last_scan_id = $1, last_scan_score = $2, updated_at = NOW() WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, scanID, score, id); err != nil {
		return sanitizeDBError("set target last scan", err)
	}
	return nil
}

// Delete deletes a target.
func (r *TargetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM targets WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return sanitizeDBError("delete target", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.NewDatabaseError(errors.CodeNotFound, "Target not found")
	}

	return nil
}

// ScanFilter narrows scan listings.
type ScanFilter struct {
	TargetID *uuid.UUID
	Scanner  string
	Status   string
	Limit    int
	Offset   int
}

// ScanRepository handles scan operations.
type ScanRepository struct {
	db *DB
}

// NewScanRepository creates a new scan repository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Create creates a new scan record in pending state.
func (r *ScanRepository) Create(ctx context.Context, scan *Scan) error {
	query := `
		INSERT INTO scans (id, target_id, requester, schedule_id, scanner, profile, status)
		VALUES (:id, :target_id, :requester, :schedule_id, :scanner, :profile, :status)
		RETURNING created_at`

	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	if scan.Status == "" {
		scan.Status = ScanStatusPending
	}

	rows, err := r.db.NamedQueryContext(ctx, query, scan)
	if err != nil {
		return sanitizeDBError("create scan", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&scan.CreatedAt); err != nil {
			return sanitizeDBError("scan created scan", err)
		}
	}

	return nil
}

// GetByID retrieves a scan by ID.
func (r *ScanRepository) GetByID(ctx context.Context, id uuid.UUID) (*Scan, error) {
	var scan Scan
	query := `SELECT * FROM scans WHERE id = $1`

	if err := r.db.GetContext(ctx, &scan, query, id); err != nil {
		return nil, sanitizeDBError("get scan", err)
	}

	return &scan, nil
}

// List retrieves scans matching the filter, newest first.
func (r *ScanRepository) List(ctx context.Context, filter ScanFilter) ([]*Scan, error) {
	query := `SELECT * FROM scans WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filter.TargetID != nil {
		argCount++
		query += fmt.Sprintf(" AND target_id = $%d", argCount)
		args = append(args, *filter.TargetID)
	}
	if filter.Scanner != "" {
		argCount++
		query += fmt.Sprintf(" AND scanner = $%d", argCount)
		args = append(args, filter.Scanner)
	}
	if filter.Status != "" {
		argCount++
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	argCount++
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)

	if filter.Offset > 0 {
		argCount++
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	var scans []*Scan
	if err := r.db.SelectContext(ctx, &scans, query, args...); err != nil {
		return nil, sanitizeDBError("list scans", err)
	}

	return scans, nil
}

// MarkRunning transitions a pending scan to running. Returns false without
// error when the scan is missing or not pending, so callers can treat the
// precondition failure as a no-op.
func (r *ScanRepository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	query := `UPDATE scans SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, ScanStatusRunning, startedAt, id, ScanStatusPending)
	if err != nil {
		return false, sanitizeDBError("mark scan running", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, sanitizeDBError("get rows affected", err)
	}

	return rowsAffected > 0, nil
}

// MarkCancelled transitions a pending or running scan to cancelled. Returns
// false without error when the scan is missing or already terminal.
func (r *ScanRepository) MarkCancelled(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error) {
	query := `UPDATE scans SET status = $1, completed_at = $2 WHERE id = $3 AND status IN ($4, $5)`

	result, err := r.db.ExecContext(ctx, query,
		ScanStatusCancelled, completedAt, id, ScanStatusPending, ScanStatusRunning)
	if err != nil {
		return false, sanitizeDBError("mark scan cancelled", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, sanitizeDBError("get rows affected", err)
	}

	return rowsAffected > 0, nil
}

// Complete writes a scan's terminal result fields. Only a running scan can
// complete; a false return means the scan was already terminal (a cancel
// raced the completion) and no fields were written.
func (r *ScanRepository) Complete(ctx context.Context, scan *Scan) (bool, error) {
	query := `
		UPDATE scans
		SET status = :status, completed_at = :completed_at, duration_seconds = :duration_seconds,
		    score = :score, passed = :passed, failed = :failed, warnings = :warnings,
		    errors = :errors, report_path = :report_path, html_report_path = :html_report_path,
		    error_message = :error_message
		WHERE id = :id AND status = 'running'`

	result, err := r.db.NamedExecContext(ctx, query, scan)
	if err != nil {
		return false, sanitizeDBError("complete scan", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, sanitizeDBError("get rows affected", err)
	}

	return rowsAffected > 0, nil
}

// DeleteOlderThan removes scans created before the cutoff, returning the
// number deleted. Findings are removed by the cascade.
func (r *ScanRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM scans WHERE created_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, sanitizeDBError("delete old scans", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, sanitizeDBError("get rows affected", err)
	}

	return int(rowsAffected), nil
}

// FindingRepository handles finding operations.
type FindingRepository struct {
	db *DB
}

// NewFindingRepository creates a new finding repository.
func NewFindingRepository(db *DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// InsertBatch inserts all findings for a scan in one transaction.
func (r *FindingRepository) InsertBatch(ctx context.Context, findings []*Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin findings transaction", err)
	}

	query := `
		INSERT INTO findings (id, scan_id, rule_id, title, description, severity, status, category, remediation, refs)
		VALUES (:id, :scan_id, :rule_id, :title, :description, :severity, :status, :category, :remediation, :refs)`

	for _, finding := range findings {
		if finding.ID == uuid.Nil {
			finding.ID = uuid.New()
		}
		if finding.References == nil {
			finding.References = pq.StringArray{}
		}
		if _, err := tx.NamedExecContext(ctx, query, finding); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.ErrorDatabase("Failed to roll back findings transaction", rbErr)
			}
			return sanitizeDBError("insert finding", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit findings", err)
	}

	return nil
}

// ListByScan retrieves all findings for a scan.
func (r *FindingRepository) ListByScan(ctx context.Context, scanID uuid.UUID) ([]*Finding, error) {
	var findings []*Finding
	query := `SELECT * FROM findings WHERE scan_id = $1 ORDER BY severity, rule_id`

	if err := r.db.SelectContext(ctx, &findings, query, scanID); err != nil {
		return nil, sanitizeDBError("list findings", err)
	}

	return findings, nil
}

// ScheduleRepository handles schedule operations.
type ScheduleRepository struct {
	db *DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Create creates a new schedule.
func (r *ScheduleRepository) Create(ctx context.Context, schedule *Schedule) error {
	query := `
		INSERT INTO schedules (
			id, target_id, requester, name, description, scanner, profile,
			cron_expression, timezone, is_active, next_run_at,
			notify_on_completion, notify_on_failure, notification_channels
		) VALUES (
			:id, :target_id, :requester, :name, :description, :scanner, :profile,
			:cron_expression, :timezone, :is_active, :next_run_at,
			:notify_on_completion, :notify_on_failure, :notification_channels
		)
		RETURNING created_at, updated_at`

	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	if schedule.Timezone == "" {
		schedule.Timezone = "UTC"
	}
	if schedule.NotificationChannels == nil {
		schedule.NotificationChannels = pq.StringArray{}
	}

	rows, err := r.db.NamedQueryContext(ctx, query, schedule)
	if err != nil {
		return sanitizeDBError("create schedule", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&schedule.CreatedAt, &schedule.UpdatedAt); err != nil {
			return sanitizeDBError("scan created schedule", err)
		}
	}

	return nil
}

// GetByID retrieves a schedule by ID.
func (r *ScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	var schedule Schedule
	query := `SELECT * FROM schedules WHERE id = $1`

	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, sanitizeDBError("get schedule", err)
	}

	return &schedule, nil
}

// GetAll retrieves all schedules.
func (r *ScheduleRepository) GetAll(ctx context.Context) ([]*Schedule, error) {
	var schedules []*Schedule
	query := `SELECT * FROM schedules ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &schedules, query); err != nil {
		return nil, sanitizeDBError("get schedules", err)
	}

	return schedules, nil
}

// GetActive retrieves all active schedules.
func (r *ScheduleRepository) GetActive(ctx context.Context) ([]*Schedule, error) {
	var schedules []*Schedule
	query := `SELECT * FROM schedules WHERE is_active = true ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &schedules, query); err != nil {
		return nil, sanitizeDBError("get active schedules", err)
	}

	return schedules, nil
}

// Update updates a schedule's editable fields.
func (r *ScheduleRepository) Update(ctx context.Context, schedule *Schedule) error {
	query := `
		UPDATE schedules
		SET name = :name, description = :description, scanner = :scanner, profile = :profile,
		    cron_expression = :cron_expression, timezone = :timezone, is_active = :is_active,
		    next_run_at = :next_run_at, notify_on_completion = :notify_on_completion,
		    notify_on_failure = :notify_on_failure, notification_channels = :notification_channels,
		    updated_at = NOW()
		WHERE id = :id
		RETURNING updated_at`

	rows, err := r.db.NamedQueryContext(ctx, query, schedule)
	if err != nil {
		return sanitizeDBError("update schedule", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&schedule.UpdatedAt); err != nil {
			return sanitizeDBError("scan updated schedule", err)
		}
	}

	return nil
}

// MarkFired records a schedule dispatch: last run, run count, next run.
func (r *ScheduleRepository) MarkFired(ctx context.Context, id uuid.UUID, lastRun time.Time, nextRun *time.Time) error {
	query := `
		UPDATE schedules
		SET last_run_at = $1, next_run_at = $2, run_count = run_count + 1, updated_at = NOW()
		WHERE id = $3`

	if _, err := r.db.ExecContext(ctx, query, lastRun, nextRun, id); err != nil {
		return sanitizeDBError("mark schedule fired", err)
	}

	return nil
}

// Delete deletes a schedule. Historical scans keep a dangling-safe reference
// via ON DELETE SET NULL.
func (r *ScheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM schedules WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return sanitizeDBError("delete schedule", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.NewDatabaseError(errors.CodeNotFound, "Schedule not found")
	}

	return nil
}

// Store aggregates the repositories behind one handle. The lifecycle manager
// and scheduler consume it through their own narrow port interfaces.
type Store struct {
	Targets   *TargetRepository
	Scans     *ScanRepository
	Findings  *FindingRepository
	Schedules *ScheduleRepository
}

// NewStore creates a store backed by the given connection.
func NewStore(database *DB) *Store {
	return &Store{
		Targets:   NewTargetRepository(database),
		Scans:     NewScanRepository(database),
		Findings:  NewFindingRepository(database),
		Schedules: NewScheduleRepository(database),
	}
}

// GetTarget retrieves a target by ID.
func (s *Store) GetTarget(ctx context.Context, id uuid.UUID) (*Target, error) {
	return s.Targets.GetByID(ctx, id)
}

// UpdateTargetStatus sets a target's status.
func (s *Store) UpdateTargetStatus(ctx context.Context, id uuid.UUID, status string) error {
	return s.Targets.UpdateStatus(ctx, id, status)
}

// SetTargetLastScan records a target's last completed scan.
func (s *Store) SetTargetLastScan(ctx context.Context, id, scanID uuid.UUID, score *int) error {
	return s.Targets.SetLastScan(ctx, id, scanID, score)
}

// CreateScan creates a new scan record.
func (s *Store) CreateScan(ctx context.Context, scan *Scan) error {
	return s.Scans.Create(ctx, scan)
}

// GetScan retrieves a scan by ID.
func (s *Store) GetScan(ctx context.Context, id uuid.UUID) (*Scan, error) {
	return s.Scans.GetByID(ctx, id)
}

// MarkScanRunning transitions a pending scan to running.
func (s *Store) MarkScanRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	return s.Scans.MarkRunning(ctx, id, startedAt)
}

// MarkScanCancelled transitions a pending or running scan to cancelled.
func (s *Store) MarkScanCancelled(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error) {
	return s.Scans.MarkCancelled(ctx, id, completedAt)
}

// CompleteScan writes a scan's terminal result fields. A false return means
// the scan was no longer running and nothing was written.
func (s *Store) CompleteScan(ctx context.Context, scan *Scan) (bool, error) {
	return s.Scans.Complete(ctx, scan)
}

// InsertFindings inserts all findings for a scan.
func (s *Store) InsertFindings(ctx context.Context, findings []*Finding) error {
	return s.Findings.InsertBatch(ctx, findings)
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.Schedules.GetByID(ctx, id)
}

// GetActiveSchedules retrieves all active schedules.
func (s *Store) GetActiveSchedules(ctx context.Context) ([]*Schedule, error) {
	return s.Schedules.GetActive(ctx)
}

// CreateSchedule creates a new schedule.
func (s *Store) CreateSchedule(ctx context.Context, schedule *Schedule) error {
	return s.Schedules.Create(ctx, schedule)
}

// UpdateSchedule updates a schedule.
func (s *Store) UpdateSchedule(ctx context.Context, schedule *Schedule) error {
	return s.Schedules.Update(ctx, schedule)
}

// DeleteSchedule deletes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return s.Schedules.Delete(ctx, id)
}

// MarkScheduleFired records a schedule dispatch.
func (s *Store) MarkScheduleFired(ctx context.Context, id uuid.UUID, lastRun time.Time, nextRun *time.Time) error {
	return s.Schedules.MarkFired(ctx, id, lastRun, nextRun)
}

// DeleteScansOlderThan removes scans created before the cutoff.
func (s *Store) DeleteScansOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return s.Scans.DeleteOlderThan(ctx, cutoff)
}
