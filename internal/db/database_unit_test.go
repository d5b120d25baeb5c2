package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanward/scanward/internal/errors"
)

// TestDefaultConfig tests the default database configuration.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "", cfg.Database)
	assert.Equal(t, "", cfg.Username)
	assert.Equal(t, "", cfg.Password)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxIdleTime)
}

// newMockDB wraps a sqlmock connection in the sqlx handle the repositories use.
func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return &DB{DB: sqlx.NewDb(mockDB, "sqlmock")}, mock
}

// TestScanRepositoryMarkRunning tests the pending-to-running transition guard.
func TestScanRepositoryMarkRunning(t *testing.T) {
	t.Run("pending_scan_transitions", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewScanRepository(db)

		id := uuid.New()
		startedAt := time.Now()
		mock.ExpectExec(`UPDATE scans SET status = \$1, started_at = \$2`).
			WithArgs(ScanStatusRunning, startedAt, id, ScanStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.MarkRunning(context.Background(), id, startedAt)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non_pending_scan_is_noop", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewScanRepository(db)

		id := uuid.New()
		startedAt := time.Now()
		mock.ExpectExec(`UPDATE scans SET status = \$1, started_at = \$2`).
			WithArgs(ScanStatusRunning, startedAt, id, ScanStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.MarkRunning(context.Background(), id, startedAt)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// TestScanRepositoryMarkCancelled tests the cancellable-state guard.
func TestScanRepositoryMarkCancelled(t *testing.T) {
	t.Run("running_scan_cancels", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewScanRepository(db)

		id := uuid.New()
		completedAt := time.Now()
		mock.ExpectExec(`UPDATE scans SET status = \$1, completed_at = \$2`).
			WithArgs(ScanStatusCancelled, completedAt, id, ScanStatusPending, ScanStatusRunning).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.MarkCancelled(context.Background(), id, completedAt)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("terminal_scan_is_noop", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewScanRepository(db)

		id := uuid.New()
		completedAt := time.Now()
		mock.ExpectExec(`UPDATE scans SET status = \$1, completed_at = \$2`).
			WithArgs(ScanStatusCancelled, completedAt, id, ScanStatusPending, ScanStatusRunning).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.MarkCancelled(context.Background(), id, completedAt)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

// TestScanRepositoryDeleteOlderThan tests retention cleanup counting.
func TestScanRepositoryDeleteOlderThan(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScanRepository(db)

	cutoff := time.Now().AddDate(0, 0, -30)
	mock.ExpectExec(`DELETE FROM scans WHERE created_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	count, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestScanRepositoryGetByIDNotFound tests sanitized not-found errors.
func TestScanRepositoryGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScanRepository(db)

	id := uuid.New()
	mock.ExpectQuery(`SELECT \* FROM scans WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	scan, err := repo.GetByID(context.Background(), id)
	assert.Nil(t, scan)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

// TestTargetRepositoryDeleteNotFound tests delete on a missing target.
func TestTargetRepositoryDeleteNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTargetRepository(db)

	id := uuid.New()
	mock.ExpectExec(`DELETE FROM targets WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

// TestScheduleRepositoryMarkFired tests dispatch bookkeeping.
func TestScheduleRepositoryMarkFired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScheduleRepository(db)

	id := uuid.New()
	lastRun := time.Now()
	nextRun := lastRun.Add(24 * time.Hour)
	mock.ExpectExec(`UPDATE schedules`).
		WithArgs(lastRun, nextRun, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkFired(context.Background(), id, lastRun, &nextRun)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSanitizeDBError tests error code mapping for Postgres failures.
func TestSanitizeDBError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected errors.ErrorCode
	}{
		{"no_rows", sql.ErrNoRows, errors.CodeNotFound},
		{"unique_violation", &pq.Error{Code: "23505"}, errors.CodeConflict},
		{"foreign_key_violation", &pq.Error{Code: "23503"}, errors.CodeValidation},
		{"not_null_violation", &pq.Error{Code: "23502"}, errors.CodeValidation},
		{"query_canceled", &pq.Error{Code: "57014"}, errors.CodeCanceled},
		{"connection_failure", &pq.Error{Code: "08006"}, errors.CodeDatabaseConnection},
		{"other_pq_error", &pq.Error{Code: "42601"}, errors.CodeDatabaseQuery},
		{"plain_error", assert.AnError, errors.CodeDatabaseQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sanitizeDBError("test op", tt.err)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.expected))
			// Raw driver detail must not leak into the message.
			assert.NotContains(t, err.Error(), "pq:")
		})
	}

	t.Run("nil_error", func(t *testing.T) {
		assert.NoError(t, sanitizeDBError("test op", nil))
	})
}
