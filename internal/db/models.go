package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JSONB wraps json.RawMessage for PostgreSQL JSONB type.
type JSONB json.RawMessage

// Scan implements sql.Scanner for PostgreSQL JSONB type.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = JSONB(v)
		return nil
	case string:
		*j = JSONB([]byte(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer for PostgreSQL JSONB type.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// String returns the JSON string.
func (j JSONB) String() string {
	return string(j)
}

// MarshalJSON implements json.Marshaler.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = JSONB(data)
	return nil
}

// Target represents a registered scannable system.
type Target struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	Name            string     `db:"name" json:"name"`
	DisplayName     *string    `db:"display_name" json:"display_name,omitempty"`
	Description     *string    `db:"description" json:"description,omitempty"`
	Kind            string     `db:"kind" json:"kind"` // container, ssh, local
	Address         *string    `db:"address" json:"address,omitempty"`
	Port            *int       `db:"port" json:"port,omitempty"`
	SSHUser         *string    `db:"ssh_user" json:"ssh_user,omitempty"`
	SSHKeyPath      *string    `db:"ssh_key_path" json:"ssh_key_path,omitempty"`
	OSFamily        *string    `db:"os_family" json:"os_family,omitempty"`
	OSVersion       *string    `db:"os_version" json:"os_version,omitempty"`
	Architecture    *string    `db:"architecture" json:"architecture,omitempty"`
	Status          string     `db:"status" json:"status"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	EnabledScanners JSONB      `db:"enabled_scanners" json:"enabled_scanners,omitempty"`
	ScanProfile     *string    `db:"scan_profile" json:"scan_profile,omitempty"`
	LastScanID      *uuid.UUID `db:"last_scan_id" json:"last_scan_id,omitempty"`
	LastScanScore   *int       `db:"last_scan_score" json:"last_scan_score,omitempty"`
	Tags            pq.StringArray `db:"tags" json:"tags,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// EnabledScannerSet decodes the enabled-scanner JSONB list into a set.
// Malformed content yields an empty set rather than an error.
func (t *Target) EnabledScannerSet() map[string]bool {
	set := make(map[string]bool)
	if len(t.EnabledScanners) == 0 {
		return set
	}
	var kinds []string
	if err := json.Unmarshal([]byte(t.EnabledScanners), &kinds); err != nil {
		return set
	}
	for _, kind := range kinds {
		set[kind] = true
	}
	return set
}

// Scan represents one execution attempt of a scanner against a target.
type Scan struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	TargetID        uuid.UUID  `db:"target_id" json:"target_id"`
	Requester       *string    `db:"requester" json:"requester,omitempty"`
	ScheduleID      *uuid.UUID `db:"schedule_id" json:"schedule_id,omitempty"`
	Scanner         string     `db:"scanner" json:"scanner"`
	Profile         *string    `db:"profile" json:"profile,omitempty"`
	Status          string     `db:"status" json:"status"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DurationSeconds *int       `db:"duration_seconds" json:"duration_seconds,omitempty"`
	Score           *int       `db:"score" json:"score,omitempty"` // 0-100
	Passed          int        `db:"passed" json:"passed"`
	Failed          int        `db:"failed" json:"failed"`
	Warnings        int        `db:"warnings" json:"warnings"`
	Errors          int        `db:"errors" json:"errors"`
	ReportPath      *string    `db:"report_path" json:"report_path,omitempty"`
	HTMLReportPath  *string    `db:"html_report_path" json:"html_report_path,omitempty"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// IsTerminal reports whether the scan has reached a terminal state.
func (s *Scan) IsTerminal() bool {
	switch s.Status {
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	}
	return false
}

// Finding represents one normalized rule evaluation belonging to a scan.
type Finding struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	ScanID      uuid.UUID      `db:"scan_id" json:"scan_id"`
	RuleID      string         `db:"rule_id" json:"rule_id"`
	Title       string         `db:"title" json:"title"`
	Description *string        `db:"description" json:"description,omitempty"`
	Severity    string         `db:"severity" json:"severity"` // critical, high, medium, low, info
	Status      string         `db:"status" json:"status"`     // pass, fail, error, notapplicable
	Category    *string        `db:"category" json:"category,omitempty"`
	Remediation *string        `db:"remediation" json:"remediation,omitempty"`
	References  pq.StringArray `db:"refs" json:"references,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}

// Schedule represents a recurring scan definition.
type Schedule struct {
	ID                   uuid.UUID      `db:"id" json:"id"`
	TargetID             uuid.UUID      `db:"target_id" json:"target_id"`
	Requester            *string        `db:"requester" json:"requester,omitempty"`
	Name                 string         `db:"name" json:"name"`
	Description          *string        `db:"description" json:"description,omitempty"`
	Scanner              string         `db:"scanner" json:"scanner"`
	Profile              *string        `db:"profile" json:"profile,omitempty"`
	CronExpression       string         `db:"cron_expression" json:"cron_expression"`
	Timezone             string         `db:"timezone" json:"timezone"`
	IsActive             bool           `db:"is_active" json:"is_active"`
	LastRunAt            *time.Time     `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt            *time.Time     `db:"next_run_at" json:"next_run_at,omitempty"`
	RunCount             int            `db:"run_count" json:"run_count"`
	NotifyOnCompletion   bool           `db:"notify_on_completion" json:"notify_on_completion"`
	NotifyOnFailure      bool           `db:"notify_on_failure" json:"notify_on_failure"`
	NotificationChannels pq.StringArray `db:"notification_channels" json:"notification_channels,omitempty"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updated_at"`
}

// ScanStatus constants.
const (
	ScanStatusPending   = "pending"
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
	ScanStatusCancelled = "cancelled"
)

// TargetKind constants.
const (
	TargetKindContainer = "container"
	TargetKindSSH       = "ssh"
	TargetKindLocal     = "local"
)

// TargetStatus constants.
const (
	TargetStatusUnknown  = "unknown"
	TargetStatusOnline   = "online"
	TargetStatusOffline  = "offline"
	TargetStatusScanning = "scanning"
)

// Severity constants.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// FindingStatus constants.
const (
	FindingStatusPass          = "pass"
	FindingStatusFail          = "fail"
	FindingStatusError         = "error"
	FindingStatusNotApplicable = "notapplicable"
)

// ScannerKind constants.
const (
	ScannerLynis    = "lynis"
	ScannerOpenSCAP = "openscap"
	ScannerTrivy    = "trivy"
	ScannerAtomic   = "atomic"
)

// ScannerKinds lists every supported scanner kind.
var ScannerKinds = []string{ScannerLynis, ScannerOpenSCAP, ScannerTrivy, ScannerAtomic}

// IsValidScannerKind reports whether kind names a supported scanner.
func IsValidScannerKind(kind string) bool {
	for _, k := range ScannerKinds {
		if k == kind {
			return true
		}
	}
	return false
}
