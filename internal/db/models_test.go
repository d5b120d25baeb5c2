package db

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJSONB tests the JSONB custom type.
func TestJSONB(t *testing.T) {
	t.Run("scan_bytes", func(t *testing.T) {
		var j JSONB
		err := j.Scan([]byte(`{"key":"value"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"key":"value"}`, j.String())
	})

	t.Run("scan_string", func(t *testing.T) {
		var j JSONB
		err := j.Scan(`["lynis","trivy"]`)
		require.NoError(t, err)
		assert.JSONEq(t, `["lynis","trivy"]`, j.String())
	})

	t.Run("scan_nil", func(t *testing.T) {
		var j JSONB
		err := j.Scan(nil)
		assert.NoError(t, err)
		assert.Nil(t, j)
	})

	t.Run("scan_unsupported_type", func(t *testing.T) {
		var j JSONB
		err := j.Scan(123)
		assert.Error(t, err)
	})

	t.Run("value_roundtrip", func(t *testing.T) {
		j := JSONB(`{"a":1}`)
		val, err := j.Value()
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"a":1}`), val)
	})

	t.Run("marshal_unmarshal", func(t *testing.T) {
		j := JSONB(`["atomic"]`)
		data, err := json.Marshal(j)
		require.NoError(t, err)

		var back JSONB
		require.NoError(t, json.Unmarshal(data, &back))
		assert.JSONEq(t, `["atomic"]`, back.String())
	})
}

// TestTargetEnabledScannerSet tests scanner set extraction from JSONB.
func TestTargetEnabledScannerSet(t *testing.T) {
	tests := []struct {
		name     string
		scanners JSONB
		expected map[string]bool
	}{
		{
			name:     "two_scanners",
			scanners: JSONB(`["lynis","trivy"]`),
			expected: map[string]bool{"lynis": true, "trivy": true},
		},
		{
			name:     "empty_list",
			scanners: JSONB(`[]`),
			expected: map[string]bool{},
		},
		{
			name:     "nil_jsonb",
			scanners: nil,
			expected: map[string]bool{},
		},
		{
			name:     "malformed_json",
			scanners: JSONB(`not json`),
			expected: map[string]bool{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &Target{EnabledScanners: tt.scanners}
			assert.Equal(t, tt.expected, target.EnabledScannerSet())
		})
	}
}

// TestScanIsTerminal tests terminal-state detection.
func TestScanIsTerminal(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
	}{
		{ScanStatusPending, false},
		{ScanStatusRunning, false},
		{ScanStatusCompleted, true},
		{ScanStatusFailed, true},
		{ScanStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			scan := &Scan{Status: tt.status}
			assert.Equal(t, tt.terminal, scan.IsTerminal())
		})
	}
}

// TestIsValidScannerKind tests the closed scanner enum.
func TestIsValidScannerKind(t *testing.T) {
	for _, kind := range ScannerKinds {
		assert.True(t, IsValidScannerKind(kind), kind)
	}

	assert.False(t, IsValidScannerKind("nessus"))
	assert.False(t, IsValidScannerKind(""))
	assert.False(t, IsValidScannerKind("Lynis"))
}
