package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetSpec_ValueAndScanRoundTrip(t *testing.T) {
	original := TargetSpec{
		Hosts:     []string{"10.0.0.5"},
		VTOIDs:    []string{"1.3.6.1.4.1.25623.1.0.10662"},
		ScanType:  "full",
		ConfigRef: "default",
	}

	raw, err := original.Value()
	require.NoError(t, err)

	var restored TargetSpec
	require.NoError(t, restored.Scan(raw))
	assert.Equal(t, original, restored)
}

func TestIsTerminal_OnlyCompletedFailedOrCancelled(t *testing.T) {
	cases := []struct {
		status ScanStatus
		want   bool
	}{
		{ScanStatusPending, false},
		{ScanStatusRunning, false},
		{ScanStatusCompleted, true},
		{ScanStatusFailed, true},
		{ScanStatusCancelled, true},
	}
	for _, c := range cases {
		s := Scan{Status: c.status}
		assert.Equal(t, c.want, s.IsTerminal(), "status=%s", c.status)
	}
}

func TestDeriveTerminalStatus_StaysCurrentUntilAllJobsTerminal(t *testing.T) {
	s := Scan{Status: ScanStatusRunning, TotalJobs: 3, TerminalJobs: 2, SucceededJobs: 1}
	assert.Equal(t, ScanStatusRunning, s.DeriveTerminalStatus())
}

func TestDeriveTerminalStatus_CompletedWhenAtLeastOneSucceeded(t *testing.T) {
	s := Scan{Status: ScanStatusRunning, TotalJobs: 3, TerminalJobs: 3, SucceededJobs: 1, FailedJobs: 2}
	assert.Equal(t, ScanStatusCompleted, s.DeriveTerminalStatus())
}

func TestDeriveTerminalStatus_FailedWhenNoneSucceeded(t *testing.T) {
	s := Scan{Status: ScanStatusRunning, TotalJobs: 3, TerminalJobs: 3, SucceededJobs: 0, FailedJobs: 3}
	assert.Equal(t, ScanStatusFailed, s.DeriveTerminalStatus())
}
