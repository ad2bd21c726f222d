package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

func TestValidateRunTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    domain.RunStatus
		to      domain.RunStatus
		wantErr bool
	}{
		{"discovering to scraping", domain.RunStatusDiscovering, domain.RunStatusScraping, false},
		{"discovering to completed with nothing found", domain.RunStatusDiscovering, domain.RunStatusCompleted, false},
		{"scraping to completed", domain.RunStatusScraping, domain.RunStatusCompleted, false},
		{"scraping to stopped", domain.RunStatusScraping, domain.RunStatusStopped, false},
		{"scraping back to discovering", domain.RunStatusScraping, domain.RunStatusDiscovering, true},
		{"completed is terminal", domain.RunStatusCompleted, domain.RunStatusStopped, true},
		{"unknown source status", domain.RunStatus("paused"), domain.RunStatusScraping, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := domain.ValidateRunTransition(tt.from, tt.to)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateJobTransition(t *testing.T) {
	t.Parallel()

	require.NoError(t, domain.ValidateJobTransition(domain.JobStatusPending, domain.JobStatusRunning))
	require.NoError(t, domain.ValidateJobTransition(domain.JobStatusRunning, domain.JobStatusPending))
	require.NoError(t, domain.ValidateJobTransition(domain.JobStatusFailed, domain.JobStatusPending))
	require.ErrorIs(t, domain.ValidateJobTransition(domain.JobStatusCompleted, domain.JobStatusRunning), domain.ErrInvalidTransition)
	require.ErrorIs(t, domain.ValidateJobTransition(domain.JobStatusPending, domain.JobStatusCompleted), domain.ErrInvalidTransition)

	assert.True(t, domain.JobStatusFailed.IsTerminal())
	assert.False(t, domain.JobStatusRunning.IsTerminal())
}

func TestValidateCandidateTransition(t *testing.T) {
	t.Parallel()

	require.NoError(t, domain.ValidateCandidateTransition(domain.CandidateStatusPending, domain.CandidateStatusQueued))
	require.NoError(t, domain.ValidateCandidateTransition(domain.CandidateStatusQueued, domain.CandidateStatusPending))
	require.NoError(t, domain.ValidateCandidateTransition(domain.CandidateStatusScraped, domain.CandidateStatusQueued))
	require.ErrorIs(t,
		domain.ValidateCandidateTransition(domain.CandidateStatusPending, domain.CandidateStatusScraped),
		domain.ErrInvalidTransition,
	)
}

func TestGroupLease(t *testing.T) {
	t.Parallel()

	assert.True(t, domain.CanEnterUnification(domain.GroupStatusPendingAI, false))
	assert.False(t, domain.CanEnterUnification(domain.GroupStatusProcessingAI, false))
	assert.False(t, domain.CanEnterUnification(domain.GroupStatusProcessingAI, true))
	assert.False(t, domain.CanEnterUnification(domain.GroupStatusCompleted, false))
	assert.True(t, domain.CanEnterUnification(domain.GroupStatusCompleted, true))

	require.NoError(t, domain.ValidateGroupTransition(domain.GroupStatusProcessingAI, domain.GroupStatusPendingReview))
	require.ErrorIs(t,
		domain.ValidateGroupTransition(domain.GroupStatusRejected, domain.GroupStatusPendingAI),
		domain.ErrInvalidTransition,
	)
}

func TestScrapeRun_ValidateConsistency(t *testing.T) {
	t.Parallel()

	now := time.Now()

	run := &domain.ScrapeRun{ID: "r1", Phase: domain.RunPhaseDiscover, Status: domain.RunStatusDiscovering}
	require.NoError(t, run.ValidateConsistency())

	run.Status = domain.RunStatusCompleted
	require.Error(t, run.ValidateConsistency(), "completed requires scrape phase")

	run.Phase = domain.PhaseFor(domain.RunStatusCompleted, run.Phase)
	require.Error(t, run.ValidateConsistency(), "completed requires completed_at")

	run.CompletedAt = &now
	require.NoError(t, run.ValidateConsistency())
}

func TestRunStats_Apply(t *testing.T) {
	t.Parallel()

	total := 5
	stats := domain.RunStats{PagesDone: 1, ListingsFound: 20}
	got := stats.Apply(domain.StatsDelta{PagesTotal: &total, PagesDone: 1, ListingsFound: 18})

	assert.Equal(t, 5, got.PagesTotal)
	assert.Equal(t, 2, got.PagesDone)
	assert.Equal(t, 38, got.ListingsFound)
	assert.True(t, domain.StatsDelta{}.IsZero())
	assert.False(t, domain.StatsDelta{PagesTotal: &total}.IsZero())
}
