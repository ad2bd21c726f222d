// Package domain holds the entities of the listing pipeline and their legal status transitions.
package domain

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is returned when a status change is not in the entity's transition table.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is a legal-transition table keyed by source status.
type transitions[S ~string] map[S][]S

func (t transitions[S]) validate(entity string, from, to S) error {
	allowed, ok := t[from]
	if !ok {
		return fmt.Errorf("%w: unknown %s status %q", ErrInvalidTransition, entity, from)
	}
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, entity, from, to)
	}
	return nil
}

// RunPhase is the coarse stage a ScrapeRun is in.
type RunPhase string

const (
	RunPhaseDiscover RunPhase = "discover"
	RunPhaseScrape   RunPhase = "scrape"
)

// RunStatus is the state of a ScrapeRun.
type RunStatus string

const (
	RunStatusDiscovering RunStatus = "discovering"
	RunStatusScraping    RunStatus = "scraping"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
	RunStatusStopped     RunStatus = "stopped"
)

var runTransitions = transitions[RunStatus]{
	RunStatusDiscovering: {
		RunStatusScraping,
		RunStatusCompleted, // discovery produced nothing to scrape
		RunStatusFailed,
		RunStatusStopped,
	},
	RunStatusScraping: {
		RunStatusCompleted,
		RunStatusFailed,
		RunStatusStopped,
	},
	RunStatusCompleted: {},
	RunStatusFailed:    {},
	RunStatusStopped:   {},
}

// ValidateRunTransition checks a ScrapeRun status change.
func ValidateRunTransition(from, to RunStatus) error {
	return runTransitions.validate("run", from, to)
}

// IsTerminal reports whether no further transitions are possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusStopped
}

// PhaseFor returns the phase a run must be in for the given status. Failed and Stopped keep
// whatever phase the run reached.
func PhaseFor(status RunStatus, current RunPhase) RunPhase {
	switch status {
	case RunStatusDiscovering:
		return RunPhaseDiscover
	case RunStatusScraping, RunStatusCompleted:
		return RunPhaseScrape
	default:
		return current
	}
}

// JobType distinguishes discovery page fetches from single-listing fetches.
type JobType string

const (
	JobTypeDiscovery JobType = "discovery"
	JobTypeListing   JobType = "listing"
)

// JobStatus is the state of a ScrapeJob.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

var jobTransitions = transitions[JobStatus]{
	JobStatusPending: {JobStatusRunning, JobStatusFailed},
	JobStatusRunning: {
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusPending, // retry scheduled
	},
	JobStatusCompleted: {},
	JobStatusFailed:    {JobStatusPending},
}

// ValidateJobTransition checks a ScrapeJob status change.
func ValidateJobTransition(from, to JobStatus) error {
	return jobTransitions.validate("job", from, to)
}

// IsTerminal reports whether the job finished, successfully or not.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CandidateStatus is the state of a DiscoveredListing.
type CandidateStatus string

const (
	CandidateStatusPending CandidateStatus = "pending"
	CandidateStatusQueued  CandidateStatus = "queued"
	CandidateStatusScraped CandidateStatus = "scraped"
	CandidateStatusFailed  CandidateStatus = "failed"
	CandidateStatusSkipped CandidateStatus = "skipped"
)

var candidateTransitions = transitions[CandidateStatus]{
	CandidateStatusPending: {CandidateStatusQueued, CandidateStatusSkipped},
	CandidateStatusQueued: {
		CandidateStatusScraped,
		CandidateStatusFailed,
		CandidateStatusPending, // queue cleared by an operator
	},
	CandidateStatusScraped: {CandidateStatusQueued},
	CandidateStatusFailed:  {CandidateStatusQueued},
	CandidateStatusSkipped: {CandidateStatusPending},
}

// ValidateCandidateTransition checks a DiscoveredListing status change.
func ValidateCandidateTransition(from, to CandidateStatus) error {
	return candidateTransitions.validate("discovered listing", from, to)
}

// DedupStatus is the per-listing flag shared with the deduplication component.
type DedupStatus string

const (
	DedupStatusPending    DedupStatus = "pending"
	DedupStatusProcessing DedupStatus = "processing"
	DedupStatusUnique     DedupStatus = "unique"
	DedupStatusGrouped    DedupStatus = "grouped"
	DedupStatusCompleted  DedupStatus = "completed"
	DedupStatusFailed     DedupStatus = "failed"
)

// GroupStatus is the state of a ListingGroup.
type GroupStatus string

const (
	GroupStatusPendingAI     GroupStatus = "pending_ai"
	GroupStatusProcessingAI  GroupStatus = "processing_ai"
	GroupStatusPendingReview GroupStatus = "pending_review"
	GroupStatusCompleted     GroupStatus = "completed"
	GroupStatusRejected      GroupStatus = "rejected"
	GroupStatusFailed        GroupStatus = "failed"
)

var groupTransitions = transitions[GroupStatus]{
	GroupStatusPendingAI: {GroupStatusProcessingAI},
	GroupStatusProcessingAI: {
		GroupStatusCompleted,
		GroupStatusPendingAI, // rate limited or lease released by an operator
		GroupStatusPendingReview,
		GroupStatusFailed,
	},
	GroupStatusPendingReview: {GroupStatusPendingAI, GroupStatusRejected},
	GroupStatusCompleted:     {GroupStatusProcessingAI}, // re-analysis
	GroupStatusRejected:      {},
	GroupStatusFailed:        {GroupStatusPendingAI},
}

// ValidateGroupTransition checks a ListingGroup status change.
func ValidateGroupTransition(from, to GroupStatus) error {
	return groupTransitions.validate("listing group", from, to)
}

// CanEnterUnification reports whether a group in this status may acquire the processing lease.
// Completed groups only re-enter for re-analysis.
func CanEnterUnification(status GroupStatus, reanalysis bool) bool {
	if status == GroupStatusPendingAI {
		return true
	}
	return reanalysis && status == GroupStatusCompleted
}
