package control

import (
	"context"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

// StageDepth is the queue backlog of one stage.
type StageDepth struct {
	queue.Depth
	Paused bool `json:"paused"`
}

// DepthReport is queue depth per stage plus the database backlog behind it.
type DepthReport struct {
	Stages     []StageDepth                   `json:"stages"`
	Runs       map[domain.RunStatus]int       `json:"runs"`
	Jobs       map[domain.JobType]int         `json:"pending_jobs"`
	Candidates map[domain.CandidateStatus]int `json:"candidates"`
	Groups     map[domain.GroupStatus]int     `json:"groups"`
}

// QueueDepth reports stream length and unacknowledged count per stage, and status counts of
// runs, pending jobs, candidates and groups.
func (c *Controller) QueueDepth(ctx context.Context) (*DepthReport, error) {
	report := &DepthReport{}

	for _, stage := range queue.AllStages() {
		depth, err := c.queue.Depth(ctx, stage, c.cfg.ConsumerGroup)
		if err != nil {
			return nil, err
		}
		paused, err := c.queue.IsPaused(ctx, stage)
		if err != nil {
			return nil, err
		}
		report.Stages = append(report.Stages, StageDepth{Depth: depth, Paused: paused})
	}

	var err error
	if report.Runs, err = c.runs.CountByStatus(ctx); err != nil {
		return nil, err
	}
	if report.Jobs, err = c.jobs.CountPending(ctx); err != nil {
		return nil, err
	}
	if report.Candidates, err = c.candidates.CountByStatus(ctx); err != nil {
		return nil, err
	}
	if report.Groups, err = c.groups.CountByStatus(ctx); err != nil {
		return nil, err
	}
	return report, nil
}
