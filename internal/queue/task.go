package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// TaskDataField is the field name for serialized task data in stream messages.
	TaskDataField = "task"

	// EnqueuedAtField is the field name for enqueue timestamp.
	EnqueuedAtField = "enqueued_at"
)

// Task is one unit of pipeline work. Tasks carry ids only; handlers load state from the
// database so that a redelivered task always sees current status.
type Task struct {
	ID         string `json:"id"`
	Stage      Stage  `json:"stage"`
	RunID      string `json:"run_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	PropertyID string `json:"property_id,omitempty"`
	Reanalysis bool   `json:"reanalysis,omitempty"`
}

// NewJobTask builds a discovery or scrape task for a scrape job.
func NewJobTask(stage Stage, runID, jobID string) Task {
	return Task{ID: uuid.NewString(), Stage: stage, RunID: runID, JobID: jobID}
}

// NewUnifyTask builds a unification task for a listing group.
func NewUnifyTask(groupID string) Task {
	return Task{ID: uuid.NewString(), Stage: StageUnify, GroupID: groupID}
}

// NewReanalysisTask builds a unification task that re-analyzes an existing property.
func NewReanalysisTask(propertyID string) Task {
	return Task{ID: uuid.NewString(), Stage: StageUnify, PropertyID: propertyID, Reanalysis: true}
}

// Key identifies the entity a task works on, for logging.
func (t Task) Key() string {
	switch {
	case t.JobID != "":
		return "job:" + t.JobID
	case t.GroupID != "":
		return "group:" + t.GroupID
	default:
		return "property:" + t.PropertyID
	}
}

func encodeTask(t Task) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to serialize task: %w", err)
	}
	return string(data), nil
}

func decodeTask(data string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return Task{}, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return t, nil
}

// ConsumedTask is a task read from a stage stream.
type ConsumedTask struct {
	MessageID  string
	Stage      Stage
	Task       Task
	EnqueuedAt time.Time
}
