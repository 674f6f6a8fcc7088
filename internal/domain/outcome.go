package domain

// OutcomeStatus tags how a work cycle ended.
type OutcomeStatus string

const (
	StatusSuccess        OutcomeStatus = "success"
	StatusNoTasks        OutcomeStatus = "no_tasks"
	StatusNoSuitableTask OutcomeStatus = "no_suitable_task"
	StatusClaimFailed    OutcomeStatus = "claim_failed"
	StatusExecuteFailed  OutcomeStatus = "execute_failed"
	StatusSubmitFailed   OutcomeStatus = "submit_failed"
	StatusError          OutcomeStatus = "error"
	// StatusBusy is returned when a cycle for the worker is already running.
	StatusBusy OutcomeStatus = "busy"
	// StatusStarted acknowledges a cycle launched in the background.
	StatusStarted OutcomeStatus = "started"
)

// Informational reports outcomes that are neither progress nor failure.
func (s OutcomeStatus) Informational() bool {
	switch s {
	case StatusNoTasks, StatusNoSuitableTask, StatusClaimFailed, StatusBusy, StatusStarted:
		return true
	}
	return false
}

// Cycle stages, reported with the outcome.
const (
	StageListing    = "listing"
	StageSelecting  = "selecting"
	StageClaiming   = "claiming"
	StageExecuting  = "executing"
	StageSubmitting = "submitting"
	StageDone       = "done"
)

// Outcome is the result of one work cycle.
type Outcome struct {
	CycleID    string        `json:"cycle_id"`
	Status     OutcomeStatus `json:"status"`
	Stage      string        `json:"stage"`
	TaskID     uint64        `json:"task_id,omitempty"`
	TaskTitle  string        `json:"task_title,omitempty"`
	Reward     string        `json:"reward,omitempty"`
	Result     string        `json:"result,omitempty"`
	Message    string        `json:"message,omitempty"`
	StartedAt  string        `json:"started_at,omitempty" format:"date-time"`
	FinishedAt string        `json:"finished_at,omitempty" format:"date-time"`

	// Unresumable lists resume hints found completed, unknown or held by
	// another account during this cycle.
	Unresumable []uint64 `json:"unresumable,omitempty"`
}

// HasTask reports whether the outcome refers to a concrete task.
func (o Outcome) HasTask() bool { return o.TaskID != 0 }
