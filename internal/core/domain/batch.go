package domain

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

type ItemStatus string

const (
	ItemQueued  ItemStatus = "queued"
	ItemRunning ItemStatus = "running"
	ItemDone    ItemStatus = "done"
	ItemFailed  ItemStatus = "failed"
)

func (s ItemStatus) Terminal() bool { return s == ItemDone || s == ItemFailed }

// rank orders item statuses so updates can be checked for regressions.
func (s ItemStatus) rank() int {
	switch s {
	case ItemQueued:
		return 0
	case ItemRunning:
		return 1
	case ItemDone, ItemFailed:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next keeps the item status
// monotonic.
func (s ItemStatus) CanAdvanceTo(next ItemStatus) bool {
	return next.rank() > s.rank()
}

type BatchSettings struct {
	// Label is an optional caller tag echoed in snapshots.
	Label string `json:"label,omitempty"`
	// MaxItemAttempts overrides the configured transient retry budget when > 0.
	MaxItemAttempts int `json:"max_item_attempts,omitempty"`
}

type ItemState struct {
	Index    int        `json:"index"`
	Name     string     `json:"name,omitempty"`
	Status   ItemStatus `json:"status"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error,omitempty"`
}

// BatchJob is a snapshot of a job; the scheduler owns the live state.
type BatchJob struct {
	ID          string        `json:"job_id"`
	Status      JobStatus     `json:"status"`
	Items       []ItemState   `json:"items"`
	Settings    BatchSettings `json:"settings"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	CancelledAt *time.Time    `json:"cancelled_at,omitempty"`
	Done        int           `json:"done"`
	Failed      int           `json:"failed"`
	InFlight    int           `json:"in_flight"`
	TotalItems  int           `json:"total_items"`
}

// PerItemStatus returns the item index -> status view of the job.
func (j BatchJob) PerItemStatus() map[int]ItemStatus {
	out := make(map[int]ItemStatus, len(j.Items))
	for _, item := range j.Items {
		out[item.Index] = item.Status
	}
	return out
}

type ItemResult struct {
	Index      int         `json:"index"`
	Name       string      `json:"name,omitempty"`
	Status     ItemStatus  `json:"status"`
	Conversion *Conversion `json:"conversion,omitempty"`
	Error      string      `json:"error,omitempty"`
	Attempts   int         `json:"attempts"`
}
