package job

import (
	"encoding/json"
	"time"
)

const (
	StatusQueued  = "queued"
	StatusStarted = "started"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Job tracks one queued sync run.
type Job struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	FullResync bool            `json:"full_resync"`
	Message    string          `json:"message"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Info is the status payload: the run result once finished, the failure
// message (plus any partial result) on failure, nothing while pending.
func (j *Job) Info() any {
	switch {
	case j.Status == StatusFailure:
		info := map[string]any{"message": j.Message}
		if len(j.Result) > 0 {
			info["result"] = j.Result
		}
		return info
	case len(j.Result) > 0:
		return j.Result
	default:
		return nil
	}
}
