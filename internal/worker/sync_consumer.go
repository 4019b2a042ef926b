package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"wprag/internal/middleware"
)

// SyncConsumer runs one sync per ingest.sync message.
type SyncConsumer struct {
	runner  SyncRunner
	jobs    JobRecorder
	timeout time.Duration
}

func NewSyncConsumer(r SyncRunner, j JobRecorder, timeout time.Duration) *SyncConsumer {
	return &SyncConsumer{runner: r, jobs: j, timeout: timeout}
}

// HandleMessage never asks NSQ to requeue. A failed run is recorded on the job
// and retrying is left to whoever triggers the next one.
func (c *SyncConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload SyncPayload
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "invalid message format", "error", err)
		return nil
	}
	if payload.JobID == "" {
		slog.ErrorContext(ctx, "missing job id, dropping")
		return nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.jobs.MarkStarted(ctx, payload.JobID); err != nil {
		slog.WarnContext(ctx, "failed to mark job started", "job_id", payload.JobID, "error", err)
	}

	res, runErr := c.runner.Run(ctx, payload.FullResync)

	var body []byte
	if res != nil {
		if body, err = json.Marshal(res); err != nil {
			slog.ErrorContext(ctx, "failed to encode sync result", "job_id", payload.JobID, "error", err)
		}
	}

	ok := runErr == nil && res != nil && res.OK
	message := ""
	switch {
	case runErr != nil:
		message = runErr.Error()
		slog.ErrorContext(ctx, "sync job failed", "job_id", payload.JobID, "error", runErr)
	case res != nil:
		slog.InfoContext(ctx, "sync job finished", "job_id", payload.JobID, "processed", res.Processed, "failed", res.Failed)
	}

	// the run may have used up the deadline; recording the outcome gets its own
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.jobs.MarkFinished(recordCtx, payload.JobID, ok, message, body); err != nil {
		slog.ErrorContext(ctx, "failed to record job outcome", "job_id", payload.JobID, "error", err)
	}
	return nil
}
