package worker

import (
	"context"

	"wprag/internal/ingest"
)

type SyncRunner interface {
	Run(ctx context.Context, fullResync bool) (*ingest.Result, error)
}

// JobRecorder persists the lifecycle of a queued sync job.
type JobRecorder interface {
	MarkStarted(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id string, ok bool, message string, result []byte) error
}
