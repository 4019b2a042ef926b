package worker

// SyncPayload is the body published on the ingest.sync topic.
type SyncPayload struct {
	JobID         string `json:"job_id"`
	FullResync    bool   `json:"full_resync"`
	CorrelationID string `json:"correlation_id"`
}
