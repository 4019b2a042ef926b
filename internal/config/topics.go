package config

const (
	// TopicIngestSync is the NSQ topic carrying sync job requests.
	TopicIngestSync = "ingest.sync"

	// ChannelSyncWorker is the NSQ channel the sync worker consumes on.
	ChannelSyncWorker = "sync-worker"
)
