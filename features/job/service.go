package job

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"wprag/internal/config"
	"wprag/internal/middleware"
	"wprag/internal/worker"
)

const DefaultPublishTimeout = 5 * time.Second

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo           Repository
	pub            EventPublisher
	logger         *slog.Logger
	publishTimeout time.Duration
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger, publishTimeout: DefaultPublishTimeout}
}

// WithPublishTimeout overrides how long Trigger waits on the broker.
func (s *Service) WithPublishTimeout(d time.Duration) *Service {
	s.publishTimeout = d
	return s
}

// Trigger records a queued job and hands it to the sync worker.
func (s *Service) Trigger(ctx context.Context, fullResync bool) (*Job, error) {
	j := &Job{ID: uuid.NewString(), Status: StatusQueued, FullResync: fullResync}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}

	body, err := json.Marshal(worker.SyncPayload{
		JobID:         j.ID,
		FullResync:    fullResync,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return nil, err
	}

	if err := s.publish(config.TopicIngestSync, body); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish sync job", "job_id", j.ID, "error", err)
		if markErr := s.repo.MarkFinished(ctx, j.ID, false, "publish failed: "+err.Error(), nil); markErr != nil {
			s.logger.ErrorContext(ctx, "failed to mark job as failed", "job_id", j.ID, "error", markErr)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "sync job queued", "job_id", j.ID, "full_resync", fullResync)
	return j, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func (s *Service) publish(topic string, body []byte) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.pub.Publish(topic, body)
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(s.publishTimeout):
		return ErrPublishTimeout
	}
}
