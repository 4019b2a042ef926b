package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"wprag/internal/ingest"
)

// Mocks

type MockRunner struct{ mock.Mock }

func (m *MockRunner) Run(ctx context.Context, fullResync bool) (*ingest.Result, error) {
	args := m.Called(ctx, fullResync)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingest.Result), args.Error(1)
}

type MockJobRecorder struct{ mock.Mock }

func (m *MockJobRecorder) MarkStarted(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockJobRecorder) MarkFinished(ctx context.Context, id string, ok bool, message string, result []byte) error {
	args := m.Called(ctx, id, ok, message, result)
	return args.Error(0)
}
