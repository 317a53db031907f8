package helpers

import (
	"context"

	"github.com/google/uuid"
	"github.com/hbomb79/Lumen/internal/catalog"
	"github.com/hbomb79/Lumen/internal/ingest"
	"github.com/stretchr/testify/mock"
)

// MockVideoService is a testify mock satisfying the API's video service.
type MockVideoService struct {
	mock.Mock
}

func (mock *MockVideoService) Ingest(ctx context.Context, upload ingest.Upload) (*ingest.Result, error) {
	args := mock.Called(ctx, upload)
	//nolint:forcetypeassert
	return args.Get(0).(*ingest.Result), args.Error(1)
}

func (mock *MockVideoService) Delete(ctx context.Context, id uuid.UUID) error {
	args := mock.Called(ctx, id)
	return args.Error(0)
}

func (mock *MockVideoService) List(ctx context.Context) ([]*catalog.MediaRecord, error) {
	args := mock.Called(ctx)
	//nolint:forcetypeassert
	return args.Get(0).([]*catalog.MediaRecord), args.Error(1)
}

func (mock *MockVideoService) Get(ctx context.Context, id uuid.UUID) (*catalog.MediaRecord, error) {
	args := mock.Called(ctx, id)
	//nolint:forcetypeassert
	return args.Get(0).(*catalog.MediaRecord), args.Error(1)
}
