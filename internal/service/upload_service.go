package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/motionforge/api/internal/client"
	"github.com/motionforge/api/internal/model"
)

// BundleUploader defines the interface for project bundle uploads
type BundleUploader interface {
	UploadBundle(ctx context.Context, userID string, file io.Reader, size int64) (*model.UploadBundleResponse, error)
	DeleteBundle(ctx context.Context, key string) error
}

// UploadService stores packaged project bundles in object storage. The key it
// returns is what callers pass as inputKey when submitting a render.
type UploadService struct {
	storage client.StorageClient
}

func NewUploadService(storage client.StorageClient) *UploadService {
	return &UploadService{storage: storage}
}

// UploadBundle stores a project bundle zip under an owner-scoped key
func (s *UploadService) UploadBundle(ctx context.Context, userID string, file io.Reader, size int64) (*model.UploadBundleResponse, error) {
	key := fmt.Sprintf("bundles/%s/%s.zip", userID, uuid.New().String())

	// Use mock response if storage is not configured
	if s.storage == nil {
		return s.uploadMock(key, size)
	}

	fileURL, err := s.storage.Upload(ctx, key, file, "application/zip")
	if err != nil {
		return nil, fmt.Errorf("failed to upload bundle: %w", err)
	}

	return &model.UploadBundleResponse{
		InputKey:  key,
		FileURL:   fileURL,
		Size:      size,
		CreatedAt: time.Now(),
	}, nil
}

// DeleteBundle removes an uploaded bundle from storage
func (s *UploadService) DeleteBundle(ctx context.Context, key string) error {
	if s.storage == nil {
		return nil // Mock: no-op
	}
	return s.storage.Delete(ctx, key)
}

// Mock implementation for development/testing
func (s *UploadService) uploadMock(key string, size int64) (*model.UploadBundleResponse, error) {
	return &model.UploadBundleResponse{
		InputKey:  key,
		FileURL:   fmt.Sprintf("https://cdn.motionforge.dev/%s", key),
		Size:      size,
		CreatedAt: time.Now(),
	}, nil
}
