package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kleio/mentions-monitor/internal/models"
)

// BlobCursorStore keeps one small JSON blob per cursor key
type BlobCursorStore struct {
	blobs  BlobStorage
	prefix string
}

var _ CursorRepository = (*BlobCursorStore)(nil)

type cursorBlob struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBlobCursorStore stores cursors under prefix in blobs
func NewBlobCursorStore(blobs BlobStorage, prefix string) *BlobCursorStore {
	if prefix == "" {
		prefix = "cursors"
	}
	return &BlobCursorStore{blobs: blobs, prefix: prefix}
}

func (s *BlobCursorStore) blobName(key models.CursorKey) string {
	scope := key.Scope
	if scope == "" {
		scope = "_"
	}
	return fmt.Sprintf("%s/%s/%s/%s.json", s.prefix,
		url.PathEscape(key.OwnerID), url.PathEscape(string(key.Platform)), url.PathEscape(scope))
}

// Get implements CursorRepository
func (s *BlobCursorStore) Get(ctx context.Context, key models.CursorKey) (string, bool, error) {
	data, err := s.blobs.Retrieve(ctx, s.blobName(key))
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cursor: %w", err)
	}

	var blob cursorBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return "", false, fmt.Errorf("failed to decode cursor blob: %w", err)
	}
	return blob.Value, true, nil
}

// Set implements CursorRepository
func (s *BlobCursorStore) Set(ctx context.Context, key models.CursorKey, value string) error {
	data, err := json.Marshal(cursorBlob{Value: value, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode cursor: %w", err)
	}
	return s.blobs.Store(ctx, s.blobName(key), data)
}
