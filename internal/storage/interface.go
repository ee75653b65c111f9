package storage

import (
	"context"
	"errors"

	"github.com/kleio/mentions-monitor/internal/models"
)

var (
	// ErrNotFound is returned when a keyword, mention or blob does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateMention is returned by Insert when (keyword_id, source_url) already exists
	ErrDuplicateMention = errors.New("mention already exists")
)

const defaultMentionLimit = 100

// KeywordRepository is the read side of the keyword store. The monitor never writes keywords.
type KeywordRepository interface {
	ListActive(ctx context.Context) ([]models.Keyword, error)
	Get(ctx context.Context, id string) (*models.Keyword, error)
}

// CursorRepository persists the last processed position per (owner, platform, scope)
type CursorRepository interface {
	// Get returns the stored cursor and whether one exists
	Get(ctx context.Context, key models.CursorKey) (string, bool, error)
	Set(ctx context.Context, key models.CursorKey, value string) error
}

// MentionRepository persists mentions and is the dedup authority
type MentionRepository interface {
	ExistsByURL(ctx context.Context, keywordID, url string) (bool, error)
	// Insert stores the mention and returns its ID. Safe for concurrent use;
	// a lost race returns ErrDuplicateMention.
	Insert(ctx context.Context, mention *models.Mention) (string, error)
	MarkNotified(ctx context.Context, mentionID string) error
}

// MentionLister reads back recorded mentions of a keyword, newest first
type MentionLister interface {
	ListMentions(ctx context.Context, keywordID string, limit int) ([]models.Mention, error)
}

// BlobStorage is a flat named-object store
type BlobStorage interface {
	Store(ctx context.Context, name string, data []byte) error
	// Retrieve returns ErrNotFound when the blob does not exist
	Retrieve(ctx context.Context, name string) ([]byte, error)
}
