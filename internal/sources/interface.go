package sources

import (
	"context"
	"time"

	"github.com/kleio/mentions-monitor/internal/models"
)

// Source fetches new candidate items from one platform.
//
// Cursor conventions: an empty request cursor means the scope has never been
// scanned. Sources then return no items and a cursor marking the current head,
// so monitoring starts from "now". Otherwise the source returns the items that
// appeared after the cursor plus a new cursor; an empty returned cursor keeps
// the old one. Numeric cursors are high-water marks and never move backwards.
//
// Transient failures (network, rate limits, blocks) are returned as errors and
// the caller retries with the same cursor.
type Source interface {
	GetName() string
	Platform() models.Platform
	IsEnabled() bool
	// Interval is the pause between two fetch cycles of one scope
	Interval() time.Duration
	// Scopes lists the independently scanned partitions a keyword needs
	Scopes(keyword models.Keyword) []string
	FetchSince(ctx context.Context, req FetchRequest) (*Batch, error)
}

// FetchRequest asks for everything new in one scope for one owner's keywords
type FetchRequest struct {
	Scope    string
	Keywords []models.Keyword
	Cursor   string
}

// Batch is the result of one fetch
type Batch struct {
	Items  []models.NormalizedItem
	Cursor string
}

// ItemFilter is implemented by sources whose keyword filters narrow items
// rather than select scopes
type ItemFilter interface {
	Accepts(keyword models.Keyword, item models.NormalizedItem) bool
}

// Streamer is implemented by sources that follow a live feed rather than poll a search
type Streamer interface {
	Streaming() bool
}
