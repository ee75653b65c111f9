package models

import "time"

// Keyword is a monitoring rule owned by a single user
type Keyword struct {
	ID            string          `json:"id" yaml:"id"`
	OwnerID       string          `json:"owner_id" yaml:"owner_id"`
	Text          string          `json:"keyword" yaml:"keyword"`
	Platform      Platform        `json:"platform" yaml:"platform"`
	Filters       []string        `json:"platform_specific_filters,omitempty" yaml:"filters"` // subreddits, story IDs, hashtags...
	CaseSensitive bool            `json:"case_sensitive" yaml:"case_sensitive"`
	CaseMode      CaseSensitivity `json:"case_mode,omitempty" yaml:"case_mode"` // overrides CaseSensitive when set
	MatchMode     MatchMode       `json:"match_mode" yaml:"match_mode"`
	ContentTypes  []ContentType   `json:"content_types" yaml:"content_types"`
	Active        bool            `json:"is_active" yaml:"-"` // seed files use "enabled"
	CreatedAt     time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time       `json:"updated_at" yaml:"-"`
}

// Case returns the effective case handling for the keyword
func (k Keyword) Case() CaseSensitivity {
	if k.CaseMode != "" {
		return k.CaseMode
	}
	if k.CaseSensitive {
		return CaseSensitive
	}
	return CaseInsensitive
}

// Monitors reports whether the keyword watches the given content type
func (k Keyword) Monitors(ct ContentType) bool {
	for _, c := range k.ContentTypes {
		if c == ct {
			return true
		}
	}
	return false
}

// Mention is one keyword matching one piece of platform content
type Mention struct {
	ID            string             `json:"id"`
	KeywordID     string             `json:"keyword_id"`
	OwnerID       string             `json:"user_id"`
	Content       string             `json:"content"`
	Title         string             `json:"title"`
	Author        string             `json:"author"`
	SourceURL     string             `json:"source_url"` // unique together with KeywordID
	Platform      Platform           `json:"platform"`
	Scope         string             `json:"scope,omitempty"` // subreddit, tag...
	ContentType   MentionContentType `json:"content_type"`
	MatchedText   string             `json:"matched_text"`
	MatchPosition int                `json:"match_position"`
	Confidence    float64            `json:"match_confidence"`
	MentionDate   time.Time          `json:"mention_date"`
	DiscoveredAt  time.Time          `json:"discovered_at"`
	Notified      bool               `json:"email_sent"`
	NotifiedAt    *time.Time         `json:"email_sent_at,omitempty"`
	ItemID        string             `json:"item_id,omitempty"`
	ParentID      string             `json:"parent_id,omitempty"`
	Score         int                `json:"score,omitempty"`
	CommentCount  int                `json:"comment_count,omitempty"`
}

// MatchResult is the outcome of evaluating one keyword against one piece of text
type MatchResult struct {
	Matched     bool    `json:"matched"`
	MatchedText string  `json:"matched_text"`
	Position    int     `json:"position"`
	Confidence  float64 `json:"confidence"`
}

// NoMatch is the negative MatchResult
func NoMatch() MatchResult {
	return MatchResult{Position: -1}
}

// ItemKind tells posts and comments apart
type ItemKind string

const (
	ItemPost    ItemKind = "post"
	ItemComment ItemKind = "comment"
)

// NormalizedItem is the common shape every platform source produces
type NormalizedItem struct {
	ID           string            `json:"id"`
	Kind         ItemKind          `json:"kind"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Author       string            `json:"author"`
	URL          string            `json:"url"`      // canonical permalink, dedup key
	LinkURL      string            `json:"link_url"` // outbound link of a link post
	ParentID     string            `json:"parent_id,omitempty"`
	ParentTitle  string            `json:"parent_title,omitempty"`
	Scope        string            `json:"scope,omitempty"`
	PublishedAt  time.Time         `json:"published_at"`
	Score        int               `json:"score"`
	CommentCount int               `json:"comment_count"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Text returns the item's text for a content type, empty when the item has no such surface
func (i NormalizedItem) Text(ct ContentType) string {
	switch ct {
	case ContentTitles:
		if i.Kind == ItemComment {
			return ""
		}
		return i.Title
	case ContentBody:
		if i.Kind == ItemComment {
			return ""
		}
		if i.Body == "" {
			return i.LinkURL
		}
		return i.Body
	case ContentComments:
		if i.Kind != ItemComment {
			return ""
		}
		return i.Body
	}
	return ""
}

// CursorKey identifies the unit of incremental scanning
type CursorKey struct {
	OwnerID  string   `json:"owner_id"`
	Platform Platform `json:"platform"`
	Scope    string   `json:"scope"`
}
