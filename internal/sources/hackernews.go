package sources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	algoliaSearchByDateURL = "https://hn.algolia.com/api/v1/search_by_date"
	hnItemURL              = "https://news.ycombinator.com/item?id=%s"
	hnHitsPerPage          = 100
	hnMaxPages             = 10
)

// HackerNewsSource polls the Algolia Hacker News search for stories and
// comments created since a high-water timestamp
type HackerNewsSource struct {
	client   *resty.Client
	baseURL  string
	interval time.Duration
	now      func() time.Time
}

var (
	_ Source     = (*HackerNewsSource)(nil)
	_ ItemFilter = (*HackerNewsSource)(nil)
)

type algoliaResponse struct {
	Hits    []algoliaHit `json:"hits"`
	Page    int          `json:"page"`
	NbPages int          `json:"nbPages"`
}

type algoliaHit struct {
	ObjectID    string   `json:"objectID"`
	Tags        []string `json:"_tags"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Author      string   `json:"author"`
	StoryText   string   `json:"story_text"`
	CommentText string   `json:"comment_text"`
	StoryID     *int64   `json:"story_id"`
	StoryTitle  string   `json:"story_title"`
	Points      *int     `json:"points"`
	NumComments *int     `json:"num_comments"`
	CreatedAtI  int64    `json:"created_at_i"`
}

// NewHackerNewsSource creates a new Hacker News source
func NewHackerNewsSource(interval time.Duration, opts ClientOptions) *HackerNewsSource {
	return &HackerNewsSource{
		client:   newClient(opts),
		baseURL:  algoliaSearchByDateURL,
		interval: interval,
		now:      time.Now,
	}
}

func (h *HackerNewsSource) GetName() string {
	return "hackernews"
}

func (h *HackerNewsSource) Platform() models.Platform {
	return models.PlatformHackerNews
}

func (h *HackerNewsSource) IsEnabled() bool {
	return true // The Algolia API doesn't require authentication
}

func (h *HackerNewsSource) Interval() time.Duration {
	return h.interval
}

// Scopes is platform-wide; story filters narrow items instead
func (h *HackerNewsSource) Scopes(models.Keyword) []string {
	return []string{""}
}

func (h *HackerNewsSource) FetchSince(ctx context.Context, req FetchRequest) (*Batch, error) {
	if req.Cursor == "" {
		return &Batch{Cursor: strconv.FormatInt(h.now().Unix(), 10)}, nil
	}
	since, err := strconv.ParseInt(req.Cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid hackernews cursor %q: %w", req.Cursor, err)
	}

	seen := make(map[string]bool)
	batch := &Batch{Cursor: maxCursor(req.Cursor, h.now().Add(-indexLag).Unix())}
	queried := make(map[string]bool)

	for _, kw := range req.Keywords {
		query := strings.ToLower(kw.Text)
		if queried[query] {
			continue
		}
		queried[query] = true

		hits, err := h.search(ctx, kw.Text, since)
		if err != nil {
			return nil, err
		}

		for _, hit := range hits {
			if seen[hit.ObjectID] {
				continue
			}
			item, ok := normalizeAlgoliaHit(hit)
			if !ok {
				logrus.Warnf("Skipping malformed Hacker News hit %q", hit.ObjectID)
				continue
			}
			seen[hit.ObjectID] = true
			batch.Items = append(batch.Items, item)
			batch.Cursor = maxCursor(batch.Cursor, hit.CreatedAtI)
		}
	}

	return batch, nil
}

// search walks result pages newest first until Algolia runs out of pages
func (h *HackerNewsSource) search(ctx context.Context, query string, since int64) ([]algoliaHit, error) {
	var hits []algoliaHit
	for page := 0; page < hnMaxPages; page++ {
		var result algoliaResponse
		resp, err := h.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"query":          query,
				"tags":           "(story,comment)",
				"hitsPerPage":    strconv.Itoa(hnHitsPerPage),
				"page":           strconv.Itoa(page),
				"numericFilters": fmt.Sprintf("created_at_i>=%d", since),
			}).
			SetResult(&result).
			Get(h.baseURL)
		if err != nil {
			return nil, fmt.Errorf("hacker news search failed: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("hacker news API returned status %d", resp.StatusCode())
		}

		hits = append(hits, result.Hits...)
		if len(result.Hits) == 0 || page+1 >= result.NbPages {
			return hits, nil
		}
		if last := result.Hits[len(result.Hits)-1]; last.CreatedAtI < since {
			return hits, nil
		}
	}
	logrus.Warnf("Hacker News search for %q stopped after %d pages", query, hnMaxPages)
	return hits, nil
}

func normalizeAlgoliaHit(hit algoliaHit) (models.NormalizedItem, bool) {
	if hit.ObjectID == "" || hit.CreatedAtI == 0 {
		return models.NormalizedItem{}, false
	}

	item := models.NormalizedItem{
		ID:          hit.ObjectID,
		Author:      hit.Author,
		URL:         fmt.Sprintf(hnItemURL, hit.ObjectID),
		PublishedAt: time.Unix(hit.CreatedAtI, 0).UTC(),
	}

	switch {
	case hasTag(hit.Tags, "comment"):
		item.Kind = models.ItemComment
		item.Body = htmlToText(hit.CommentText)
		item.ParentTitle = hit.StoryTitle
		if hit.StoryID != nil {
			item.ParentID = strconv.FormatInt(*hit.StoryID, 10)
		}
	case hasTag(hit.Tags, "story"):
		item.Kind = models.ItemPost
		item.Title = hit.Title
		item.Body = htmlToText(hit.StoryText)
		item.LinkURL = hit.URL
		if hit.Points != nil {
			item.Score = *hit.Points
		}
		if hit.NumComments != nil {
			item.CommentCount = *hit.NumComments
		}
	default:
		return models.NormalizedItem{}, false
	}

	return item, true
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Accepts restricts keywords that name stories (IDs or item URLs) to those
// stories and their comments
func (h *HackerNewsSource) Accepts(kw models.Keyword, item models.NormalizedItem) bool {
	return acceptsStoryFilters(kw, item)
}

func acceptsStoryFilters(kw models.Keyword, item models.NormalizedItem) bool {
	ids := storyIDsFromFilters(kw.Filters)
	if len(ids) == 0 {
		return true
	}
	return ids[item.ID] || (item.ParentID != "" && ids[item.ParentID])
}

func storyIDsFromFilters(filters []string) map[string]bool {
	ids := make(map[string]bool)
	for _, f := range filters {
		f = strings.TrimSpace(f)
		if idx := strings.Index(f, "item?id="); idx >= 0 {
			id := f[idx+len("item?id="):]
			if amp := strings.IndexByte(id, '&'); amp >= 0 {
				id = id[:amp]
			}
			if _, err := strconv.ParseInt(id, 10, 64); err == nil {
				ids[id] = true
			} else {
				logrus.Warnf("Invalid Hacker News URL filter: %s", f)
			}
			continue
		}
		if _, err := strconv.ParseInt(f, 10, 64); err == nil {
			ids[f] = true
		}
	}
	return ids
}
