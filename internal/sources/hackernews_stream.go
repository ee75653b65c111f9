package sources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	firebaseBaseURL   = "https://hacker-news.firebaseio.com/v0"
	hnStreamScope     = "firehose"
	defaultStreamSpan = 200
	maxThreadDepth    = 64
	threadCacheSize   = 10000
)

// HackerNewsStreamSource follows the strictly increasing Firebase item ID.
// Every cycle it reads the items between the cursor and the current max ID,
// so a batch is a dense ID range rather than a search result.
type HackerNewsStreamSource struct {
	client   *resty.Client
	baseURL  string
	interval time.Duration
	maxSpan  int64
	threads  *lru.Cache[int64, storyRef] // item ID -> story it belongs to
}

type storyRef struct {
	id    int64
	title string
}

var (
	_ Source     = (*HackerNewsStreamSource)(nil)
	_ ItemFilter = (*HackerNewsStreamSource)(nil)
	_ Streamer   = (*HackerNewsStreamSource)(nil)
)

type firebaseItem struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Text        string `json:"text"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Parent      int64  `json:"parent"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Deleted     bool   `json:"deleted"`
	Dead        bool   `json:"dead"`
}

// NewHackerNewsStreamSource creates the streaming Hacker News source
func NewHackerNewsStreamSource(interval time.Duration, opts ClientOptions) *HackerNewsStreamSource {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 20
		opts.Burst = 20
	}
	threads, _ := lru.New[int64, storyRef](threadCacheSize)
	return &HackerNewsStreamSource{
		client:   newClient(opts),
		baseURL:  firebaseBaseURL,
		interval: interval,
		maxSpan:  defaultStreamSpan,
		threads:  threads,
	}
}

func (h *HackerNewsStreamSource) GetName() string {
	return "hackernews-stream"
}

func (h *HackerNewsStreamSource) Platform() models.Platform {
	return models.PlatformHackerNews
}

func (h *HackerNewsStreamSource) IsEnabled() bool {
	return true
}

func (h *HackerNewsStreamSource) Interval() time.Duration {
	return h.interval
}

func (h *HackerNewsStreamSource) Streaming() bool {
	return true
}

func (h *HackerNewsStreamSource) Scopes(models.Keyword) []string {
	return []string{hnStreamScope}
}

func (h *HackerNewsStreamSource) Accepts(kw models.Keyword, item models.NormalizedItem) bool {
	return acceptsStoryFilters(kw, item)
}

func (h *HackerNewsStreamSource) FetchSince(ctx context.Context, req FetchRequest) (*Batch, error) {
	maxID, err := h.maxItem(ctx)
	if err != nil {
		return nil, err
	}
	if req.Cursor == "" {
		return &Batch{Cursor: strconv.FormatInt(maxID, 10)}, nil
	}

	last, err := strconv.ParseInt(req.Cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid hackernews stream cursor %q: %w", req.Cursor, err)
	}

	end := maxID
	if end-last > h.maxSpan {
		end = last + h.maxSpan
	}

	batch := &Batch{Cursor: req.Cursor}
	for id := last + 1; id <= end; id++ {
		select {
		case <-ctx.Done():
			return h.partial(batch, ctx.Err())
		default:
		}

		raw, err := h.item(ctx, id)
		if err != nil {
			// Stop at the gap so the cursor never skips an unread ID
			return h.partial(batch, err)
		}
		batch.Cursor = strconv.FormatInt(id, 10)

		if raw == nil || raw.Deleted || raw.Dead {
			continue
		}
		item, ok := normalizeFirebaseItem(raw)
		if !ok {
			continue
		}
		h.attachStory(ctx, raw, &item)
		batch.Items = append(batch.Items, item)
	}

	return batch, nil
}

// partial returns what was read so far, or the error when nothing was
func (h *HackerNewsStreamSource) partial(batch *Batch, err error) (*Batch, error) {
	if len(batch.Items) == 0 {
		return nil, err
	}
	logrus.Warnf("Hacker News stream stopped early at item %s: %v", batch.Cursor, err)
	return batch, nil
}

// attachStory points comments at the story heading their thread, so story
// filters and titles see replies at any depth. The immediate parent stays
// in metadata; when the thread cannot be walked ParentID falls back to it.
func (h *HackerNewsStreamSource) attachStory(ctx context.Context, raw *firebaseItem, item *models.NormalizedItem) {
	if item.Kind != models.ItemComment {
		h.threads.Add(raw.ID, storyRef{id: raw.ID, title: raw.Title})
		return
	}

	item.Metadata = map[string]string{"parent_id": item.ParentID}
	story, ok := h.rootStory(ctx, raw.Parent)
	if !ok {
		logrus.Debugf("Could not resolve the story of Hacker News comment %d", raw.ID)
		return
	}
	h.threads.Add(raw.ID, story)
	item.ParentID = strconv.FormatInt(story.id, 10)
	item.ParentTitle = story.title
}

func (h *HackerNewsStreamSource) rootStory(ctx context.Context, parent int64) (storyRef, bool) {
	var chain []int64
	for depth := 0; depth < maxThreadDepth && parent != 0; depth++ {
		if story, ok := h.threads.Get(parent); ok {
			h.remember(chain, story)
			return story, true
		}

		raw, err := h.item(ctx, parent)
		if err != nil || raw == nil {
			return storyRef{}, false
		}
		if raw.Type != "comment" {
			story := storyRef{id: raw.ID, title: raw.Title}
			h.threads.Add(raw.ID, story)
			h.remember(chain, story)
			return story, true
		}
		chain = append(chain, raw.ID)
		parent = raw.Parent
	}
	return storyRef{}, false
}

func (h *HackerNewsStreamSource) remember(comments []int64, story storyRef) {
	for _, id := range comments {
		h.threads.Add(id, story)
	}
}

func (h *HackerNewsStreamSource) maxItem(ctx context.Context) (int64, error) {
	var maxID int64
	resp, err := h.client.R().SetContext(ctx).SetResult(&maxID).Get(h.baseURL + "/maxitem.json")
	if err != nil {
		return 0, fmt.Errorf("failed to get max item: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("hacker news API returned status %d", resp.StatusCode())
	}
	return maxID, nil
}

func (h *HackerNewsStreamSource) item(ctx context.Context, id int64) (*firebaseItem, error) {
	var item *firebaseItem
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(&item).
		Get(fmt.Sprintf("%s/item/%d.json", h.baseURL, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get item %d: %w", id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("hacker news API returned status %d for item %d", resp.StatusCode(), id)
	}
	return item, nil
}

func normalizeFirebaseItem(raw *firebaseItem) (models.NormalizedItem, bool) {
	id := strconv.FormatInt(raw.ID, 10)
	item := models.NormalizedItem{
		ID:          id,
		Author:      raw.By,
		URL:         fmt.Sprintf(hnItemURL, id),
		PublishedAt: time.Unix(raw.Time, 0).UTC(),
	}

	switch raw.Type {
	case "story", "job", "poll":
		item.Kind = models.ItemPost
		item.Title = raw.Title
		item.Body = htmlToText(raw.Text)
		item.LinkURL = raw.URL
		item.Score = raw.Score
		item.CommentCount = raw.Descendants
	case "comment":
		item.Kind = models.ItemComment
		item.Body = htmlToText(raw.Text)
		item.ParentID = strconv.FormatInt(raw.Parent, 10)
	default:
		return models.NormalizedItem{}, false
	}
	return item, true
}
