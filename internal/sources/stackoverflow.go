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

const stackExchangeSearchURL = "https://api.stackexchange.com/2.3/search/advanced"

// StackOverflowSource searches new questions per keyword, optionally narrowed to a tag
type StackOverflowSource struct {
	client   *resty.Client
	baseURL  string
	apiKey   string
	interval time.Duration
	now      func() time.Time
}

var _ Source = (*StackOverflowSource)(nil)

type stackOverflowResponse struct {
	Items          []stackOverflowQuestion `json:"items"`
	QuotaRemaining int                     `json:"quota_remaining"`
	Backoff        int                     `json:"backoff"`
	ErrorID        int                     `json:"error_id"`
	ErrorMessage   string                  `json:"error_message"`
}

type stackOverflowQuestion struct {
	QuestionID int      `json:"question_id"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Tags       []string `json:"tags"`
	Owner      struct {
		DisplayName string `json:"display_name"`
	} `json:"owner"`
	CreationDate int64  `json:"creation_date"`
	Score        int    `json:"score"`
	AnswerCount  int    `json:"answer_count"`
	Link         string `json:"link"`
}

// NewStackOverflowSource creates a new Stack Overflow source. The API key is
// optional and only raises the request quota.
func NewStackOverflowSource(apiKey string, interval time.Duration, opts ClientOptions) *StackOverflowSource {
	return &StackOverflowSource{
		client:   newClient(opts),
		baseURL:  stackExchangeSearchURL,
		apiKey:   apiKey,
		interval: interval,
		now:      time.Now,
	}
}

func (s *StackOverflowSource) GetName() string {
	return "stackoverflow"
}

func (s *StackOverflowSource) Platform() models.Platform {
	return models.PlatformStackOverflow
}

func (s *StackOverflowSource) IsEnabled() bool {
	return true // Stack Overflow API doesn't require authentication for basic searches
}

func (s *StackOverflowSource) Interval() time.Duration {
	return s.interval
}

// Scopes returns one scope per tag filter, or the whole site
func (s *StackOverflowSource) Scopes(kw models.Keyword) []string {
	var scopes []string
	seen := make(map[string]bool)
	for _, f := range kw.Filters {
		tag := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(f, "#")))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		scopes = append(scopes, tag)
	}
	if len(scopes) == 0 {
		return []string{""}
	}
	return scopes
}

func (s *StackOverflowSource) FetchSince(ctx context.Context, req FetchRequest) (*Batch, error) {
	if req.Cursor == "" {
		return &Batch{Cursor: strconv.FormatInt(s.now().Unix(), 10)}, nil
	}
	since, err := strconv.ParseInt(req.Cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid stackoverflow cursor %q: %w", req.Cursor, err)
	}

	batch := &Batch{Cursor: maxCursor(req.Cursor, s.now().Add(-indexLag).Unix())}
	seen := make(map[int]bool)
	queried := make(map[string]bool)

	for _, kw := range req.Keywords {
		query := strings.ToLower(kw.Text)
		if queried[query] {
			continue
		}
		queried[query] = true

		questions, err := s.search(ctx, kw.Text, req.Scope, since)
		if err != nil {
			return nil, err
		}
		for _, q := range questions {
			if seen[q.QuestionID] {
				continue
			}
			if q.QuestionID == 0 || q.Link == "" {
				logrus.Warnf("Skipping malformed Stack Overflow question %d", q.QuestionID)
				continue
			}
			seen[q.QuestionID] = true
			batch.Items = append(batch.Items, normalizeQuestion(q, req.Scope))
			batch.Cursor = maxCursor(batch.Cursor, q.CreationDate)
		}
	}

	return batch, nil
}

func (s *StackOverflowSource) search(ctx context.Context, query, tag string, since int64) ([]stackOverflowQuestion, error) {
	params := map[string]string{
		"order":    "desc",
		"sort":     "creation",
		"q":        query,
		"site":     "stackoverflow",
		"fromdate": strconv.FormatInt(since, 10),
		"pagesize": "100",
		"filter":   "withbody",
	}
	if tag != "" {
		params["tagged"] = tag
	}
	if s.apiKey != "" {
		params["key"] = s.apiKey
	}

	var searchResp stackOverflowResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&searchResp).
		SetError(&searchResp).
		Get(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("stack overflow search failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("stack overflow API returned status %d: %s", resp.StatusCode(), searchResp.ErrorMessage)
	}
	if searchResp.Backoff > 0 {
		logrus.Warnf("Stack Overflow asked to back off for %ds", searchResp.Backoff)
	}
	return searchResp.Items, nil
}

func normalizeQuestion(q stackOverflowQuestion, scope string) models.NormalizedItem {
	id := strconv.Itoa(q.QuestionID)
	return models.NormalizedItem{
		ID:           id,
		Kind:         models.ItemPost,
		Title:        htmlToText(q.Title),
		Body:         htmlToText(q.Body),
		Author:       q.Owner.DisplayName,
		URL:          q.Link,
		Scope:        scope,
		PublishedAt:  time.Unix(q.CreationDate, 0).UTC(),
		Score:        q.Score,
		CommentCount: q.AnswerCount,
		Metadata:     map[string]string{"tags": strings.Join(q.Tags, ",")},
	}
}
