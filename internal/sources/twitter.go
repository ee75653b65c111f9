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
	twitterSearchURL = "https://api.twitter.com/2/tweets/search/recent"
	// twitterEpoch is the snowflake epoch in milliseconds
	twitterEpoch = 1288834974657
)

// TwitterSource polls the recent search endpoint with since_id cursors.
// Hashtag filters become scopes.
type TwitterSource struct {
	client      *resty.Client
	baseURL     string
	bearerToken string
	interval    time.Duration
	now         func() time.Time
}

var _ Source = (*TwitterSource)(nil)

type twitterSearchResponse struct {
	Data     []twitterTweet `json:"data"`
	Includes struct {
		Users []twitterUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NewestID    string `json:"newest_id"`
	} `json:"meta"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type twitterUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type twitterTweet struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	AuthorID       string `json:"author_id"`
	ConversationID string `json:"conversation_id"`
	CreatedAt      string `json:"created_at"`
	PublicMetrics  struct {
		LikeCount  int `json:"like_count"`
		ReplyCount int `json:"reply_count"`
	} `json:"public_metrics"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

// NewTwitterSource creates a new Twitter source
func NewTwitterSource(bearerToken string, interval time.Duration, opts ClientOptions) *TwitterSource {
	return &TwitterSource{
		client:      newClient(opts),
		baseURL:     twitterSearchURL,
		bearerToken: bearerToken,
		interval:    interval,
		now:         time.Now,
	}
}

func (t *TwitterSource) GetName() string {
	return "twitter"
}

func (t *TwitterSource) Platform() models.Platform {
	return models.PlatformTwitter
}

func (t *TwitterSource) IsEnabled() bool {
	return t.bearerToken != ""
}

func (t *TwitterSource) Interval() time.Duration {
	return t.interval
}

// Scopes returns one scope per hashtag filter, or every tweet
func (t *TwitterSource) Scopes(kw models.Keyword) []string {
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

// snowflakeAt returns the smallest tweet ID that can be created at t
func snowflakeAt(t time.Time) int64 {
	return (t.UnixMilli() - twitterEpoch) << 22
}

func (t *TwitterSource) FetchSince(ctx context.Context, req FetchRequest) (*Batch, error) {
	if req.Cursor == "" {
		return &Batch{Cursor: strconv.FormatInt(snowflakeAt(t.now()), 10)}, nil
	}
	if _, err := strconv.ParseInt(req.Cursor, 10, 64); err != nil {
		return nil, fmt.Errorf("invalid twitter cursor %q: %w", req.Cursor, err)
	}

	batch := &Batch{Cursor: maxCursor(req.Cursor, snowflakeAt(t.now().Add(-indexLag)))}
	seen := make(map[string]bool)
	queried := make(map[string]bool)

	for _, kw := range req.Keywords {
		term := strings.ToLower(kw.Text)
		if queried[term] {
			continue
		}
		queried[term] = true

		resp, err := t.search(ctx, buildTwitterQuery(kw.Text, req.Scope), req.Cursor)
		if err != nil {
			return nil, err
		}

		users := make(map[string]string, len(resp.Includes.Users))
		for _, u := range resp.Includes.Users {
			users[u.ID] = u.Username
		}

		for _, tweet := range resp.Data {
			if seen[tweet.ID] {
				continue
			}
			id, err := strconv.ParseInt(tweet.ID, 10, 64)
			if err != nil {
				logrus.Warnf("Skipping tweet with malformed ID %q", tweet.ID)
				continue
			}
			seen[tweet.ID] = true
			batch.Items = append(batch.Items, normalizeTweet(tweet, users[tweet.AuthorID], req.Scope))
			batch.Cursor = maxCursor(batch.Cursor, id)
		}
	}

	return batch, nil
}

func buildTwitterQuery(keyword, hashtag string) string {
	q := fmt.Sprintf(`"%s" -is:retweet`, strings.ReplaceAll(keyword, `"`, ""))
	if hashtag != "" {
		q += " #" + hashtag
	}
	return q
}

func (t *TwitterSource) search(ctx context.Context, query, sinceID string) (*twitterSearchResponse, error) {
	var searchResp twitterSearchResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetAuthToken(t.bearerToken).
		SetQueryParams(map[string]string{
			"query":        query,
			"since_id":     sinceID,
			"max_results":  "100",
			"tweet.fields": "created_at,author_id,conversation_id,public_metrics,referenced_tweets",
			"expansions":   "author_id",
			"user.fields":  "username",
		}).
		SetResult(&searchResp).
		SetError(&searchResp).
		Get(t.baseURL)
	if err != nil {
		return nil, fmt.Errorf("twitter search failed: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return nil, fmt.Errorf("twitter rate limit hit, resets at %s", resp.Header().Get("x-rate-limit-reset"))
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("twitter API returned status %d: %s %s", resp.StatusCode(), searchResp.Title, searchResp.Detail)
	}
	return &searchResp, nil
}

func normalizeTweet(tweet twitterTweet, username, scope string) models.NormalizedItem {
	author := username
	if author == "" {
		author = tweet.AuthorID
	}

	item := models.NormalizedItem{
		ID:           tweet.ID,
		Kind:         models.ItemPost,
		Body:         tweet.Text,
		Author:       author,
		URL:          "https://twitter.com/i/status/" + tweet.ID,
		Scope:        scope,
		Score:        tweet.PublicMetrics.LikeCount,
		CommentCount: tweet.PublicMetrics.ReplyCount,
	}
	if created, err := time.Parse(time.RFC3339, tweet.CreatedAt); err == nil {
		item.PublishedAt = created.UTC()
	}
	for _, ref := range tweet.ReferencedTweets {
		if ref.Type == "replied_to" {
			item.Kind = models.ItemComment
			item.ParentID = ref.ID
		}
	}
	return item
}
