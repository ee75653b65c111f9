package sources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	redditPublicURL = "https://www.reddit.com"
	redditOAuthURL  = "https://oauth.reddit.com"
	redditTokenURL  = "https://www.reddit.com/api/v1/access_token"
	redditAllScope  = "all"
	redditPageSize  = 100
)

// RedditSource reads the newest submissions and comments of one subreddit per scope.
// With client credentials it uses the OAuth API, otherwise the public JSON listings.
type RedditSource struct {
	clientID     string
	clientSecret string
	client       *resty.Client
	baseURL      string
	tokenURL     string
	interval     time.Duration
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

var _ Source = (*RedditSource)(nil)

type redditAuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string      `json:"kind"`
			Data redditThing `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Body        string  `json:"body"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	LinkID      string  `json:"link_id"`
	LinkTitle   string  `json:"link_title"`
	IsSelf      bool    `json:"is_self"`
	Created     float64 `json:"created_utc"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
}

// NewRedditSource creates a new Reddit source
func NewRedditSource(clientID, clientSecret string, interval time.Duration, opts ClientOptions) *RedditSource {
	return &RedditSource{
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       newClient(opts),
		baseURL:      redditPublicURL,
		tokenURL:     redditTokenURL,
		interval:     interval,
		now:          time.Now,
	}
}

func (r *RedditSource) GetName() string {
	return "reddit"
}

func (r *RedditSource) Platform() models.Platform {
	return models.PlatformReddit
}

// IsEnabled is always true; credentials only switch to the OAuth API
func (r *RedditSource) IsEnabled() bool {
	return true
}

func (r *RedditSource) Interval() time.Duration {
	return r.interval
}

func (r *RedditSource) hasCredentials() bool {
	return r.clientID != "" && r.clientSecret != ""
}

// Scopes returns one scope per subreddit filter, or r/all
func (r *RedditSource) Scopes(kw models.Keyword) []string {
	var scopes []string
	seen := make(map[string]bool)
	for _, f := range kw.Filters {
		name := normalizeSubreddit(f)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		scopes = append(scopes, name)
	}
	if len(scopes) == 0 {
		return []string{redditAllScope}
	}
	return scopes
}

func normalizeSubreddit(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "/")
	s = strings.TrimPrefix(s, "r/")
	return strings.Trim(s, "/")
}

func (r *RedditSource) FetchSince(ctx context.Context, req FetchRequest) (*Batch, error) {
	if req.Cursor == "" {
		return &Batch{Cursor: strconv.FormatInt(r.now().Unix(), 10)}, nil
	}
	since, err := strconv.ParseInt(req.Cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid reddit cursor %q: %w", req.Cursor, err)
	}

	scope := req.Scope
	if scope == "" {
		scope = redditAllScope
	}

	batch := &Batch{Cursor: req.Cursor}
	for _, listing := range []string{"new", "comments"} {
		things, err := r.listing(ctx, scope, listing)
		if err != nil {
			return nil, err
		}
		for _, thing := range things {
			created := int64(thing.Created)
			if created < since {
				continue
			}
			item, ok := normalizeRedditThing(thing, listing == "comments")
			if !ok {
				logrus.Warnf("Skipping malformed Reddit item %q in r/%s", thing.Name, scope)
				continue
			}
			batch.Items = append(batch.Items, item)
			batch.Cursor = maxCursor(batch.Cursor, created)
		}
	}

	return batch, nil
}

func (r *RedditSource) listing(ctx context.Context, subreddit, listing string) ([]redditThing, error) {
	request := r.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(redditPageSize)).
		SetQueryParam("raw_json", "1")

	base := r.baseURL
	if r.hasCredentials() {
		token, err := r.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("reddit authentication failed: %w", err)
		}
		request.SetAuthToken(token)
		if r.baseURL == redditPublicURL {
			base = redditOAuthURL
		}
	}

	var result redditListing
	resp, err := request.SetResult(&result).Get(fmt.Sprintf("%s/r/%s/%s.json", base, subreddit, listing))
	if err != nil {
		return nil, fmt.Errorf("reddit request for r/%s/%s failed: %w", subreddit, listing, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("reddit API returned status %d for r/%s/%s", resp.StatusCode(), subreddit, listing)
	}

	things := make([]redditThing, 0, len(result.Data.Children))
	for _, child := range result.Data.Children {
		things = append(things, child.Data)
	}
	return things, nil
}

func (r *RedditSource) token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.accessToken != "" && r.now().Before(r.tokenExpiry) {
		return r.accessToken, nil
	}

	var authResp redditAuthResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBasicAuth(r.clientID, r.clientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&authResp).
		Post(r.tokenURL)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK || authResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}

	r.accessToken = authResp.AccessToken
	// Refresh a minute early
	r.tokenExpiry = r.now().Add(time.Duration(authResp.ExpiresIn)*time.Second - time.Minute)
	return r.accessToken, nil
}

func normalizeRedditThing(thing redditThing, comment bool) (models.NormalizedItem, bool) {
	if thing.ID == "" || thing.Permalink == "" {
		return models.NormalizedItem{}, false
	}

	author := thing.Author
	if author == "" {
		author = "[deleted]"
	}

	item := models.NormalizedItem{
		ID:          thing.Name,
		Author:      author,
		URL:         "https://reddit.com" + thing.Permalink,
		Scope:       thing.Subreddit,
		PublishedAt: time.Unix(int64(thing.Created), 0).UTC(),
		Score:       thing.Score,
	}

	if comment {
		item.Kind = models.ItemComment
		item.Body = thing.Body
		item.ParentID = thing.LinkID
		item.ParentTitle = thing.LinkTitle
		return item, true
	}

	item.Kind = models.ItemPost
	item.Title = thing.Title
	item.Body = thing.Selftext
	item.CommentCount = thing.NumComments
	if !thing.IsSelf {
		item.LinkURL = thing.URL
	}
	return item, true
}
