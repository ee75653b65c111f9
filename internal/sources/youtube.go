package sources

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/sirupsen/logrus"
)

const youTubeSearchURL = "https://www.googleapis.com/youtube/v3/search"

// YouTubeSource searches new videos per keyword. Channel ID filters become
// scopes. Videos carry a title and a description, never comments.
type YouTubeSource struct {
	client   *resty.Client
	baseURL  string
	apiKey   string
	interval time.Duration
	now      func() time.Time
}

var _ Source = (*YouTubeSource)(nil)

type youTubeSearchResponse struct {
	Items []youTubeVideo `json:"items"`
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type youTubeVideo struct {
	ID struct {
		VideoID string `json:"videoId"`
	} `json:"id"`
	Snippet struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		ChannelID    string `json:"channelId"`
		ChannelTitle string `json:"channelTitle"`
		PublishedAt  string `json:"publishedAt"`
	} `json:"snippet"`
}

// NewYouTubeSource creates a new YouTube source
func NewYouTubeSource(apiKey string, interval time.Duration, opts ClientOptions) *YouTubeSource {
	return &YouTubeSource{
		client:   newClient(opts),
		baseURL:  youTubeSearchURL,
		apiKey:   apiKey,
		interval: interval,
		now:      time.Now,
	}
}

func (y *YouTubeSource) GetName() string {
	return "youtube"
}

func (y *YouTubeSource) Platform() models.Platform {
	return models.PlatformYouTube
}

func (y *YouTubeSource) IsEnabled() bool {
	return y.apiKey != ""
}

func (y *YouTubeSource) Interval() time.Duration {
	return y.interval
}

// Scopes returns one scope per channel filter, or all of YouTube
func (y *YouTubeSource) Scopes(kw models.Keyword) []string {
	var scopes []string
	seen := make(map[string]bool)
	for _, f := range kw.Filters {
		channel := strings.TrimSpace(f)
		if channel == "" || seen[channel] {
			continue
		}
		seen[channel] = true
		scopes = append(scopes, channel)
	}
	if len(scopes) == 0 {
		return []string{""}
	}
	return scopes
}

func (y *YouTubeSource) FetchSince(ctx context.Context, req FetchRequest) (*Batch, error) {
	if req.Cursor == "" {
		return &Batch{Cursor: strconv.FormatInt(y.now().Unix(), 10)}, nil
	}
	since, err := strconv.ParseInt(req.Cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid youtube cursor %q: %w", req.Cursor, err)
	}

	batch := &Batch{Cursor: maxCursor(req.Cursor, y.now().Add(-indexLag).Unix())}
	seen := make(map[string]bool)
	queried := make(map[string]bool)

	for _, kw := range req.Keywords {
		term := strings.ToLower(kw.Text)
		if queried[term] {
			continue
		}
		queried[term] = true

		videos, err := y.search(ctx, kw.Text, req.Scope, since)
		if err != nil {
			return nil, err
		}
		for _, v := range videos {
			if v.ID.VideoID == "" || seen[v.ID.VideoID] {
				continue
			}
			published, err := time.Parse(time.RFC3339, v.Snippet.PublishedAt)
			if err != nil {
				logrus.Warnf("Skipping YouTube video %s with bad timestamp: %v", v.ID.VideoID, err)
				continue
			}
			if published.Unix() <= since {
				continue
			}
			seen[v.ID.VideoID] = true
			batch.Items = append(batch.Items, normalizeVideo(v, published, req.Scope))
			batch.Cursor = maxCursor(batch.Cursor, published.Unix())
		}
	}

	return batch, nil
}

func (y *YouTubeSource) search(ctx context.Context, query, channelID string, since int64) ([]youTubeVideo, error) {
	params := map[string]string{
		"part":           "snippet",
		"type":           "video",
		"order":          "date",
		"q":              query,
		"publishedAfter": time.Unix(since, 0).UTC().Format(time.RFC3339),
		"maxResults":     "50",
		"key":            y.apiKey,
	}
	if channelID != "" {
		params["channelId"] = channelID
	}

	var searchResp youTubeSearchResponse
	resp, err := y.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&searchResp).
		SetError(&searchResp).
		Get(y.baseURL)
	if err != nil {
		return nil, fmt.Errorf("youtube search failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("youtube API returned status %d: %s", resp.StatusCode(), searchResp.Error.Message)
	}
	return searchResp.Items, nil
}

func normalizeVideo(v youTubeVideo, published time.Time, scope string) models.NormalizedItem {
	return models.NormalizedItem{
		ID:          v.ID.VideoID,
		Kind:        models.ItemPost,
		Title:       html.UnescapeString(v.Snippet.Title),
		Body:        html.UnescapeString(v.Snippet.Description),
		Author:      v.Snippet.ChannelTitle,
		URL:         "https://www.youtube.com/watch?v=" + v.ID.VideoID,
		Scope:       scope,
		PublishedAt: published.UTC(),
		Metadata:    map[string]string{"channel_id": v.Snippet.ChannelID},
	}
}
