package sources

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	userAgent      = "Kleio-Mentions-Monitor/1.0"
	requestTimeout = 30 * time.Second
	maxRetries     = 3
)

// ClientOptions tune the HTTP client shared by a source
type ClientOptions struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	UserAgent         string
}

// newClient builds a resty client that waits on a per-source rate limiter
// before every request and retries rate-limit and server errors with backoff.
func newClient(opts ClientOptions) *resty.Client {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = requestTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = userAgent
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)

	return resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetRetryCount(maxRetries).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return r == nil || r.Request == nil || r.Request.Context().Err() == nil
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return limiter.Wait(r.Context())
		})
}

// htmlToText flattens the HTML fragments platforms return for post and comment bodies
func htmlToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}

	doc.Find("br").Each(func(_ int, sel *goquery.Selection) {
		sel.ReplaceWithHtml("\n")
	})
	doc.Find("code").Each(func(_ int, sel *goquery.Selection) {
		sel.SetText("`" + sel.Text() + "`")
	})
	doc.Find("p").Each(func(i int, sel *goquery.Selection) {
		if i > 0 {
			sel.PrependHtml("\n")
		}
	})

	return strings.TrimSpace(doc.Text())
}

// indexLag is how far behind the fetch time search sources move an idle cursor,
// leaving room for content the search index has not caught up with
const indexLag = 2 * time.Minute

// maxCursor returns the larger of two integer cursors, treating unparsable values as absent
func maxCursor(a string, b int64) string {
	current, err := strconv.ParseInt(a, 10, 64)
	if err != nil || b > current {
		return strconv.FormatInt(b, 10)
	}
	return a
}
