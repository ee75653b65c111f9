package sources

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kleio/mentions-monitor/internal/models"
)

// FakeSource is an in-memory platform with one append-only feed per scope.
// Its cursor is the number of items already read from the feed. It backs
// tests and local runs without network access.
type FakeSource struct {
	name     string
	platform models.Platform
	interval time.Duration

	mu        sync.Mutex
	feeds     map[string][]models.NormalizedItem
	failErr   error
	failTimes int
	panicOn   bool
	calls     int
	requests  []FetchRequest
	filter    func(models.Keyword, models.NormalizedItem) bool
	scopes    func(models.Keyword) []string
}

var (
	_ Source     = (*FakeSource)(nil)
	_ ItemFilter = (*FakeSource)(nil)
)

// NewFakeSource creates an empty fake source
func NewFakeSource(name string, platform models.Platform, interval time.Duration) *FakeSource {
	return &FakeSource{
		name:     name,
		platform: platform,
		interval: interval,
		feeds:    make(map[string][]models.NormalizedItem),
	}
}

func (f *FakeSource) GetName() string { return f.name }
func (f *FakeSource) Platform() models.Platform { return f.platform }
func (f *FakeSource) IsEnabled() bool { return true }
func (f *FakeSource) Interval() time.Duration { return f.interval }

// Scopes uses the keyword filters as scopes unless overridden
func (f *FakeSource) Scopes(kw models.Keyword) []string {
	f.mu.Lock()
	scopes := f.scopes
	f.mu.Unlock()
	if scopes != nil {
		return scopes(kw)
	}
	if len(kw.Filters) == 0 {
		return []string{""}
	}
	return kw.Filters
}

func (f *FakeSource) Accepts(kw models.Keyword, item models.NormalizedItem) bool {
	f.mu.Lock()
	filter := f.filter
	f.mu.Unlock()
	if filter == nil {
		return true
	}
	return filter(kw, item)
}

// Publish appends items to a scope's feed
func (f *FakeSource) Publish(scope string, items ...models.NormalizedItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds[scope] = append(f.feeds[scope], items...)
}

// FailNext makes the next n fetches return err; n < 0 fails until cleared
func (f *FakeSource) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTimes = n
	f.failErr = err
}

// PanicOnFetch makes every fetch panic until cleared
func (f *FakeSource) PanicOnFetch(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panicOn = on
}

// SetFilter installs an item filter
func (f *FakeSource) SetFilter(fn func(models.Keyword, models.NormalizedItem) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = fn
}

// SetScopes overrides how keywords map to scopes
func (f *FakeSource) SetScopes(fn func(models.Keyword) []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes = fn
}

// Calls returns how many fetches were attempted
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Requests returns a copy of every fetch request received
func (f *FakeSource) Requests() []FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FetchRequest(nil), f.requests...)
}

func (f *FakeSource) FetchSince(ctx context.Context, req FetchRequest) (*Batch, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.panicOn {
		f.mu.Unlock()
		panic(fmt.Sprintf("%s: fetch panicked", f.name))
	}
	if f.failTimes != 0 {
		if f.failTimes > 0 {
			f.failTimes--
		}
		err := f.failErr
		f.mu.Unlock()
		return nil, err
	}
	feed := append([]models.NormalizedItem(nil), f.feeds[req.Scope]...)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	head := strconv.Itoa(len(feed))
	if req.Cursor == "" {
		return &Batch{Cursor: head}, nil
	}
	offset, err := strconv.Atoi(req.Cursor)
	if err != nil || offset < 0 {
		return nil, fmt.Errorf("invalid fake cursor %q", req.Cursor)
	}
	if offset > len(feed) {
		offset = len(feed)
	}
	return &Batch{Items: feed[offset:], Cursor: head}, nil
}
