package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/kleio/mentions-monitor/internal/sources"
	"github.com/kleio/mentions-monitor/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	mentions []models.Mention
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, m *models.Mention) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mentions = append(n.mentions, *m)
	return n.err
}

func (n *recordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.mentions)
}

type mockMentions struct {
	mock.Mock
}

func (m *mockMentions) ExistsByURL(_ context.Context, keywordID, url string) (bool, error) {
	args := m.Called(keywordID, url)
	return args.Bool(0), args.Error(1)
}

func (m *mockMentions) Insert(_ context.Context, mention *models.Mention) (string, error) {
	args := m.Called(mention.SourceURL)
	return args.String(0), args.Error(1)
}

func (m *mockMentions) MarkNotified(_ context.Context, mentionID string) error {
	args := m.Called(mentionID)
	return args.Error(0)
}

// regressingSource reports a cursor behind the stored one after priming
type regressingSource struct {
	*sources.FakeSource
}

func (r regressingSource) FetchSince(_ context.Context, req sources.FetchRequest) (*sources.Batch, error) {
	if req.Cursor == "" {
		return &sources.Batch{Cursor: "10"}, nil
	}
	return &sources.Batch{Cursor: "3"}, nil
}

func kleioKeyword(id, owner string, contentTypes ...models.ContentType) models.Keyword {
	if len(contentTypes) == 0 {
		contentTypes = []models.ContentType{models.ContentTitles}
	}
	return models.Keyword{
		ID:           id,
		OwnerID:      owner,
		Text:         "kleio",
		Platform:     models.PlatformHackerNews,
		MatchMode:    models.MatchContains,
		ContentTypes: contentTypes,
		Active:       true,
	}
}

func testOptions() WorkerOptions {
	return WorkerOptions{FetchTimeout: time.Second, RetryBackoff: 10 * time.Millisecond, MaxRetryBackoff: 40 * time.Millisecond}
}

type workerFixture struct {
	ctx      context.Context
	source   *sources.FakeSource
	store    *storage.MemoryStore
	notifier *recordingNotifier
	worker   *Worker
}

func newWorkerFixture(t *testing.T, keywords ...models.Keyword) *workerFixture {
	t.Helper()
	f := &workerFixture{
		ctx:      context.Background(),
		source:   sources.NewFakeSource("hn", models.PlatformHackerNews, 10*time.Millisecond),
		store:    storage.NewMemoryStore(),
		notifier: &recordingNotifier{},
	}
	f.worker = NewWorker(f.source, "", keywords, f.store.Cursors(), f.store, f.notifier, newSeenCache(100, time.Minute), testOptions())
	return f
}

func (f *workerFixture) cursor(t *testing.T, owner string) (string, bool) {
	t.Helper()
	value, found, err := f.store.Cursors().Get(f.ctx, models.CursorKey{OwnerID: owner, Platform: models.PlatformHackerNews})
	require.NoError(t, err)
	return value, found
}

func TestWorker_MentionScenario(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-1", "alice"))

	require.NoError(t, f.worker.cycle(f.ctx))
	cursor, found := f.cursor(t, "alice")
	require.True(t, found)
	assert.Equal(t, "0", cursor)

	item := models.NormalizedItem{ID: "1", Kind: models.ItemPost, Title: "Kleio launches today", URL: "https://x/1", Author: "pg"}
	f.source.Publish("", item)
	require.NoError(t, f.worker.cycle(f.ctx))

	mentions := f.store.Mentions("kw-1")
	require.Len(t, mentions, 1)
	m := mentions[0]
	assert.Equal(t, "Kleio", m.MatchedText)
	assert.Equal(t, 0, m.MatchPosition)
	assert.Equal(t, models.MentionTitle, m.ContentType)
	assert.Equal(t, "alice", m.OwnerID)
	assert.Equal(t, 1.0, m.Confidence)
	assert.True(t, m.Notified)
	assert.Equal(t, 1, f.notifier.Count())

	t.Run("Same item fetched again", func(t *testing.T) {
		f.source.Publish("", item)
		require.NoError(t, f.worker.cycle(f.ctx))
		assert.Len(t, f.store.Mentions("kw-1"), 1)
		assert.Equal(t, 1, f.notifier.Count())
	})

	t.Run("Replay after restart with unadvanced cursor", func(t *testing.T) {
		key := models.CursorKey{OwnerID: "alice", Platform: models.PlatformHackerNews}
		require.NoError(t, f.store.Cursors().Set(f.ctx, key, "0"))

		restarted := NewWorker(f.source, "", []models.Keyword{kleioKeyword("kw-1", "alice")},
			f.store.Cursors(), f.store, f.notifier, newSeenCache(100, time.Minute), testOptions())
		require.NoError(t, restarted.cycle(f.ctx))
		assert.Len(t, f.store.Mentions("kw-1"), 1)
	})
}

func TestWorker_BacklogSuppressed(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-1", "alice"))
	f.source.Publish("",
		models.NormalizedItem{ID: "1", Title: "Kleio old news", URL: "https://x/1"},
		models.NormalizedItem{ID: "2", Title: "More Kleio history", URL: "https://x/2"},
	)

	require.NoError(t, f.worker.cycle(f.ctx))
	assert.Empty(t, f.store.Mentions("kw-1"))
	cursor, _ := f.cursor(t, "alice")
	assert.Equal(t, "2", cursor)

	f.source.Publish("", models.NormalizedItem{ID: "3", Title: "Kleio is new", URL: "https://x/3"})
	require.NoError(t, f.worker.cycle(f.ctx))
	mentions := f.store.Mentions("kw-1")
	require.Len(t, mentions, 1)
	assert.Equal(t, "https://x/3", mentions[0].SourceURL)
}

func TestWorker_NewKeywordSkipsBacklog(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-1", "alice"))
	require.NoError(t, f.worker.cycle(f.ctx))

	// Days pass without a hit for kw-1, so the owner's cursor stays behind
	old := models.NormalizedItem{
		ID:          "555",
		Title:       "golang 1.30 released",
		URL:         "https://x/555",
		PublishedAt: time.Now().Add(-72 * time.Hour),
	}
	f.source.Publish("", old)

	golang := kleioKeyword("kw-2", "alice")
	golang.Text = "golang"
	f.worker.setKeywords([]models.Keyword{kleioKeyword("kw-1", "alice"), golang})

	require.NoError(t, f.worker.cycle(f.ctx))
	assert.Empty(t, f.store.Mentions("kw-2"), "a new keyword sits out its first batch")

	f.source.Publish("", models.NormalizedItem{ID: "556", Title: "golang 1.31 released", URL: "https://x/556"})
	require.NoError(t, f.worker.cycle(f.ctx))
	mentions := f.store.Mentions("kw-2")
	require.Len(t, mentions, 1)
	assert.Equal(t, "https://x/556", mentions[0].SourceURL)

	t.Run("Old content replayed after restart stays ignored", func(t *testing.T) {
		key := models.CursorKey{OwnerID: "alice", Platform: models.PlatformHackerNews}
		require.NoError(t, f.store.Cursors().Set(f.ctx, key, "0"))

		restarted := NewWorker(f.source, "", []models.Keyword{golang},
			f.store.Cursors(), f.store, f.notifier, newSeenCache(100, time.Minute), testOptions())
		require.NoError(t, restarted.cycle(f.ctx))

		mentions := f.store.Mentions("kw-2")
		require.Len(t, mentions, 1)
		assert.Equal(t, "https://x/556", mentions[0].SourceURL)
	})
}

func TestWorker_CursorNeverRegresses(t *testing.T) {
	store := storage.NewMemoryStore()
	src := regressingSource{sources.NewFakeSource("hn", models.PlatformHackerNews, time.Millisecond)}
	w := NewWorker(src, "", []models.Keyword{kleioKeyword("kw-1", "alice")}, store.Cursors(), store, nil, nil, testOptions())
	key := models.CursorKey{OwnerID: "alice", Platform: models.PlatformHackerNews}

	for i := 0; i < 3; i++ {
		require.NoError(t, w.cycle(context.Background()))
		cursor, found, err := store.Cursors().Get(context.Background(), key)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "10", cursor)
	}
}

func TestWorker_CursorAdvancesWithoutMatches(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-1", "alice"))
	require.NoError(t, f.worker.cycle(f.ctx))

	f.source.Publish("", models.NormalizedItem{ID: "1", Title: "Nothing relevant", URL: "https://x/1"})
	require.NoError(t, f.worker.cycle(f.ctx))

	cursor, _ := f.cursor(t, "alice")
	assert.Equal(t, "1", cursor)
	assert.Empty(t, f.store.Mentions("kw-1"))

	require.NoError(t, f.worker.cycle(f.ctx))
	cursor, _ = f.cursor(t, "alice")
	assert.Equal(t, "1", cursor)
}

func TestWorker_FetchErrorKeepsCursor(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-1", "alice"))
	require.NoError(t, f.worker.cycle(f.ctx))

	f.source.Publish("", models.NormalizedItem{ID: "1", Title: "Kleio", URL: "https://x/1"})
	f.source.FailNext(1, errors.New("rate limited"))

	err := f.worker.cycle(f.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	cursor, _ := f.cursor(t, "alice")
	assert.Equal(t, "0", cursor)

	require.NoError(t, f.worker.cycle(f.ctx))
	assert.Len(t, f.store.Mentions("kw-1"), 1)
}

func TestWorker_PersistFailureKeepsCursor(t *testing.T) {
	store := storage.NewMemoryStore()
	src := sources.NewFakeSource("hn", models.PlatformHackerNews, time.Millisecond)
	mentions := &mockMentions{}
	mentions.On("ExistsByURL", "kw-1", "https://x/1").Return(false, nil)
	mentions.On("Insert", "https://x/1").Return("", errors.New("disk full"))

	w := NewWorker(src, "", []models.Keyword{kleioKeyword("kw-1", "alice")}, store.Cursors(), mentions, nil, nil, testOptions())
	ctx := context.Background()
	require.NoError(t, w.cycle(ctx))

	src.Publish("", models.NormalizedItem{ID: "1", Title: "Kleio", URL: "https://x/1"})
	err := w.cycle(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	cursor, _, _ := store.Cursors().Get(ctx, models.CursorKey{OwnerID: "alice", Platform: models.PlatformHackerNews})
	assert.Equal(t, "0", cursor)
	mentions.AssertExpectations(t)
}

func TestWorker_DuplicateInsertIsSuccess(t *testing.T) {
	store := storage.NewMemoryStore()
	src := sources.NewFakeSource("hn", models.PlatformHackerNews, time.Millisecond)
	mentions := &mockMentions{}
	mentions.On("ExistsByURL", "kw-1", "https://x/1").Return(false, nil)
	mentions.On("Insert", "https://x/1").Return("", storage.ErrDuplicateMention)
	notifier := &recordingNotifier{}

	w := NewWorker(src, "", []models.Keyword{kleioKeyword("kw-1", "alice")}, store.Cursors(), mentions, notifier, nil, testOptions())
	ctx := context.Background()
	require.NoError(t, w.cycle(ctx))

	src.Publish("", models.NormalizedItem{ID: "1", Title: "Kleio", URL: "https://x/1"})
	require.NoError(t, w.cycle(ctx))

	assert.Zero(t, notifier.Count())
	cursor, _, _ := store.Cursors().Get(ctx, models.CursorKey{OwnerID: "alice", Platform: models.PlatformHackerNews})
	assert.Equal(t, "1", cursor)
	mentions.AssertNotCalled(t, "MarkNotified", mock.Anything)
}

func TestWorker_NotificationFailure(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-1", "alice"))
	f.notifier.err = errors.New("smtp down")
	require.NoError(t, f.worker.cycle(f.ctx))

	f.source.Publish("", models.NormalizedItem{ID: "1", Title: "Kleio", URL: "https://x/1"})
	require.NoError(t, f.worker.cycle(f.ctx))

	mentions := f.store.Mentions("kw-1")
	require.Len(t, mentions, 1)
	assert.False(t, mentions[0].Notified)
	cursor, _ := f.cursor(t, "alice")
	assert.Equal(t, "1", cursor)
}

func TestWorker_ContentTypes(t *testing.T) {
	tests := []struct {
		name         string
		contentTypes []models.ContentType
		item         models.NormalizedItem
		expectType   models.MentionContentType
		expectTitle  string
		expectNone   bool
	}{
		{
			name:         "Unmonitored title is ignored",
			contentTypes: []models.ContentType{models.ContentBody},
			item:         models.NormalizedItem{Kind: models.ItemPost, Title: "Kleio launches", Body: "nothing here"},
			expectNone:   true,
		},
		{
			name:         "Title wins over body",
			contentTypes: []models.ContentType{models.ContentTitles, models.ContentBody},
			item:         models.NormalizedItem{Kind: models.ItemPost, Title: "Kleio launches", Body: "kleio body"},
			expectType:   models.MentionTitle,
			expectTitle:  "Kleio launches",
		},
		{
			name:         "Body match",
			contentTypes: []models.ContentType{models.ContentTitles, models.ContentBody},
			item:         models.NormalizedItem{Kind: models.ItemPost, Title: "Launch day", Body: "built with kleio"},
			expectType:   models.MentionBody,
			expectTitle:  "Launch day",
		},
		{
			name:         "Link post body falls back to URL",
			contentTypes: []models.ContentType{models.ContentBody},
			item:         models.NormalizedItem{Kind: models.ItemPost, Title: "Launch day", LinkURL: "https://kleio.dev"},
			expectType:   models.MentionBody,
			expectTitle:  "Launch day",
		},
		{
			name:         "Comment match",
			contentTypes: []models.ContentType{models.ContentComments},
			item:         models.NormalizedItem{Kind: models.ItemComment, Body: "try kleio", ParentTitle: "Ask HN: trackers?"},
			expectType:   models.MentionComment,
			expectTitle:  "Comment on: Ask HN: trackers?",
		},
		{
			name:         "Comment without a thread title names its parent",
			contentTypes: []models.ContentType{models.ContentComments},
			item:         models.NormalizedItem{Kind: models.ItemComment, Body: "try kleio", ParentID: "38000000"},
			expectType:   models.MentionComment,
			expectTitle:  "Comment on item 38000000",
		},
		{
			name:         "Comment ignored when only titles monitored",
			contentTypes: []models.ContentType{models.ContentTitles},
			item:         models.NormalizedItem{Kind: models.ItemComment, Body: "try kleio", ParentTitle: "Kleio thread"},
			expectNone:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWorkerFixture(t, kleioKeyword("kw-1", "alice", tt.contentTypes...))
			require.NoError(t, f.worker.cycle(f.ctx))

			tt.item.ID = "1"
			tt.item.URL = "https://x/1"
			f.source.Publish("", tt.item)
			require.NoError(t, f.worker.cycle(f.ctx))

			mentions := f.store.Mentions("kw-1")
			if tt.expectNone {
				assert.Empty(t, mentions)
				return
			}
			require.Len(t, mentions, 1)
			assert.Equal(t, tt.expectType, mentions[0].ContentType)
			assert.Equal(t, tt.expectTitle, mentions[0].Title)
		})
	}
}

func TestWorker_OwnersHaveSeparateCursors(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-a", "alice"), kleioKeyword("kw-b", "bob"))
	require.NoError(t, f.worker.cycle(f.ctx))

	f.source.Publish("", models.NormalizedItem{ID: "1", Title: "Kleio", URL: "https://x/1"})
	require.NoError(t, f.worker.cycle(f.ctx))

	assert.Len(t, f.store.Mentions("kw-a"), 1)
	assert.Len(t, f.store.Mentions("kw-b"), 1)
	for _, owner := range []string{"alice", "bob"} {
		cursor, found := f.cursor(t, owner)
		assert.True(t, found)
		assert.Equal(t, "1", cursor)
	}
	assert.Equal(t, map[string]string{"alice": "1", "bob": "1"}, f.worker.Status().Cursors)
}

func TestWorker_InvalidKeywordSkipped(t *testing.T) {
	invalid := kleioKeyword("kw-bad", "alice")
	invalid.MatchMode = "regex"
	f := newWorkerFixture(t, invalid, kleioKeyword("kw-good", "alice"))
	require.NoError(t, f.worker.cycle(f.ctx))

	f.source.Publish("", models.NormalizedItem{ID: "1", Title: "Kleio", URL: "https://x/1"})
	require.NoError(t, f.worker.cycle(f.ctx))

	assert.Empty(t, f.store.Mentions("kw-bad"))
	assert.Len(t, f.store.Mentions("kw-good"), 1)
}

func TestWorker_MalformedItemSkipped(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-1", "alice"))
	f.source.SetFilter(func(_ models.Keyword, item models.NormalizedItem) bool {
		if item.ID == "bad" {
			panic("unexpected payload")
		}
		return true
	})
	require.NoError(t, f.worker.cycle(f.ctx))

	f.source.Publish("",
		models.NormalizedItem{ID: "bad", Title: "Kleio", URL: "https://x/bad"},
		models.NormalizedItem{ID: "nourl", Title: "Kleio"},
		models.NormalizedItem{ID: "good", Title: "Kleio", URL: "https://x/good"},
	)
	require.NoError(t, f.worker.cycle(f.ctx))

	mentions := f.store.Mentions("kw-1")
	require.Len(t, mentions, 1)
	assert.Equal(t, "https://x/good", mentions[0].SourceURL)
}

func TestWorker_ItemFilter(t *testing.T) {
	kw := kleioKeyword("kw-1", "alice")
	kw.Filters = []string{"42"}
	f := newWorkerFixture(t, kw)
	f.source.SetScopes(func(models.Keyword) []string { return []string{""} })
	f.source.SetFilter(func(k models.Keyword, item models.NormalizedItem) bool {
		return item.ID == k.Filters[0] || item.ParentID == k.Filters[0]
	})
	require.NoError(t, f.worker.cycle(f.ctx))

	f.source.Publish("",
		models.NormalizedItem{ID: "41", Title: "Kleio elsewhere", URL: "https://x/41"},
		models.NormalizedItem{ID: "43", Kind: models.ItemComment, Body: "kleio", ParentID: "42", URL: "https://x/43"},
	)
	f.worker.keywords[0].ContentTypes = []models.ContentType{models.ContentTitles, models.ContentComments}
	require.NoError(t, f.worker.cycle(f.ctx))

	mentions := f.store.Mentions("kw-1")
	require.Len(t, mentions, 1)
	assert.Equal(t, "https://x/43", mentions[0].SourceURL)
	assert.Equal(t, "42", mentions[0].ParentID)
}

func TestWorker_StartStop(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-1", "alice"))
	f.worker.Start(context.Background())
	require.True(t, f.worker.Alive())

	require.Eventually(t, func() bool {
		_, found := f.cursor(t, "alice")
		return found
	}, 2*time.Second, 5*time.Millisecond)

	f.source.Publish("", models.NormalizedItem{ID: "1", Title: "Kleio", URL: "https://x/1"})
	require.Eventually(t, func() bool {
		return len(f.store.Mentions("kw-1")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, f.worker.Stop(time.Second))
	assert.False(t, f.worker.Alive())
	assert.Equal(t, StateStopped, f.worker.Status().State)
}

func TestWorker_UpdateReplacesKeywords(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-1", "alice"))
	f.worker.Start(context.Background())
	defer f.worker.Stop(time.Second)

	require.Eventually(t, func() bool {
		_, found := f.cursor(t, "alice")
		return found
	}, 2*time.Second, 5*time.Millisecond)

	f.worker.Update(nil)
	require.Eventually(t, func() bool {
		return f.worker.Status().Keywords == 0
	}, time.Second, 5*time.Millisecond)

	// Let the loop pick up the empty set before publishing
	calls := f.source.Calls()
	time.Sleep(50 * time.Millisecond)
	f.source.Publish("", models.NormalizedItem{ID: "1", Title: "Kleio", URL: "https://x/1"})
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, f.store.Mentions("kw-1"))
	assert.LessOrEqual(t, f.source.Calls()-calls, 1)
}

func TestWorker_CrashIsContained(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-1", "alice"))
	f.source.PanicOnFetch(true)
	f.worker.Start(context.Background())

	select {
	case <-f.worker.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after panic")
	}
	status := f.worker.Status()
	assert.Equal(t, StateCrashed, status.State)
	assert.Contains(t, status.LastError, "panic")
	assert.False(t, f.worker.Alive())
}

func TestWorker_BackoffState(t *testing.T) {
	f := newWorkerFixture(t, kleioKeyword("kw-1", "alice"))
	f.source.FailNext(-1, errors.New("blocked"))
	f.worker.Start(context.Background())
	defer f.worker.Stop(time.Second)

	require.Eventually(t, func() bool {
		s := f.worker.Status()
		return s.ErrorCount >= 2 && s.State == StateBackoff
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "", f.worker.Status().Cursors["alice"])
}

func TestAdvanceCursor(t *testing.T) {
	tests := []struct {
		current, next, expected string
	}{
		{"", "5", "5"},
		{"5", "", "5"},
		{"5", "9", "9"},
		{"9", "5", "9"},
		{"abc", "def", "def"},
		{"", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, advanceCursor(tt.current, tt.next), "advance(%q, %q)", tt.current, tt.next)
	}
}

func TestNextBackoff(t *testing.T) {
	base, ceiling := time.Second, 5*time.Second
	assert.Equal(t, time.Second, nextBackoff(0, base, ceiling))
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, base, ceiling))
	assert.Equal(t, 4*time.Second, nextBackoff(2*time.Second, base, ceiling))
	assert.Equal(t, ceiling, nextBackoff(4*time.Second, base, ceiling))
	assert.Equal(t, ceiling, nextBackoff(ceiling, base, ceiling))
}

func TestSeenCache(t *testing.T) {
	c := newSeenCache(2, time.Minute)
	c.Add("kw", "https://x/1")
	assert.True(t, c.Contains("kw", "https://x/1"))
	assert.False(t, c.Contains("other", "https://x/1"))

	c.Add("kw", "https://x/2")
	c.Add("kw", "https://x/3")
	assert.Equal(t, 2, c.Len())

	var disabled *seenCache
	disabled.Add("kw", "https://x/1")
	assert.False(t, disabled.Contains("kw", "https://x/1"))
}
