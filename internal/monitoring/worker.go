package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kleio/mentions-monitor/internal/matching"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/kleio/mentions-monitor/internal/notifications"
	"github.com/kleio/mentions-monitor/internal/sources"
	"github.com/kleio/mentions-monitor/internal/storage"
	"github.com/sirupsen/logrus"
)

// WorkerState is a step of the worker lifecycle
type WorkerState string

const (
	StateIdle     WorkerState = "idle"
	StateRunning  WorkerState = "running"
	StateBackoff  WorkerState = "error_backoff"
	StateStopping WorkerState = "stopping"
	StateStopped  WorkerState = "stopped"
	StateCrashed  WorkerState = "crashed"
)

// WorkerOptions tune the fetch loop
type WorkerOptions struct {
	FetchTimeout    time.Duration
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = time.Minute
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 5 * time.Second
	}
	if o.MaxRetryBackoff < o.RetryBackoff {
		o.MaxRetryBackoff = o.RetryBackoff
	}
	return o
}

// WorkerStatus is a snapshot of one worker
type WorkerStatus struct {
	ID                string            `json:"id"`
	Source            string            `json:"source"`
	Platform          models.Platform   `json:"platform"`
	Scope             string            `json:"scope"`
	State             WorkerState       `json:"state"`
	Keywords          int               `json:"keywords"`
	Cycles            int               `json:"cycles"`
	ErrorCount        int               `json:"error_count"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	LastError         string            `json:"last_error,omitempty"`
	LastSuccess       time.Time         `json:"last_success"`
	MentionsFound     int               `json:"mentions_found"`
	Cursors           map[string]string `json:"cursors"`
}

// Worker runs the fetch, match, persist, notify, advance loop for one
// source scope. Its keyword set is replaced through Update; the loop is
// the only goroutine that reads it.
type Worker struct {
	id       string
	source   sources.Source
	scope    string
	cursors  storage.CursorRepository
	mentions storage.MentionRepository
	notifier notifications.Notifier
	seen     *seenCache
	opts     WorkerOptions
	now      func() time.Time
	log      *logrus.Entry

	updates chan []models.Keyword
	cancel  context.CancelFunc
	done    chan struct{}

	keywords []models.Keyword
	joined   map[string]time.Time // keyword ID -> first scan in this scope

	mu     sync.RWMutex
	status WorkerStatus
}

// NewWorker creates a stopped worker for one source scope
func NewWorker(source sources.Source, scope string, keywords []models.Keyword, cursors storage.CursorRepository,
	mentions storage.MentionRepository, notifier notifications.Notifier, seen *seenCache, opts WorkerOptions) *Worker {
	id := workerID(source.GetName(), scope)
	return &Worker{
		id:       id,
		source:   source,
		scope:    scope,
		cursors:  cursors,
		mentions: mentions,
		notifier: notifier,
		seen:     seen,
		opts:     opts.withDefaults(),
		now:      time.Now,
		log: logrus.WithFields(logrus.Fields{
			"worker":   id,
			"platform": source.Platform(),
			"scope":    scope,
		}),
		updates:  make(chan []models.Keyword, 1),
		keywords: keywords,
		joined:   make(map[string]time.Time),
		status: WorkerStatus{
			ID:       id,
			Source:   source.GetName(),
			Platform: source.Platform(),
			Scope:    scope,
			State:    StateIdle,
			Keywords: len(keywords),
			Cursors:  make(map[string]string),
		},
	}
}

func workerID(source, scope string) string {
	if scope == "" {
		return source
	}
	return source + "/" + scope
}

// ID identifies the worker as source[/scope]
func (w *Worker) ID() string {
	return w.id
}

// Start launches the loop. The worker stops when ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.setState(StateRunning)
	go w.run(ctx)
}

// Stop signals the loop and waits up to timeout for it to exit.
// It reports whether the worker exited in time.
func (w *Worker) Stop(timeout time.Duration) bool {
	if w.cancel == nil {
		return true
	}
	w.setStateIfAlive(StateStopping)
	w.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		w.log.Warnf("Worker did not stop within %v", timeout)
		return false
	}
}

// Alive reports whether the loop goroutine is still running
func (w *Worker) Alive() bool {
	if w.done == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Done is closed once the loop has exited
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Update replaces the worker's keyword set. The newest set wins if the loop
// has not picked up the previous one yet.
func (w *Worker) Update(keywords []models.Keyword) {
	for {
		select {
		case w.updates <- keywords:
			w.mu.Lock()
			w.status.Keywords = len(keywords)
			w.mu.Unlock()
			return
		default:
			select {
			case <-w.updates:
			default:
			}
		}
	}
}

// Status returns a snapshot of the worker
func (w *Worker) Status() WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := w.status
	s.Cursors = make(map[string]string, len(w.status.Cursors))
	for k, v := range w.status.Cursors {
		s.Cursors[k] = v
	}
	return s
}

func (w *Worker) setState(state WorkerState) {
	w.mu.Lock()
	w.status.State = state
	w.mu.Unlock()
}

func (w *Worker) setStateIfAlive(state WorkerState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status.State != StateCrashed && w.status.State != StateStopped {
		w.status.State = state
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf("Worker crashed: %v", r)
			w.mu.Lock()
			w.status.State = StateCrashed
			w.status.LastError = fmt.Sprintf("panic: %v", r)
			w.status.ErrorCount++
			w.mu.Unlock()
			return
		}
		w.setState(StateStopped)
		w.log.Info("Worker stopped")
	}()

	w.log.Infof("Worker started with %d keywords", len(w.keywords))

	var backoff time.Duration
	for {
		w.applyPendingUpdate()

		err := w.cycle(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := w.source.Interval()
		if err != nil {
			backoff = nextBackoff(backoff, w.opts.RetryBackoff, w.opts.MaxRetryBackoff)
			wait = backoff
			w.recordFailure(err)
			w.log.Warnf("Cycle failed, retrying in %v: %v", wait, err)
		} else {
			backoff = 0
			w.recordSuccess()
		}

		if !w.wait(ctx, wait) {
			return
		}
	}
}

// wait sleeps for d while still accepting keyword updates. It returns false on cancellation.
func (w *Worker) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case kws := <-w.updates:
			w.setKeywords(kws)
		case <-timer.C:
			return true
		}
	}
}

func (w *Worker) applyPendingUpdate() {
	select {
	case kws := <-w.updates:
		w.setKeywords(kws)
	default:
	}
}

func (w *Worker) setKeywords(kws []models.Keyword) {
	w.keywords = kws
	w.log.Debugf("Keyword set updated to %d keywords", len(kws))
}

func (w *Worker) recordFailure(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Cycles++
	w.status.ErrorCount++
	w.status.ConsecutiveErrors++
	w.status.LastError = err.Error()
	w.status.State = StateBackoff
}

func (w *Worker) recordSuccess() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Cycles++
	w.status.ConsecutiveErrors = 0
	w.status.LastSuccess = w.now()
	w.status.State = StateRunning
}

func (w *Worker) recordCursor(owner, cursor string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Cursors[owner] = cursor
}

func (w *Worker) recordMention() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.MentionsFound++
}

// cycle scans the scope once for every owner with keywords in this worker.
// A failing owner does not stop the others, but fails the cycle.
func (w *Worker) cycle(ctx context.Context) error {
	byOwner := w.keywordsByOwner()

	owners := make([]string, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	var errs []error
	for _, owner := range owners {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.scanOwner(ctx, owner, byOwner[owner]); err != nil {
			errs = append(errs, fmt.Errorf("owner %s: %w", owner, err))
		}
	}
	return errors.Join(errs...)
}

func (w *Worker) keywordsByOwner() map[string][]models.Keyword {
	byOwner := make(map[string][]models.Keyword)
	for _, kw := range w.keywords {
		if !kw.Active {
			continue
		}
		if err := kw.Validate(); err != nil {
			w.log.Warnf("Skipping keyword %s this cycle: %v", kw.ID, err)
			continue
		}
		byOwner[kw.OwnerID] = append(byOwner[kw.OwnerID], kw)
	}
	return byOwner
}

func (w *Worker) scanOwner(ctx context.Context, owner string, kws []models.Keyword) error {
	key := models.CursorKey{OwnerID: owner, Platform: w.source.Platform(), Scope: w.scope}

	cursor, found, err := w.cursors.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}
	if !found {
		cursor = ""
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.opts.FetchTimeout)
	batch, err := w.source.FetchSince(fetchCtx, sources.FetchRequest{
		Scope:    w.scope,
		Keywords: kws,
		Cursor:   cursor,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	if batch == nil {
		batch = &sources.Batch{}
	}

	// First scan of the scope: remember the head, never replay the backlog
	if !found {
		if batch.Cursor == "" {
			return nil
		}
		if err := w.cursors.Set(ctx, key, batch.Cursor); err != nil {
			return fmt.Errorf("failed to store initial cursor: %w", err)
		}
		w.recordCursor(owner, batch.Cursor)
		if err := w.markJoined(ctx, key, kws); err != nil {
			return err
		}
		w.log.Infof("Primed cursor for owner %s at %s, skipped %d existing items", owner, batch.Cursor, len(batch.Items))
		return nil
	}

	admitted, joining, err := w.partitionJoined(ctx, key, kws)
	if err != nil {
		return err
	}

	for _, item := range batch.Items {
		if err := w.processItem(ctx, item, admitted); err != nil {
			return err
		}
	}

	next := advanceCursor(cursor, batch.Cursor)
	if next != cursor {
		if err := w.cursors.Set(ctx, key, next); err != nil {
			return fmt.Errorf("failed to store cursor: %w", err)
		}
	}
	w.recordCursor(owner, next)

	// Keywords new to the scope sit this batch out; it may reach back to
	// the owner's cursor, which predates them
	if err := w.markJoined(ctx, key, joining); err != nil {
		return err
	}

	if len(batch.Items) > 0 {
		w.log.Debugf("Processed %d items for owner %s, cursor %s", len(batch.Items), owner, next)
	}
	return nil
}

// joinKey addresses the join time of one keyword inside a scope's cursor space
func joinKey(key models.CursorKey, keywordID string) models.CursorKey {
	key.Scope = key.Scope + "|keyword=" + keywordID
	return key
}

// partitionJoined splits keywords into those already scanning this scope and those new to it
func (w *Worker) partitionJoined(ctx context.Context, key models.CursorKey,
	kws []models.Keyword) (admitted, joining []models.Keyword, err error) {
	for _, kw := range kws {
		if _, ok := w.joined[kw.ID]; ok {
			admitted = append(admitted, kw)
			continue
		}

		value, found, err := w.cursors.Get(ctx, joinKey(key, kw.ID))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load join time of keyword %s: %w", kw.ID, err)
		}
		if found {
			if at, perr := time.Parse(time.RFC3339Nano, value); perr == nil {
				w.joined[kw.ID] = at
				admitted = append(admitted, kw)
				continue
			}
			w.log.Warnf("Ignoring unreadable join time %q of keyword %s", value, kw.ID)
		}
		joining = append(joining, kw)
	}
	return admitted, joining, nil
}

// markJoined records now as the first scan of each keyword in the scope
func (w *Worker) markJoined(ctx context.Context, key models.CursorKey, kws []models.Keyword) error {
	now := w.now().UTC()
	for _, kw := range kws {
		if err := w.cursors.Set(ctx, joinKey(key, kw.ID), now.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to store join time of keyword %s: %w", kw.ID, err)
		}
		w.joined[kw.ID] = now
		w.log.Infof("Keyword %s joined, content published before %s is ignored", kw.ID, now.Format(time.RFC3339))
	}
	return nil
}

// processItem matches one item against every keyword. Only persistence
// failures are returned; a malformed item is skipped.
func (w *Worker) processItem(ctx context.Context, item models.NormalizedItem, kws []models.Keyword) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Warnf("Skipping malformed item %q: %v", item.ID, r)
			err = nil
		}
	}()

	if item.URL == "" {
		w.log.Warnf("Skipping item %q without URL", item.ID)
		return nil
	}

	filter, _ := w.source.(sources.ItemFilter)
	for _, kw := range kws {
		if filter != nil && !filter.Accepts(kw, item) {
			continue
		}
		if joinedAt, ok := w.joined[kw.ID]; ok && !item.PublishedAt.IsZero() && item.PublishedAt.Before(joinedAt) {
			continue
		}
		mention, ok := w.match(kw, item)
		if !ok {
			continue
		}
		if err := w.record(ctx, mention); err != nil {
			return err
		}
	}
	return nil
}

// match checks content types in order and stops at the first hit
func (w *Worker) match(kw models.Keyword, item models.NormalizedItem) (*models.Mention, bool) {
	for _, ct := range models.ContentTypeOrder {
		if !matching.ShouldMonitor(kw, ct) {
			continue
		}
		text := item.Text(ct)
		if text == "" {
			continue
		}
		result := matching.Match(kw, text, ct)
		if !result.Matched {
			continue
		}
		return w.buildMention(kw, item, ct, text, result), true
	}
	return nil, false
}

func (w *Worker) buildMention(kw models.Keyword, item models.NormalizedItem, ct models.ContentType,
	text string, result models.MatchResult) *models.Mention {
	now := w.now().UTC()

	title := item.Title
	if item.Kind == models.ItemComment {
		parent := item.ParentTitle
		if parent == "" {
			parent = item.Title
		}
		switch {
		case parent != "":
			title = "Comment on: " + parent
		case item.ParentID != "":
			title = "Comment on item " + item.ParentID
		default:
			title = "Comment"
		}
	}

	content := item.Body
	if content == "" {
		content = text
	}

	scope := item.Scope
	if scope == "" {
		scope = w.scope
	}

	published := item.PublishedAt
	if published.IsZero() {
		published = now
	}

	return &models.Mention{
		KeywordID:     kw.ID,
		OwnerID:       kw.OwnerID,
		Content:       content,
		Title:         title,
		Author:        item.Author,
		SourceURL:     item.URL,
		Platform:      w.source.Platform(),
		Scope:         scope,
		ContentType:   models.MentionType(ct),
		MatchedText:   result.MatchedText,
		MatchPosition: result.Position,
		Confidence:    result.Confidence,
		MentionDate:   published,
		DiscoveredAt:  now,
		ItemID:        item.ID,
		ParentID:      item.ParentID,
		Score:         item.Score,
		CommentCount:  item.CommentCount,
	}
}

// record persists a mention unless it already exists, then notifies
func (w *Worker) record(ctx context.Context, mention *models.Mention) error {
	if w.seen.Contains(mention.KeywordID, mention.SourceURL) {
		return nil
	}

	exists, err := w.mentions.ExistsByURL(ctx, mention.KeywordID, mention.SourceURL)
	if err != nil {
		return fmt.Errorf("failed to check mention %s: %w", mention.SourceURL, err)
	}
	if exists {
		w.seen.Add(mention.KeywordID, mention.SourceURL)
		return nil
	}

	id, err := w.mentions.Insert(ctx, mention)
	if errors.Is(err, storage.ErrDuplicateMention) {
		w.log.Debugf("Mention %s for keyword %s already recorded", mention.SourceURL, mention.KeywordID)
		w.seen.Add(mention.KeywordID, mention.SourceURL)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to store mention %s: %w", mention.SourceURL, err)
	}
	mention.ID = id
	w.seen.Add(mention.KeywordID, mention.SourceURL)
	w.recordMention()
	w.log.Infof("New mention of %q for keyword %s: %s", mention.MatchedText, mention.KeywordID, mention.SourceURL)

	w.notify(ctx, mention)
	return nil
}

// notify never fails the batch; an undelivered mention stays unnotified in the store
func (w *Worker) notify(ctx context.Context, mention *models.Mention) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, mention); err != nil {
		w.log.Errorf("Failed to notify mention %s: %v", mention.ID, err)
		return
	}
	if err := w.mentions.MarkNotified(ctx, mention.ID); err != nil {
		w.log.Errorf("Failed to mark mention %s notified: %v", mention.ID, err)
	}
}
