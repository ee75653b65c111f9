package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kleio/mentions-monitor/internal/models"
)

// MemoryStore is a process-local implementation of every repository
type MemoryStore struct {
	mu       sync.RWMutex
	keywords map[string]models.Keyword
	mentions map[string]*models.Mention
	byURL    map[string]string // keywordID|url -> mention ID
	cursors  map[models.CursorKey]string
}

var (
	_ KeywordRepository = (*MemoryStore)(nil)
	_ MentionRepository = (*MemoryStore)(nil)
	_ MentionLister     = (*MemoryStore)(nil)
	_ CursorRepository  = memoryCursors{}
)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keywords: make(map[string]models.Keyword),
		mentions: make(map[string]*models.Mention),
		byURL:    make(map[string]string),
		cursors:  make(map[models.CursorKey]string),
	}
}

func dedupKey(keywordID, url string) string {
	return keywordID + "|" + url
}

// UpsertKeyword creates or replaces a keyword
func (s *MemoryStore) UpsertKeyword(_ context.Context, kw models.Keyword) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.keywords[kw.ID]; ok {
		kw.CreatedAt = existing.CreatedAt
	} else if kw.CreatedAt.IsZero() {
		kw.CreatedAt = now
	}
	kw.UpdatedAt = now
	s.keywords[kw.ID] = kw
	return nil
}

// ListActive implements KeywordRepository
func (s *MemoryStore) ListActive(_ context.Context) ([]models.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []models.Keyword
	for _, kw := range s.keywords {
		if kw.Active {
			active = append(active, kw)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active, nil
}

// Get implements KeywordRepository
func (s *MemoryStore) Get(_ context.Context, id string) (*models.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kw, ok := s.keywords[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &kw, nil
}

// ExistsByURL implements MentionRepository
func (s *MemoryStore) ExistsByURL(_ context.Context, keywordID, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byURL[dedupKey(keywordID, url)]
	return ok, nil
}

// Insert implements MentionRepository
func (s *MemoryStore) Insert(_ context.Context, mention *models.Mention) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupKey(mention.KeywordID, mention.SourceURL)
	if _, ok := s.byURL[key]; ok {
		return "", ErrDuplicateMention
	}

	stored := *mention
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	s.mentions[stored.ID] = &stored
	s.byURL[key] = stored.ID
	return stored.ID, nil
}

// MarkNotified implements MentionRepository
func (s *MemoryStore) MarkNotified(_ context.Context, mentionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mentions[mentionID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	m.Notified = true
	m.NotifiedAt = &now
	return nil
}

// Mentions returns a copy of every stored mention for a keyword, oldest discovery first
func (s *MemoryStore) Mentions(keywordID string) []models.Mention {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Mention
	for _, m := range s.mentions {
		if keywordID == "" || m.KeywordID == keywordID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiscoveredAt.Before(out[j].DiscoveredAt) })
	return out
}

// ListMentions returns up to limit mentions of a keyword, newest first
func (s *MemoryStore) ListMentions(_ context.Context, keywordID string, limit int) ([]models.Mention, error) {
	if limit <= 0 {
		limit = defaultMentionLimit
	}
	all := s.Mentions(keywordID)
	out := make([]models.Mention, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Cursors returns the store's CursorRepository view
func (s *MemoryStore) Cursors() CursorRepository {
	return memoryCursors{s}
}

type memoryCursors struct{ s *MemoryStore }

func (c memoryCursors) Get(_ context.Context, key models.CursorKey) (string, bool, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	v, ok := c.s.cursors[key]
	return v, ok, nil
}

func (c memoryCursors) Set(_ context.Context, key models.CursorKey, value string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	c.s.cursors[key] = value
	return nil
}
