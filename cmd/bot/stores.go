package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kleio/mentions-monitor/internal/config"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/kleio/mentions-monitor/internal/storage"
	"github.com/sirupsen/logrus"
)

// keywordStore is the keyword side of a store that can also be seeded
type keywordStore interface {
	storage.KeywordRepository
	UpsertKeyword(ctx context.Context, kw models.Keyword) error
}

// stores bundles the repositories the supervisor needs
type stores struct {
	keywords keywordStore
	mentions storage.MentionRepository
	history  storage.MentionLister
	cursors  storage.CursorRepository
	closers  []io.Closer
}

func (s *stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{}

	switch cfg.StoreBackend {
	case config.StoreMemory:
		mem := storage.NewMemoryStore()
		s.keywords, s.mentions, s.history, s.cursors = mem, mem, mem, mem.Cursors()
		logrus.Warn("Using in-memory store; mentions and cursors are lost on restart")
	default:
		db, err := storage.NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s.keywords, s.mentions, s.history, s.cursors = db, db, db, db.Cursors()
		s.closers = append(s.closers, db)
		logrus.Infof("Using sqlite store at %s", cfg.DatabasePath)
	}

	switch cfg.CursorBackend {
	case config.CursorRedis:
		rc, err := storage.NewRedisCursorStore(ctx, cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect cursor store: %w", err)
		}
		s.cursors = rc
		s.closers = append(s.closers, rc)
		logrus.Info("Using redis cursor store")
	case config.CursorBlob:
		blobs, err := storage.NewAzureStorage(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
		}
		s.cursors = storage.NewBlobCursorStore(blobs, "")
		logrus.Infof("Using blob cursor store in container %s", cfg.StorageContainer)
	}

	return s, nil
}

// seedKeywords loads the YAML keyword file into the store
func seedKeywords(ctx context.Context, path string, store keywordStore) (int, error) {
	keywords, err := storage.LoadKeywordsFile(path)
	if err != nil {
		return 0, err
	}
	for _, kw := range keywords {
		if err := store.UpsertKeyword(ctx, kw); err != nil {
			return 0, fmt.Errorf("failed to seed keyword %q: %w", kw.Text, err)
		}
	}
	return len(keywords), nil
}
