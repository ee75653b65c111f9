package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the keyword, mention and cursor repositories on one SQLite file
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ KeywordRepository = (*SQLiteStore)(nil)
	_ MentionRepository = (*SQLiteStore)(nil)
	_ MentionLister     = (*SQLiteStore)(nil)
	_ CursorRepository  = sqliteCursors{}
)

// NewSQLiteStore opens (and migrates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Workers insert concurrently; a single connection serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logrus.Infof("Opened SQLite store at %s", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS keywords (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		keyword TEXT NOT NULL,
		platform TEXT NOT NULL,
		filters TEXT NOT NULL DEFAULT '[]',
		case_sensitive BOOLEAN NOT NULL DEFAULT 0,
		case_mode TEXT NOT NULL DEFAULT '',
		match_mode TEXT NOT NULL DEFAULT 'contains',
		content_types TEXT NOT NULL DEFAULT '[]',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mentions (
		id TEXT PRIMARY KEY,
		keyword_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		title TEXT,
		author TEXT,
		source_url TEXT NOT NULL,
		platform TEXT NOT NULL,
		scope TEXT,
		content_type TEXT NOT NULL,
		matched_text TEXT,
		match_position INTEGER,
		match_confidence REAL,
		mention_date TEXT,
		discovered_at TEXT NOT NULL,
		email_sent BOOLEAN NOT NULL DEFAULT 0,
		email_sent_at TEXT,
		item_id TEXT,
		parent_id TEXT,
		score INTEGER,
		comment_count INTEGER,
		UNIQUE (keyword_id, source_url)
	);

	CREATE TABLE IF NOT EXISTS cursors (
		user_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		scope TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, platform, scope)
	);

	CREATE INDEX IF NOT EXISTS idx_keywords_active ON keywords(is_active);
	CREATE INDEX IF NOT EXISTS idx_mentions_user_platform ON mentions(user_id, platform, discovered_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// UpsertKeyword creates or replaces a keyword. Used for seeding; the management API owns keyword writes.
func (s *SQLiteStore) UpsertKeyword(ctx context.Context, kw models.Keyword) error {
	filters, _ := json.Marshal(kw.Filters)
	contentTypes, _ := json.Marshal(kw.ContentTypes)
	now := time.Now().UTC()
	if kw.CreatedAt.IsZero() {
		kw.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keywords (id, user_id, keyword, platform, filters, case_sensitive, case_mode,
			match_mode, content_types, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			keyword = excluded.keyword,
			platform = excluded.platform,
			filters = excluded.filters,
			case_sensitive = excluded.case_sensitive,
			case_mode = excluded.case_mode,
			match_mode = excluded.match_mode,
			content_types = excluded.content_types,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, kw.ID, kw.OwnerID, kw.Text, string(kw.Platform), string(filters), kw.CaseSensitive,
		string(kw.CaseMode), string(kw.MatchMode), string(contentTypes), kw.Active,
		formatTime(kw.CreatedAt), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to upsert keyword %s: %w", kw.ID, err)
	}
	return nil
}

const keywordColumns = `id, user_id, keyword, platform, filters, case_sensitive, case_mode,
	match_mode, content_types, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKeyword(row rowScanner) (models.Keyword, error) {
	var (
		kw                    models.Keyword
		platform, caseMode    string
		matchMode             string
		filters, contentTypes string
		createdAt, updatedAt  sql.NullString
	)
	err := row.Scan(&kw.ID, &kw.OwnerID, &kw.Text, &platform, &filters, &kw.CaseSensitive,
		&caseMode, &matchMode, &contentTypes, &kw.Active, &createdAt, &updatedAt)
	if err != nil {
		return kw, err
	}

	kw.Platform = models.Platform(platform)
	kw.CaseMode = models.CaseSensitivity(caseMode)
	kw.MatchMode = models.MatchMode(matchMode)
	kw.CreatedAt = parseTime(createdAt)
	kw.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(filters), &kw.Filters); err != nil {
		return kw, fmt.Errorf("keyword %s has malformed filters: %w", kw.ID, err)
	}
	if err := json.Unmarshal([]byte(contentTypes), &kw.ContentTypes); err != nil {
		return kw, fmt.Errorf("keyword %s has malformed content types: %w", kw.ID, err)
	}
	return kw, nil
}

// ListActive implements KeywordRepository
func (s *SQLiteStore) ListActive(ctx context.Context) ([]models.Keyword, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+keywordColumns+` FROM keywords WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer rows.Close()

	var keywords []models.Keyword
	for rows.Next() {
		kw, err := scanKeyword(rows)
		if err != nil {
			// One corrupt row must not hide every other keyword
			logrus.Warnf("Skipping unreadable keyword row: %v", err)
			continue
		}
		keywords = append(keywords, kw)
	}
	return keywords, rows.Err()
}

// Get implements KeywordRepository
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Keyword, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+keywordColumns+` FROM keywords WHERE id = ?`, id)
	kw, err := scanKeyword(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get keyword %s: %w", id, err)
	}
	return &kw, nil
}

// ExistsByURL implements MentionRepository
func (s *SQLiteStore) ExistsByURL(ctx context.Context, keywordID, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM mentions WHERE keyword_id = ? AND source_url = ? LIMIT 1`, keywordID, url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check mention: %w", err)
	}
	return true, nil
}

// Insert implements MentionRepository
func (s *SQLiteStore) Insert(ctx context.Context, m *models.Mention) (string, error) {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mentions (id, keyword_id, user_id, content, title, author, source_url, platform,
			scope, content_type, matched_text, match_position, match_confidence, mention_date,
			discovered_at, email_sent, item_id, parent_id, score, comment_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(keyword_id, source_url) DO NOTHING
	`, id, m.KeywordID, m.OwnerID, m.Content, m.Title, m.Author, m.SourceURL, string(m.Platform),
		m.Scope, string(m.ContentType), m.MatchedText, m.MatchPosition, m.Confidence,
		formatTime(m.MentionDate), formatTime(m.DiscoveredAt), m.ItemID, m.ParentID, m.Score, m.CommentCount)
	if err != nil {
		return "", fmt.Errorf("failed to insert mention: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return "", ErrDuplicateMention
	}
	return id, nil
}

// MarkNotified implements MentionRepository
func (s *SQLiteStore) MarkNotified(ctx context.Context, mentionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mentions SET email_sent = 1, email_sent_at = ? WHERE id = ?`,
		formatTime(time.Now()), mentionID)
	if err != nil {
		return fmt.Errorf("failed to mark mention %s notified: %w", mentionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMentions returns the mentions recorded for a keyword, newest first
func (s *SQLiteStore) ListMentions(ctx context.Context, keywordID string, limit int) ([]models.Mention, error) {
	if limit <= 0 {
		limit = defaultMentionLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, keyword_id, user_id, content, title, author, source_url, platform, scope,
			content_type, matched_text, match_position, match_confidence, mention_date,
			discovered_at, email_sent, email_sent_at, item_id, parent_id, score, comment_count
		FROM mentions WHERE keyword_id = ? ORDER BY discovered_at DESC LIMIT ?
	`, keywordID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list mentions: %w", err)
	}
	defer rows.Close()

	var mentions []models.Mention
	for rows.Next() {
		var (
			m                                   models.Mention
			title, author, scope, matched       sql.NullString
			itemID, parentID                    sql.NullString
			platform, contentType               string
			mentionDate, discoveredAt, notified sql.NullString
			position, score, comments           sql.NullInt64
			confidence                          sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.KeywordID, &m.OwnerID, &m.Content, &title, &author, &m.SourceURL,
			&platform, &scope, &contentType, &matched, &position, &confidence, &mentionDate,
			&discoveredAt, &m.Notified, &notified, &itemID, &parentID, &score, &comments); err != nil {
			return nil, fmt.Errorf("failed to scan mention: %w", err)
		}

		m.Title, m.Author, m.Scope, m.MatchedText = title.String, author.String, scope.String, matched.String
		m.ItemID, m.ParentID = itemID.String, parentID.String
		m.Platform = models.Platform(platform)
		m.ContentType = models.MentionContentType(contentType)
		m.MatchPosition = int(position.Int64)
		m.Confidence = confidence.Float64
		m.Score, m.CommentCount = int(score.Int64), int(comments.Int64)
		m.MentionDate = parseTime(mentionDate)
		m.DiscoveredAt = parseTime(discoveredAt)
		if t := parseTime(notified); !t.IsZero() {
			m.NotifiedAt = &t
		}
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}

// Cursors returns the store's CursorRepository view
func (s *SQLiteStore) Cursors() CursorRepository {
	return sqliteCursors{s.db}
}

type sqliteCursors struct{ db *sql.DB }

func (c sqliteCursors) Get(ctx context.Context, key models.CursorKey) (string, bool, error) {
	var value string
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM cursors WHERE user_id = ? AND platform = ? AND scope = ?`,
		key.OwnerID, string(key.Platform), key.Scope).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cursor: %w", err)
	}
	return value, true, nil
}

func (c sqliteCursors) Set(ctx context.Context, key models.CursorKey, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cursors (user_id, platform, scope, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, platform, scope) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key.OwnerID, string(key.Platform), key.Scope, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	return nil
}
