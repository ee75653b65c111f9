package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kleio/mentions-monitor/internal/config"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type mockMailer struct {
	mock.Mock
	mu   sync.Mutex
	sent []*gomail.Message
}

func (m *mockMailer) DialAndSend(msgs ...*gomail.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msgs...)
	m.mu.Unlock()
	args := m.Called(len(msgs))
	return args.Error(0)
}

func testMention() *models.Mention {
	return &models.Mention{
		KeywordID:   "kw-1",
		Title:       "Show HN: Kleio",
		Content:     "I built Kleio to track mentions",
		Author:      "pg",
		SourceURL:   "https://news.ycombinator.com/item?id=1",
		Platform:    models.PlatformHackerNews,
		ContentType: models.MentionTitle,
		MatchedText: "Kleio",
		MentionDate: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestNotify_Suppressed(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{
			name: "Notifications disabled",
			cfg:  &config.Config{NotificationsEnabled: false, TeamsWebhookURL: "http://127.0.0.1:1"},
		},
		{
			name: "No channel configured",
			cfg:  &config.Config{NotificationsEnabled: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.cfg)
			assert.False(t, svc.Enabled())
			assert.NoError(t, svc.Notify(context.Background(), testMention()))
		})
	}
}

func TestNotify_Teams(t *testing.T) {
	var received TeamsMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(&config.Config{NotificationsEnabled: true, TeamsWebhookURL: server.URL})
	require.NoError(t, svc.Notify(context.Background(), testMention()))

	assert.Equal(t, "MessageCard", received.Type)
	assert.Equal(t, "New mention of \"Kleio\"", received.Title)
	require.Len(t, received.Sections, 1)
	assert.Equal(t, "Show HN: Kleio", received.Sections[0].ActivityTitle)
}

func TestNotify_TeamsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	svc := NewService(&config.Config{NotificationsEnabled: true, TeamsWebhookURL: server.URL})
	err := svc.Notify(context.Background(), testMention())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teams")
}

func TestNotify_Email(t *testing.T) {
	cfg := &config.Config{
		NotificationsEnabled: true,
		NotificationEmail:    "team@example.com",
		SMTPHost:             "smtp.example.com",
		SMTPPort:             587,
		SMTPUsername:         "bot@example.com",
		SMTPPassword:         "secret",
	}

	t.Run("Success", func(t *testing.T) {
		mailer := &mockMailer{}
		mailer.On("DialAndSend", 1).Return(nil)

		svc := NewService(cfg)
		svc.mailer = mailer

		require.NoError(t, svc.Notify(context.Background(), testMention()))
		mailer.AssertExpectations(t)
		require.Len(t, mailer.sent, 1)
		assert.Equal(t, []string{"team@example.com"}, mailer.sent[0].GetHeader("To"))
		assert.Equal(t, []string{"New hackernews mention: Kleio"}, mailer.sent[0].GetHeader("Subject"))
	})

	t.Run("Failure", func(t *testing.T) {
		mailer := &mockMailer{}
		mailer.On("DialAndSend", 1).Return(errors.New("connection refused"))

		svc := NewService(cfg)
		svc.mailer = mailer

		err := svc.Notify(context.Background(), testMention())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "email")
	})
}

func TestBuildEmailBodies(t *testing.T) {
	mention := testMention()

	html, err := buildEmailHTML(mention)
	require.NoError(t, err)
	assert.Contains(t, html, `href="https://news.ycombinator.com/item?id=1"`)
	assert.Contains(t, html, "I built Kleio to track mentions")

	text := buildEmailText(mention)
	assert.Contains(t, text, "New mention of \"Kleio\" on hackernews")
	assert.Contains(t, text, "URL: https://news.ycombinator.com/item?id=1")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héll...", truncate("héllo", 4))
}
