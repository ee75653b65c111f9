package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kleio/mentions-monitor/internal/config"
	"github.com/kleio/mentions-monitor/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/gomail.v2"
)

const contentPreviewLength = 300

// mailSender is satisfied by *gomail.Dialer
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Service sends mention alerts to Teams and email
type Service struct {
	config *config.Config
	client *resty.Client
	mailer mailSender
}

// Ensure Service implements Notifier
var _ Notifier = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type     string         `json:"@type"`
	Context  string         `json:"@context"`
	Title    string         `json:"title"`
	Text     string         `json:"text"`
	Sections []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	s := &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
	if cfg.NotificationEmail != "" {
		s.mailer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	return s
}

// Enabled reports whether notifications will actually be sent
func (s *Service) Enabled() bool {
	return s.config.NotificationsEnabled && s.config.NotificationChannels()
}

// Notify sends the mention on every configured channel concurrently.
// Suppressed notifications succeed without sending anything.
func (s *Service) Notify(ctx context.Context, mention *models.Mention) error {
	if !s.Enabled() {
		logrus.Debugf("Notifications suppressed for mention %s", mention.SourceURL)
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)

	if s.config.TeamsWebhookURL != "" {
		g.Go(func() error {
			if err := s.sendToTeams(ctx, mention); err != nil {
				return fmt.Errorf("teams: %w", err)
			}
			return nil
		})
	}

	if s.config.NotificationEmail != "" && s.mailer != nil {
		g.Go(func() error {
			if err := s.sendEmail(mention); err != nil {
				return fmt.Errorf("email: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logrus.Errorf("Failed to send notification for %s: %v", mention.SourceURL, err)
		return err
	}

	logrus.Infof("Sent notification for %s mention %s", mention.Platform, mention.SourceURL)
	return nil
}

func (s *Service) sendToTeams(ctx context.Context, mention *models.Mention) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(buildTeamsMessage(mention)).
		Post(s.config.TeamsWebhookURL)
	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func buildTeamsMessage(mention *models.Mention) *TeamsMessage {
	facts := []TeamsFact{
		{Name: "Platform", Value: string(mention.Platform)},
		{Name: "Matched", Value: mention.MatchedText},
		{Name: "Found in", Value: string(mention.ContentType)},
		{Name: "Author", Value: mention.Author},
		{Name: "Posted", Value: mention.MentionDate.UTC().Format("2006-01-02 15:04:05 UTC")},
	}
	if mention.Scope != "" {
		facts = append(facts, TeamsFact{Name: "Community", Value: mention.Scope})
	}

	return &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("New mention of \"%s\"", mention.MatchedText),
		Text:    fmt.Sprintf("[%s](%s)", mention.Title, mention.SourceURL),
		Sections: []TeamsSection{{
			ActivityTitle: mention.Title,
			ActivityText:  truncate(mention.Content, contentPreviewLength),
			Facts:         facts,
			Markdown:      true,
		}},
	}
}

func (s *Service) sendEmail(mention *models.Mention) error {
	htmlBody, err := buildEmailHTML(mention)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", fmt.Sprintf("New %s mention: %s", mention.Platform, mention.MatchedText))
	m.SetBody("text/plain", buildEmailText(mention))
	m.AddAlternative("text/html", htmlBody)

	if err := s.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

var emailTemplate = template.Must(template.New("email").Funcs(template.FuncMap{
	"truncate": truncate,
}).Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New mention</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .mention { border-left: 4px solid #0078d4; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .mention-title { font-weight: bold; margin-bottom: 5px; }
        .mention-meta { color: #666; font-size: 0.9em; }
    </style>
</head>
<body>
    <div class="mention">
        <div class="mention-title">
            <a href="{{.SourceURL}}" target="_blank">{{.Title}}</a>
        </div>
        <div class="mention-meta">
            "{{.MatchedText}}" in {{.ContentType}} by {{.Author}} on {{.Platform}}{{if .Scope}} ({{.Scope}}){{end}} | {{.MentionDate.Format "Jan 2, 2006 15:04"}}
        </div>
        {{if .Content}}<p>{{truncate .Content 300}}</p>{{end}}
    </div>
</body>
</html>
`))

func buildEmailHTML(mention *models.Mention) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, mention); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildEmailText(mention *models.Mention) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("New mention of \"%s\" on %s\n\n", mention.MatchedText, mention.Platform))
	text.WriteString(fmt.Sprintf("%s\n", mention.Title))
	text.WriteString(fmt.Sprintf("Author: %s | Found in: %s | Date: %s\n",
		mention.Author, mention.ContentType, mention.MentionDate.Format("Jan 2, 2006 15:04")))
	text.WriteString(fmt.Sprintf("URL: %s\n", mention.SourceURL))
	if mention.Content != "" {
		text.WriteString(fmt.Sprintf("\n%s\n", truncate(mention.Content, contentPreviewLength)))
	}

	return text.String()
}

func truncate(s string, length int) string {
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}
	return string(runes[:length]) + "..."
}
