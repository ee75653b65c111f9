package notifications

import (
	"context"

	"github.com/kleio/mentions-monitor/internal/models"
)

// Notifier delivers a newly recorded mention to its owner
type Notifier interface {
	Notify(ctx context.Context, mention *models.Mention) error
}
