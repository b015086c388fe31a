package notify

import (
	"context"
	"log/slog"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

// LogNotifier writes rendered notifications to the log instead of sending
// SMS or email.
type LogNotifier struct {
	logger   *slog.Logger
	renderer *Renderer
}

func NewLogNotifier(logger *slog.Logger, renderer *Renderer) *LogNotifier {
	return &LogNotifier{logger: logger, renderer: renderer}
}

func (n *LogNotifier) Notify(ctx context.Context, note ports.Notification) error {
	n.logger.InfoContext(ctx, "notification",
		"kind", string(note.Kind),
		"user_id", note.UserID,
		"entity_id", note.EntityID,
		"body", n.renderer.Render(note),
	)
	return nil
}
