package service

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier records author-added events in the service log. It stands in
// for the campus mail channel until one is provisioned; swapping it out only
// requires another authorNotifier implementation at the wiring site.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs the notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// NotifyAuthorAdded logs the assignment so operators can audit outgoing
// notifications before a real channel exists.
func (n *LogNotifier) NotifyAuthorAdded(ctx context.Context, imID, userID string) {
	n.logger.Info("author added to material",
		zap.String("im_id", imID), zap.String("user_id", userID))
}
