package notify

import (
	"context"
	"log/slog"
)

// LogNotifier records zone events in the log only, for single-node setups
// without a message bus.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ZoneUpdated(_ context.Context, zone string, serial uint32) error {
	n.logger.Info("zone updated", "zone", zone, "serial", serial)
	return nil
}

func (n *LogNotifier) ZoneExpired(_ context.Context, zone string, expired bool) error {
	n.logger.Info("zone expiry changed", "zone", zone, "expired", expired)
	return nil
}
