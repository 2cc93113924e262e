// Package gateway sends outbound notifications. Impls: Pinpoint SMS, a
// generic HTTP webhook, and a dry-run logger for local runs.
package gateway

import (
	"context"

	"go.uber.org/zap"

	"throwbot/internal/obslog"
)

// Notifier delivers one text to a destination. origin is the number the
// message is sent from.
type Notifier interface {
	Send(ctx context.Context, destination, text, origin string) error
}

// Dryrun logs instead of sending.
type Dryrun struct{}

func (Dryrun) Send(ctx context.Context, destination, text, origin string) error {
	obslog.L().Info("notify_dryrun",
		zap.String("destination", destination),
		zap.String("origin", origin),
		zap.Int("text_len", len(text)),
	)
	return nil
}
