// Package dedup suppresses duplicate processing of a message id within a
// short TTL window. A record that outlived its TTL no longer blocks: a
// crashed attempt heals by itself, while true concurrent duplicates inside
// the window are rejected.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"throwbot/internal/store"
)

// ErrInFlight means another execution currently owns this message id.
var ErrInFlight = errors.New("message already in flight")

type Guard struct {
	records store.Records
	ttl     time.Duration
}

func NewGuard(records store.Records, ttl time.Duration) *Guard {
	return &Guard{records: records, ttl: ttl}
}

// Begin claims the message id for this execution. Returns ErrInFlight when a
// non-expired record already exists.
func (g *Guard) Begin(ctx context.Context, messageID string) error {
	err := g.records.PutDedup(ctx, messageID, g.ttl)
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrInFlight
	}
	if err != nil {
		return fmt.Errorf("begin dedup %s: %w", messageID, err)
	}
	return nil
}

// Clear drops the record after a failed attempt so the redelivery does not
// have to wait out the TTL. Successful attempts leave the record to expire.
func (g *Guard) Clear(ctx context.Context, messageID string) error {
	if err := g.records.DeleteDedup(ctx, messageID); err != nil {
		return fmt.Errorf("clear dedup %s: %w", messageID, err)
	}
	return nil
}
