// Package batch drives per-message transactions across an inbound batch:
// idempotency, sender lock, routing, notification, acknowledgment. Messages
// fail independently; anything not acknowledged is redelivered by the
// transport.
package batch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"throwbot/internal/dedup"
	"throwbot/internal/gateway"
	"throwbot/internal/match"
	"throwbot/internal/obslog"
	"throwbot/internal/transport"
	"throwbot/internal/userlock"
)

// Error is the aggregate batch outcome when not every message succeeded
// outright. Skips count too: a skipped message belongs to another execution
// whose outcome is unknown, so a clean return must not cover it.
type Error struct {
	Failed  int
	Skipped int
	Total   int
}

func (e *Error) Error() string {
	if e.Failed > 0 {
		return fmt.Sprintf("failed to process %d of %d messages", e.Failed, e.Total)
	}
	return fmt.Sprintf("skipped %d of %d messages with in-flight idempotency records", e.Skipped, e.Total)
}

type Coordinator struct {
	guard  *dedup.Guard
	locks  *userlock.Manager
	engine *match.Engine
	notify gateway.Notifier
	queue  transport.Queue
}

func NewCoordinator(guard *dedup.Guard, locks *userlock.Manager, engine *match.Engine, notify gateway.Notifier, queue transport.Queue) *Coordinator {
	return &Coordinator{guard: guard, locks: locks, engine: engine, notify: notify, queue: queue}
}

// Process handles each message of the batch independently and reports the
// aggregate. Failed messages get their idempotency record cleared (so
// redelivery retries immediately) and stay on the queue; skipped messages
// are left completely untouched.
func (c *Coordinator) Process(ctx context.Context, msgs []transport.Message) error {
	var failed, skipped int
	for _, msg := range msgs {
		err := c.guard.Begin(ctx, msg.ID)
		if errors.Is(err, dedup.ErrInFlight) {
			obslog.L().Info("message_skipped", zap.String("message_id", msg.ID))
			skipped++
			continue
		}
		if err != nil {
			obslog.L().Error("dedup_begin_failed", zap.String("message_id", msg.ID), zap.Error(err))
			failed++
			continue
		}

		if perr := c.processOne(ctx, msg); perr != nil {
			obslog.L().Error("message_failed", zap.String("message_id", msg.ID), zap.Error(perr))
			failed++
			if cerr := c.guard.Clear(ctx, msg.ID); cerr != nil {
				obslog.L().Warn("dedup_clear_failed", zap.String("message_id", msg.ID), zap.Error(cerr))
			}
			continue
		}

		if derr := c.queue.Delete(ctx, msg); derr != nil {
			// side effects are applied but the ack is lost; keep the dedup
			// record so the redelivery inside the TTL window is suppressed
			obslog.L().Error("message_ack_failed", zap.String("message_id", msg.ID), zap.Error(derr))
			failed++
		}
	}

	obslog.L().Info("batch_done",
		zap.Int("total", len(msgs)),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
	)
	if failed > 0 {
		return &Error{Failed: failed, Skipped: skipped, Total: len(msgs)}
	}
	if skipped > 0 {
		return &Error{Skipped: skipped, Total: len(msgs)}
	}
	return nil
}

// processOne runs idempotency-claimed work for one message: decode, lock the
// sender, route, notify. The sender lock is released on every path; a failed
// release marks this message failed (stale-lock alarm) without touching the
// rest of the batch.
func (c *Coordinator) processOne(ctx context.Context, msg transport.Message) (err error) {
	in, err := transport.DecodeEnvelope(msg.Body)
	if err != nil {
		return err
	}
	sender := in.Origination

	token, err := c.locks.Acquire(ctx, sender)
	if err != nil {
		return fmt.Errorf("lock sender %s: %w", sender, err)
	}
	defer func() {
		if relErr := c.locks.Release(ctx, sender, token); relErr != nil {
			obslog.L().Error("lock_release_failed",
				zap.String("user_id", sender),
				zap.String("message_id", msg.ID),
				zap.Error(relErr),
			)
			err = errors.Join(err, relErr)
		}
	}()

	res, err := c.engine.Handle(ctx, sender, in.Body)
	if err != nil {
		return err
	}

	if err := c.notify.Send(ctx, sender, res.Message, in.Destination); err != nil {
		return err
	}
	if res.OtherUserID != "" && res.OtherMessage != "" {
		if err := c.notify.Send(ctx, res.OtherUserID, res.OtherMessage, in.Destination); err != nil {
			return err
		}
	}
	return nil
}
