// Package transport models the inbound at-least-once message queue and the
// envelope format inbound SMS events arrive in.
package transport

import "context"

// Message is one inbound unit: a unique id for idempotency, an opaque
// receipt handle for acknowledgment, and the raw body.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
}

// Queue is the at-least-once inbound transport. Messages are acknowledged
// individually with Delete; anything not deleted is redelivered after the
// visibility window.
type Queue interface {
	Receive(ctx context.Context, max int32) ([]Message, error)
	Delete(ctx context.Context, msg Message) error
}
