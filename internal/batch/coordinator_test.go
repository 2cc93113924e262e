package batch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"throwbot/internal/dedup"
	"throwbot/internal/match"
	"throwbot/internal/msgcat"
	"throwbot/internal/nickname"
	"throwbot/internal/store"
	"throwbot/internal/transport"
	"throwbot/internal/userlock"
)

type fakeQueue struct {
	deleted []string
	failAck bool
}

func (q *fakeQueue) Receive(ctx context.Context, max int32) ([]transport.Message, error) {
	return nil, nil
}

func (q *fakeQueue) Delete(ctx context.Context, msg transport.Message) error {
	if q.failAck {
		return errors.New("ack refused")
	}
	q.deleted = append(q.deleted, msg.ID)
	return nil
}

type sent struct {
	to, text, origin string
}

type fakeNotifier struct {
	sent     []sent
	failSend bool
}

func (n *fakeNotifier) Send(ctx context.Context, destination, text, origin string) error {
	if n.failSend {
		return errors.New("gateway down")
	}
	n.sent = append(n.sent, sent{to: destination, text: text, origin: origin})
	return nil
}

type harness struct {
	mem   *store.Memory
	guard *dedup.Guard
	locks *userlock.Manager
	queue *fakeQueue
	sms   *fakeNotifier
	coord *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	mem := store.NewMemory()
	guard := dedup.NewGuard(mem, 10*time.Second)
	locks := userlock.NewManager(mem, 10*time.Second)
	engine := match.NewEngine(mem, nickname.NewDirectory(mem), locks, cat)
	queue := &fakeQueue{}
	sms := &fakeNotifier{}
	return &harness{
		mem:   mem,
		guard: guard,
		locks: locks,
		queue: queue,
		sms:   sms,
		coord: NewCoordinator(guard, locks, engine, sms, queue),
	}
}

func smsMessage(t *testing.T, id, from, text string) transport.Message {
	t.Helper()
	inner, err := json.Marshal(map[string]string{
		"messageBody":       text,
		"originationNumber": from,
		"destinationNumber": "+15550100",
	})
	if err != nil {
		t.Fatal(err)
	}
	outer, err := json.Marshal(map[string]string{"Message": string(inner)})
	if err != nil {
		t.Fatal(err)
	}
	return transport.Message{ID: id, ReceiptHandle: "rh-" + id, Body: string(outer)}
}

func TestProcessAcksAndReplies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	err := h.coord.Process(ctx, []transport.Message{smsMessage(t, "m1", "+15550001", "nick Alice")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(h.queue.deleted) != 1 || h.queue.deleted[0] != "m1" {
		t.Fatalf("deleted = %v, want [m1]", h.queue.deleted)
	}
	if len(h.sms.sent) != 1 {
		t.Fatalf("sent = %v, want one reply", h.sms.sent)
	}
	got := h.sms.sent[0]
	if got.to != "+15550001" || got.origin != "+15550100" {
		t.Fatalf("reply routing = %+v", got)
	}
	if got.text != "Registered nickname Alice" {
		t.Fatalf("reply text = %q", got.text)
	}
}

func TestProcessNotifiesBothPlayersOnResolve(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	msgs := []transport.Message{
		smsMessage(t, "m1", "+15550001", "nick Alice"),
		smsMessage(t, "m2", "+15550002", "nick Bob"),
		smsMessage(t, "m3", "+15550001", "throw rock bob"),
		smsMessage(t, "m4", "+15550002", "t s alice"),
	}
	if err := h.coord.Process(ctx, msgs); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(h.queue.deleted) != 4 {
		t.Fatalf("deleted = %v, want all four", h.queue.deleted)
	}
	// m4 resolves the match: one reply to Bob, one correlated notice to Alice
	last := h.sms.sent[len(h.sms.sent)-2:]
	if last[0].to != "+15550002" || last[0].text != "Alice beat you" {
		t.Fatalf("loser notice = %+v", last[0])
	}
	if last[1].to != "+15550001" || last[1].text != "You beat Bob!" {
		t.Fatalf("winner notice = %+v", last[1])
	}
}

func TestProcessSkipsInFlightMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if err := h.guard.Begin(ctx, "m1"); err != nil {
		t.Fatalf("seed dedup: %v", err)
	}
	err := h.coord.Process(ctx, []transport.Message{smsMessage(t, "m1", "+15550001", "nick Alice")})
	var batchErr *Error
	if !errors.As(err, &batchErr) || batchErr.Skipped != 1 || batchErr.Failed != 0 {
		t.Fatalf("Process = %v, want skipped-only batch error", err)
	}
	if len(h.queue.deleted) != 0 {
		t.Fatalf("skipped message was acked: %v", h.queue.deleted)
	}
	if len(h.sms.sent) != 0 {
		t.Fatalf("skipped message produced sends: %v", h.sms.sent)
	}
}

func TestProcessFailureClearsDedupAndKeepsMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	bad := transport.Message{ID: "m1", ReceiptHandle: "rh-m1", Body: "not an envelope"}
	err := h.coord.Process(ctx, []transport.Message{bad})
	var batchErr *Error
	if !errors.As(err, &batchErr) || batchErr.Failed != 1 {
		t.Fatalf("Process = %v, want failed batch error", err)
	}
	if len(h.queue.deleted) != 0 {
		t.Fatalf("failed message was acked: %v", h.queue.deleted)
	}

	// dedup record was cleared, so the redelivery fails again instead of
	// being skipped
	err = h.coord.Process(ctx, []transport.Message{bad})
	if !errors.As(err, &batchErr) || batchErr.Failed != 1 || batchErr.Skipped != 0 {
		t.Fatalf("redelivery = %v, want failed (not skipped)", err)
	}
}

func TestProcessSenderLockHeld(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	token, err := h.locks.Acquire(ctx, "+15550001")
	if err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	msg := smsMessage(t, "m1", "+15550001", "nick Alice")
	perr := h.coord.Process(ctx, []transport.Message{msg})
	var batchErr *Error
	if !errors.As(perr, &batchErr) || batchErr.Failed != 1 {
		t.Fatalf("Process with held lock = %v, want failed batch error", perr)
	}
	if len(h.queue.deleted) != 0 {
		t.Fatalf("message acked despite held lock: %v", h.queue.deleted)
	}

	// redelivery succeeds after release; dedup was cleared on failure
	if err := h.locks.Release(ctx, "+15550001", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := h.coord.Process(ctx, []transport.Message{msg}); err != nil {
		t.Fatalf("redelivery after release: %v", err)
	}
	if len(h.queue.deleted) != 1 {
		t.Fatalf("deleted = %v, want [m1]", h.queue.deleted)
	}
}

func TestProcessNotifierFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.sms.failSend = true

	err := h.coord.Process(ctx, []transport.Message{smsMessage(t, "m1", "+15550001", "nick Alice")})
	var batchErr *Error
	if !errors.As(err, &batchErr) || batchErr.Failed != 1 {
		t.Fatalf("Process with failing gateway = %v, want failed batch error", err)
	}
	if len(h.queue.deleted) != 0 {
		t.Fatalf("message acked despite failed send: %v", h.queue.deleted)
	}
}

func TestProcessAckFailureKeepsDedup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.queue.failAck = true

	msg := smsMessage(t, "m1", "+15550001", "nick Alice")
	err := h.coord.Process(ctx, []transport.Message{msg})
	var batchErr *Error
	if !errors.As(err, &batchErr) || batchErr.Failed != 1 {
		t.Fatalf("Process with failing ack = %v, want failed batch error", err)
	}

	// side effects applied; the redelivery inside the TTL window must be
	// suppressed, not replayed
	h.queue.failAck = false
	err = h.coord.Process(ctx, []transport.Message{msg})
	if !errors.As(err, &batchErr) || batchErr.Skipped != 1 || batchErr.Failed != 0 {
		t.Fatalf("redelivery after ack failure = %v, want skipped", err)
	}
	if len(h.sms.sent) != 1 {
		t.Fatalf("sent = %v, want single delivery", h.sms.sent)
	}
}
