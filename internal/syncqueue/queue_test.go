package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/beewell/todayfeed/internal/kv/kvtest"
)

// scriptedDeliverer fails payloads listed in failing until they are removed
// from the set. It records every payload it saw, in order.
type scriptedDeliverer struct {
	mu      sync.Mutex
	failing map[string]bool
	seen    []string

	started chan struct{}
	release chan struct{}
}

func (d *scriptedDeliverer) Deliver(_ context.Context, payload json.RawMessage) error {
	if d.started != nil {
		d.started <- struct{}{}
		<-d.release
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, string(payload))
	if d.failing[string(payload)] {
		return errors.New("upstream rejected")
	}
	return nil
}

func (d *scriptedDeliverer) unfail(payload string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failing, payload)
}

func newTestQueue(maxAttempts int) (*Queue, *scriptedDeliverer) {
	d := &scriptedDeliverer{failing: map[string]bool{}}
	q := New(kvtest.New(), d, maxAttempts, zerolog.Nop())
	return q, d
}

func enqueueN(t *testing.T, q *Queue, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if _, err := q.Enqueue(context.Background(), json.RawMessage(fmt.Sprintf(`"p%d"`, i))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
}

func TestEnqueueAssignsMonotonicSequence(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(5)

	enqueueN(t, q, 3)
	pending, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	for i, it := range pending {
		if it.SequenceNumber != int64(i+1) {
			t.Fatalf("sequence[%d] = %d, want %d", i, it.SequenceNumber, i+1)
		}
		if it.ID == "" {
			t.Fatalf("item %d missing ID", i)
		}
	}
}

func TestSyncStopsAtFirstFailure(t *testing.T) {
	// items 1 and 2 deliver, item 3 fails: 3..5 must remain, in order.
	ctx := context.Background()
	q, d := newTestQueue(5)
	d.failing[`"p3"`] = true

	enqueueN(t, q, 5)

	rep, err := q.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if rep.Delivered != 2 || rep.Failed != 1 || rep.DeadLettered != 0 {
		t.Fatalf("report = %+v", rep)
	}

	pending, _ := q.Pending(ctx)
	if len(pending) != 3 {
		t.Fatalf("pending length = %d, want 3", len(pending))
	}
	for i, want := range []int64{3, 4, 5} {
		if pending[i].SequenceNumber != want {
			t.Fatalf("pending[%d].seq = %d, want %d", i, pending[i].SequenceNumber, want)
		}
	}
	if pending[0].AttemptCount != 1 || pending[0].LastError == nil {
		t.Fatalf("failed head bookkeeping: %+v", pending[0])
	}

	// the failure clears upstream, a second pass drains the rest
	d.unfail(`"p3"`)
	rep, err = q.Sync(ctx)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if rep.Delivered != 3 {
		t.Fatalf("second report = %+v", rep)
	}
	pending, _ = q.Pending(ctx)
	if len(pending) != 0 {
		t.Fatalf("queue not drained: %+v", pending)
	}
}

func TestDeadLetterAfterAttemptCeiling(t *testing.T) {
	ctx := context.Background()
	q, d := newTestQueue(2)
	d.failing[`"p1"`] = true

	enqueueN(t, q, 2)

	rep, err := q.Sync(ctx)
	if err != nil || rep.Failed != 1 || rep.DeadLettered != 0 {
		t.Fatalf("first pass: rep %+v err %v", rep, err)
	}

	rep, err = q.Sync(ctx)
	if err != nil || rep.DeadLettered != 1 {
		t.Fatalf("second pass: rep %+v err %v", rep, err)
	}

	dead, _ := q.DeadLetter(ctx)
	if len(dead) != 1 || dead[0].SequenceNumber != 1 || dead[0].AttemptCount != 2 {
		t.Fatalf("dead letter: %+v", dead)
	}

	// item 2 is now the head and delivers on the next pass
	rep, err = q.Sync(ctx)
	if err != nil || rep.Delivered != 1 {
		t.Fatalf("third pass: rep %+v err %v", rep, err)
	}
}

func TestSequenceMonotonicAcrossDeadLetter(t *testing.T) {
	ctx := context.Background()
	q, d := newTestQueue(1)
	d.failing[`"p1"`] = true

	enqueueN(t, q, 1)
	if _, err := q.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	// queue is empty, seq 1 lives in dead-letter; next enqueue must be 2
	item, err := q.Enqueue(ctx, json.RawMessage(`"p2"`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if item.SequenceNumber != 2 {
		t.Fatalf("sequence reused: %d", item.SequenceNumber)
	}
}

func TestSyncRejectsConcurrentPass(t *testing.T) {
	ctx := context.Background()
	d := &scriptedDeliverer{
		failing: map[string]bool{},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	q := New(kvtest.New(), d, 5, zerolog.Nop())
	enqueueN(t, q, 1)

	done := make(chan error, 1)
	go func() {
		_, err := q.Sync(ctx)
		done <- err
	}()
	<-d.started

	if _, err := q.Sync(ctx); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}

	close(d.release)
	if err := <-done; err != nil {
		t.Fatalf("first pass: %v", err)
	}
}

func TestClosedQueueRejectsOperations(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(5)
	q.Close()

	if _, err := q.Enqueue(ctx, json.RawMessage(`"p"`)); !errors.Is(err, ErrClosed) {
		t.Fatalf("enqueue after close: %v", err)
	}
	if _, err := q.Sync(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("sync after close: %v", err)
	}
}

func TestSyncWithoutDelivererKeepsItemsQueued(t *testing.T) {
	ctx := context.Background()
	q := New(kvtest.New(), nil, 5, zerolog.Nop())
	if _, err := q.Enqueue(ctx, json.RawMessage(`"p1"`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rep, err := q.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if rep.Remaining != 1 || rep.Delivered != 0 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
	pending, _ := q.Pending(ctx)
	if len(pending) != 1 || pending[0].AttemptCount != 0 {
		t.Fatalf("item must stay queued untouched: %+v", pending)
	}
}

func TestSyncEmptyQueueIsNoop(t *testing.T) {
	q, d := newTestQueue(5)
	rep, err := q.Sync(context.Background())
	if err != nil || rep != (Report{}) {
		t.Fatalf("rep %+v err %v", rep, err)
	}
	if len(d.seen) != 0 {
		t.Fatalf("deliverer called on empty queue: %v", d.seen)
	}
}
