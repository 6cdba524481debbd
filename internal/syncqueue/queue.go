// Package syncqueue implements the durable FIFO of interactions generated
// while offline and the replay protocol that drains it on reconnection.
package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/beewell/todayfeed/internal/kv"
	"github.com/beewell/todayfeed/internal/metrics"
	"github.com/beewell/todayfeed/internal/model"
)

// Deliverer sends one interaction payload upstream. An error means the item
// stays queued; replay retries it on a later pass.
type Deliverer interface {
	Deliver(ctx context.Context, payload json.RawMessage) error
}

// ErrSyncInProgress reports that another replay pass is already running.
var ErrSyncInProgress = errors.New("syncqueue: replay already in progress")

// ErrClosed reports that the queue has been disposed.
var ErrClosed = errors.New("syncqueue: closed")

// Report summarizes one replay pass.
type Report struct {
	Delivered    int `json:"delivered"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"deadLettered"`
	Remaining    int `json:"remaining"`
}

// Queue is the durable interaction queue. Enqueue never blocks on the
// network; Sync drains in strict sequence order and removes an item only
// after positive acknowledgment.
type Queue struct {
	kv          kv.Store
	log         zerolog.Logger
	deliverer   Deliverer
	maxAttempts int
	now         func() time.Time

	mu      sync.Mutex
	syncing bool
	closed  bool
}

// New builds a queue. maxAttempts is the per-item ceiling before an item is
// moved to the dead-letter list.
func New(store kv.Store, deliverer Deliverer, maxAttempts int, log zerolog.Logger) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Queue{
		kv:          store,
		log:         log.With().Str("component", "syncqueue").Logger(),
		deliverer:   deliverer,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Enqueue assigns the next sequence number, appends the interaction to the
// durable list, and returns immediately.
func (q *Queue) Enqueue(ctx context.Context, payload json.RawMessage) (*model.QueuedInteraction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}

	pending, err := q.loadList(ctx, kv.KeySyncQueue)
	if err != nil {
		return nil, err
	}
	dead, err := q.loadList(ctx, kv.KeySyncDeadLetter)
	if err != nil {
		return nil, err
	}

	item := model.QueuedInteraction{
		SequenceNumber: nextSequence(pending, dead),
		ID:             uuid.New().String(),
		Payload:        payload,
		EnqueuedAt:     q.now().UTC(),
	}
	pending = append(pending, item)
	if err := q.saveList(ctx, kv.KeySyncQueue, pending); err != nil {
		return nil, err
	}
	metrics.InteractionsEnqueuedTotal.Inc()
	metrics.QueueLength.Set(float64(len(pending)))
	q.log.Debug().Int64("seq", item.SequenceNumber).Msg("interaction enqueued")
	return &item, nil
}

// Sync replays pending interactions in sequence order. Only one pass runs at
// a time; a pass stops at the first delivery failure so a stuck head never
// reorders the queue. Items that exhaust their attempt ceiling move to the
// dead-letter list instead of blocking subsequent passes.
func (q *Queue) Sync(ctx context.Context) (Report, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Report{}, ErrClosed
	}
	if q.syncing {
		q.mu.Unlock()
		return Report{}, ErrSyncInProgress
	}
	if q.deliverer == nil {
		// no upstream wired: items stay queued, no attempt is counted
		rep := Report{Remaining: q.lenLocked(ctx, kv.KeySyncQueue)}
		q.mu.Unlock()
		return rep, nil
	}
	q.syncing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.syncing = false
		q.mu.Unlock()
	}()

	var rep Report
	for {
		q.mu.Lock()
		if q.closed {
			// disposal: finish nothing further
			rep.Remaining = q.lenLocked(ctx, kv.KeySyncQueue)
			q.mu.Unlock()
			return rep, nil
		}
		pending, err := q.loadList(ctx, kv.KeySyncQueue)
		if err != nil {
			q.mu.Unlock()
			return rep, err
		}
		if len(pending) == 0 {
			metrics.QueueLength.Set(0)
			q.mu.Unlock()
			return rep, nil
		}
		head := pending[0]
		q.mu.Unlock()

		err = q.deliverer.Deliver(ctx, head.Payload)

		q.mu.Lock()
		if err == nil {
			if e := q.removeLocked(ctx, head.SequenceNumber); e != nil {
				q.mu.Unlock()
				return rep, e
			}
			rep.Delivered++
			metrics.InteractionsDeliveredTotal.Inc()
			q.mu.Unlock()
			continue
		}

		// delivery failed: record the attempt, maybe dead-letter, stop the pass
		rep.Failed++
		metrics.DeliveryFailuresTotal.Inc()
		poisoned, e := q.markFailedLocked(ctx, head.SequenceNumber, err)
		if e != nil {
			q.mu.Unlock()
			return rep, e
		}
		if poisoned {
			rep.DeadLettered++
			metrics.DeadLetteredTotal.Inc()
		}
		rep.Remaining = q.lenLocked(ctx, kv.KeySyncQueue)
		q.mu.Unlock()
		q.log.Warn().Int64("seq", head.SequenceNumber).Err(err).Bool("deadLettered", poisoned).Msg("replay stopped at failed item")
		return rep, nil
	}
}

// Pending returns the queued interactions in sequence order.
func (q *Queue) Pending(ctx context.Context) ([]model.QueuedInteraction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadList(ctx, kv.KeySyncQueue)
}

// DeadLetter returns the poisoned interactions.
func (q *Queue) DeadLetter(ctx context.Context) ([]model.QueuedInteraction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadList(ctx, kv.KeySyncDeadLetter)
}

// Close marks the queue disposed. An in-flight pass finishes its current item
// and then stops; later calls fail with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// removeLocked deletes the entry with the given sequence number. Removal by
// sequence is safe against concurrent enqueues, which only append.
func (q *Queue) removeLocked(ctx context.Context, seq int64) error {
	pending, err := q.loadList(ctx, kv.KeySyncQueue)
	if err != nil {
		return err
	}
	out := pending[:0]
	for _, it := range pending {
		if it.SequenceNumber != seq {
			out = append(out, it)
		}
	}
	if err := q.saveList(ctx, kv.KeySyncQueue, out); err != nil {
		return err
	}
	metrics.QueueLength.Set(float64(len(out)))
	return nil
}

func (q *Queue) markFailedLocked(ctx context.Context, seq int64, cause error) (poisoned bool, err error) {
	pending, err := q.loadList(ctx, kv.KeySyncQueue)
	if err != nil {
		return false, err
	}
	msg := cause.Error()
	for i := range pending {
		if pending[i].SequenceNumber != seq {
			continue
		}
		pending[i].AttemptCount++
		pending[i].LastError = &msg
		if pending[i].AttemptCount >= q.maxAttempts {
			if e := q.deadLetterLocked(ctx, pending[i]); e != nil {
				return false, e
			}
			pending = append(pending[:i], pending[i+1:]...)
			poisoned = true
		}
		break
	}
	if e := q.saveList(ctx, kv.KeySyncQueue, pending); e != nil {
		return poisoned, e
	}
	metrics.QueueLength.Set(float64(len(pending)))
	return poisoned, nil
}

func (q *Queue) deadLetterLocked(ctx context.Context, item model.QueuedInteraction) error {
	dead, err := q.loadList(ctx, kv.KeySyncDeadLetter)
	if err != nil {
		return err
	}
	dead = append(dead, item)
	return q.saveList(ctx, kv.KeySyncDeadLetter, dead)
}

func (q *Queue) lenLocked(ctx context.Context, key string) int {
	items, err := q.loadList(ctx, key)
	if err != nil {
		return 0
	}
	return len(items)
}

func (q *Queue) loadList(ctx context.Context, key string) ([]model.QueuedInteraction, error) {
	raw, err := q.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var items []model.QueuedInteraction
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return items, nil
}

func (q *Queue) saveList(ctx context.Context, key string, items []model.QueuedInteraction) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return q.kv.Set(ctx, key, raw)
}

// nextSequence is max(sequence)+1 over the live queue and the dead-letter
// list, so sequence numbers stay monotonic across poisonings.
func nextSequence(pending, dead []model.QueuedInteraction) int64 {
	var max int64
	for _, it := range pending {
		if it.SequenceNumber > max {
			max = it.SequenceNumber
		}
	}
	for _, it := range dead {
		if it.SequenceNumber > max {
			max = it.SequenceNumber
		}
	}
	return max + 1
}
