// Package anchor runs the background worker that periodically commits each
// active poll's current Merkle root to an external ledger, giving voters a
// timestamped witness of tamper-evidence that the node cannot rewrite.
package anchor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/civicledger/referendum-node/auditchain"
	"github.com/civicledger/referendum-node/log"
	"github.com/civicledger/referendum-node/storage"
	"github.com/civicledger/referendum-node/types"
)

// Default cadence and retry schedule.
const (
	DefaultInterval = 10 * time.Minute
	backoffBase     = 30 * time.Second
	backoffCap      = 30 * time.Minute
	maxAttempts     = 8
)

// Ledger is the external anchoring target.
type Ledger interface {
	SubmitRoot(ctx context.Context, pollID, rootHex string) (txID string, err error)
}

// Worker anchors poll roots on a fixed cadence. A single worker runs per
// process; polls are independent, so one poll's ledger failure never blocks
// another's anchor or vote ingestion.
type Worker struct {
	store  *storage.Storage
	ledger Ledger
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// backoff state per poll, reset on success
	mu       sync.Mutex
	attempts map[string]int
	nextTry  map[string]time.Time
}

// New creates an anchor worker.
func New(store *storage.Storage, ledger Ledger) *Worker {
	return &Worker{
		store:    store,
		ledger:   ledger,
		attempts: make(map[string]int),
		nextTry:  make(map[string]time.Time),
	}
}

// Start launches the anchoring loop. interval <= 0 selects DefaultInterval.
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.anchorAll(time.Now())
			case <-w.ctx.Done():
				return
			}
		}
	}()
}

// Close stops the worker and waits for the loop to drain.
func (w *Worker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// anchorAll walks active polls and anchors every root that advanced since
// the last anchor. Re-submitting an unchanged (pollId, root) pair is skipped,
// so anchoring is idempotent across ticks.
func (w *Worker) anchorAll(now time.Time) {
	polls, err := w.store.ListPolls()
	if err != nil {
		log.Errorw(err, "anchor worker could not list polls")
		return
	}
	for _, poll := range polls {
		if poll.Status != types.PollStatusActive {
			continue
		}
		if err := w.anchorPoll(poll.ID, now); err != nil {
			log.Errorw(err, "anchor failed for poll "+poll.ID)
		}
	}
}

func (w *Worker) anchorPoll(pollID string, now time.Time) error {
	if !w.due(pollID, now) {
		return nil
	}
	root, err := w.store.PollRoot(pollID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil // no votes yet
		}
		return err
	}
	if last, err := w.store.LastAnchor(pollID); err == nil && last.Root.Equal(root.Root) {
		return nil
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	ctx, cancelFn := context.WithTimeout(w.ctx, time.Minute)
	defer cancelFn()
	txID, err := w.ledger.SubmitRoot(ctx, pollID, root.Root.String())
	if err != nil {
		w.recordFailure(pollID, now, err)
		return err
	}

	if err := w.store.SetAnchor(&types.Anchor{
		PollID:      pollID,
		Root:        root.Root,
		TxID:        txID,
		SubmittedAt: now.UTC(),
	}); err != nil {
		return err
	}
	w.resetBackoff(pollID)
	if _, err := w.store.AppendAudit(auditchain.EventAnchorCommitted, map[string]string{
		"pollId": pollID,
		"root":   root.Root.String(),
		"txId":   txID,
	}); err != nil {
		return err
	}
	log.Infow("anchored poll root", "pollId", pollID, "root", root.Root.String(), "txId", txID)
	return nil
}

// due applies the per-poll backoff window.
func (w *Worker) due(pollID string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, ok := w.nextTry[pollID]
	return !ok || !now.Before(next)
}

// recordFailure advances the exponential backoff (base 30 s, cap 30 min).
// After maxAttempts the failure is terminal: it is chained as anchor-failed
// and the backoff resets so the next root advance gets a fresh schedule.
func (w *Worker) recordFailure(pollID string, now time.Time, cause error) {
	w.mu.Lock()
	w.attempts[pollID]++
	attempt := w.attempts[pollID]
	w.mu.Unlock()

	if attempt >= maxAttempts {
		w.resetBackoff(pollID)
		if _, err := w.store.AppendAudit(auditchain.EventAnchorFailed, map[string]string{
			"pollId": pollID,
			"cause":  cause.Error(),
		}); err != nil {
			log.Errorw(err, "failed to chain anchor-failed entry")
		}
		return
	}
	delay := backoffBase << (attempt - 1)
	if delay > backoffCap {
		delay = backoffCap
	}
	w.mu.Lock()
	w.nextTry[pollID] = now.Add(delay)
	w.mu.Unlock()
}

func (w *Worker) resetBackoff(pollID string) {
	w.mu.Lock()
	delete(w.attempts, pollID)
	delete(w.nextTry, pollID)
	w.mu.Unlock()
}
