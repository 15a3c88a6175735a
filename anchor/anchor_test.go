package anchor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/civicledger/referendum-node/auditchain"
	"github.com/civicledger/referendum-node/db/metadb"
	"github.com/civicledger/referendum-node/storage"
	"github.com/civicledger/referendum-node/types"
)

type fakeLedger struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeLedger) SubmitRoot(_ context.Context, pollID, rootHex string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("tx-%s-%d", pollID, f.calls), nil
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testStore(t *testing.T) *storage.Storage {
	t.Helper()
	c := qt.New(t)
	st := storage.New(metadb.NewTest(t), "hmac")
	c.Assert(st.SetPoll(&types.Poll{
		ID:     "poll-1",
		Title:  "Test referendum",
		Kind:   types.PollKindReferendum,
		Status: types.PollStatusActive,
		Options: []types.PollOption{
			{ID: "yes", Text: "Yes", Order: 0},
		},
		CreatedAt: time.Now().UTC(),
	}), qt.IsNil)
	return st
}

func castVote(t *testing.T, st *storage.Storage, i int) {
	t.Helper()
	leaf := sha256.Sum256(fmt.Appendf(nil, "leaf-%d", i))
	_, err := st.CastVote(&types.Vote{
		VoteID:   fmt.Sprintf("vote-%d", i),
		PollID:   "poll-1",
		OptionID: "yes",
		BucketTS: time.Now().UTC().Truncate(time.Minute),
	}, fmt.Appendf(nil, "nf-%d", i), leaf[:], "")
	qt.Assert(t, err, qt.IsNil)
}

func startWorker(t *testing.T, st *storage.Storage, ledger Ledger) *Worker {
	t.Helper()
	w := New(st, ledger)
	// Long interval: the tests drive ticks by hand.
	w.Start(context.Background(), time.Hour)
	t.Cleanup(w.Close)
	return w
}

func hasAuditKind(t *testing.T, st *storage.Storage, kind string) bool {
	t.Helper()
	entries, err := st.AuditEntries()
	qt.Assert(t, err, qt.IsNil)
	for _, e := range entries {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func TestAnchorSuccess(t *testing.T) {
	c := qt.New(t)
	st := testStore(t)
	castVote(t, st, 0)
	ledger := &fakeLedger{}
	w := startWorker(t, st, ledger)

	w.anchorAll(time.Now())
	c.Assert(ledger.callCount(), qt.Equals, 1)

	anchor, err := st.LastAnchor("poll-1")
	c.Assert(err, qt.IsNil)
	root, err := st.PollRoot("poll-1")
	c.Assert(err, qt.IsNil)
	c.Assert(anchor.Root.Equal(root.Root), qt.IsTrue)
	c.Assert(anchor.TxID, qt.Not(qt.Equals), "")
	c.Assert(hasAuditKind(t, st, auditchain.EventAnchorCommitted), qt.IsTrue)
}

func TestAnchorSkipsUnchangedRoot(t *testing.T) {
	c := qt.New(t)
	st := testStore(t)
	castVote(t, st, 0)
	ledger := &fakeLedger{}
	w := startWorker(t, st, ledger)

	w.anchorAll(time.Now())
	w.anchorAll(time.Now())
	c.Assert(ledger.callCount(), qt.Equals, 1)

	// A new vote advances the root, so the next tick anchors again.
	castVote(t, st, 1)
	w.anchorAll(time.Now())
	c.Assert(ledger.callCount(), qt.Equals, 2)

	anchors, err := st.Anchors("poll-1")
	c.Assert(err, qt.IsNil)
	c.Assert(anchors, qt.HasLen, 2)
}

func TestAnchorSkipsPollsWithoutVotes(t *testing.T) {
	c := qt.New(t)
	st := testStore(t)
	ledger := &fakeLedger{}
	w := startWorker(t, st, ledger)

	w.anchorAll(time.Now())
	c.Assert(ledger.callCount(), qt.Equals, 0)
}

func TestAnchorSkipsInactivePolls(t *testing.T) {
	c := qt.New(t)
	st := testStore(t)
	castVote(t, st, 0)
	poll, err := st.Poll("poll-1")
	c.Assert(err, qt.IsNil)
	poll.Status = types.PollStatusEnded
	c.Assert(st.SetPoll(poll), qt.IsNil)

	ledger := &fakeLedger{}
	w := startWorker(t, st, ledger)
	w.anchorAll(time.Now())
	c.Assert(ledger.callCount(), qt.Equals, 0)
}

func TestAnchorBackoff(t *testing.T) {
	c := qt.New(t)
	st := testStore(t)
	castVote(t, st, 0)
	ledger := &fakeLedger{err: fmt.Errorf("rpc unreachable")}
	w := startWorker(t, st, ledger)

	now := time.Now()
	w.anchorAll(now)
	c.Assert(ledger.callCount(), qt.Equals, 1)

	// Inside the backoff window the poll is not retried.
	w.anchorAll(now.Add(time.Second))
	c.Assert(ledger.callCount(), qt.Equals, 1)

	// After the first 30s delay it is.
	w.anchorAll(now.Add(31 * time.Second))
	c.Assert(ledger.callCount(), qt.Equals, 2)

	// Recovery resets the backoff and anchors immediately on the next tick.
	ledger.mu.Lock()
	ledger.err = nil
	ledger.mu.Unlock()
	w.anchorAll(now.Add(2 * time.Minute))
	c.Assert(ledger.callCount(), qt.Equals, 3)
	_, err := st.LastAnchor("poll-1")
	c.Assert(err, qt.IsNil)
}

func TestAnchorTerminalFailureAudited(t *testing.T) {
	c := qt.New(t)
	st := testStore(t)
	castVote(t, st, 0)
	ledger := &fakeLedger{err: fmt.Errorf("rpc unreachable")}
	w := startWorker(t, st, ledger)

	now := time.Now()
	for range maxAttempts {
		w.anchorAll(now)
		now = now.Add(backoffCap + time.Minute)
	}
	c.Assert(ledger.callCount(), qt.Equals, maxAttempts)
	c.Assert(hasAuditKind(t, st, auditchain.EventAnchorFailed), qt.IsTrue)

	// The terminal failure resets the schedule: the next tick tries again.
	w.anchorAll(now)
	c.Assert(ledger.callCount(), qt.Equals, maxAttempts+1)
}
