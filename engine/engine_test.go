package engine

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/civicledger/referendum-node/auditchain"
	"github.com/civicledger/referendum-node/credentials"
	"github.com/civicledger/referendum-node/crypto/hashers"
	"github.com/civicledger/referendum-node/crypto/nullifier"
	"github.com/civicledger/referendum-node/crypto/receipts"
	"github.com/civicledger/referendum-node/db/metadb"
	"github.com/civicledger/referendum-node/noncestore"
	"github.com/civicledger/referendum-node/storage"
	"github.com/civicledger/referendum-node/types"
)

const testIssuer = "enrollment.example.org"

type testRig struct {
	engine  *Engine
	store   *storage.Storage
	nonces  *noncestore.Store
	hasher  hashers.Hasher
	signer  *receipts.Signer
	privKey ed25519.PrivateKey
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	c := qt.New(t)

	database := metadb.NewTest(t)
	hasher, err := hashers.New(hashers.VariantHMAC, []byte("engine-test-secret"))
	c.Assert(err, qt.IsNil)
	signer, err := receipts.GenerateSigner()
	c.Assert(err, qt.IsNil)
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	c.Assert(err, qt.IsNil)
	verifier, err := credentials.NewVerifier(pub, []string{testIssuer})
	c.Assert(err, qt.IsNil)

	store := storage.New(database, hasher.Name())
	nonces := noncestore.New(database, time.Minute)
	eng, err := New(Config{
		Storage:      store,
		Nonces:       nonces,
		Hasher:       hasher,
		Signer:       signer,
		Credentials:  verifier,
		BucketWindow: time.Minute,
	})
	c.Assert(err, qt.IsNil)
	return &testRig{engine: eng, store: store, nonces: nonces, hasher: hasher, signer: signer, privKey: priv}
}

func (r *testRig) activePoll(t *testing.T, id string) *types.Poll {
	t.Helper()
	poll := &types.Poll{
		ID:     id,
		Title:  "Test referendum",
		Kind:   types.PollKindReferendum,
		Status: types.PollStatusActive,
		Options: []types.PollOption{
			{ID: "yes", Text: "Yes", Order: 0},
			{ID: "no", Text: "No", Order: 1},
		},
		CreatedAt: time.Now().UTC(),
	}
	qt.Assert(t, r.store.SetPoll(poll), qt.IsNil)
	return poll
}

func (r *testRig) credential(t *testing.T, subject string) string {
	t.Helper()
	token, err := credentials.Issue(r.privKey, testIssuer, subject, types.Demographics{
		AgeBucket: "25-34",
		Gender:    types.GenderFemale,
		Region:    "NO-03",
	}, time.Minute)
	qt.Assert(t, err, qt.IsNil)
	return token
}

func (r *testRig) voteNonce(t *testing.T) string {
	t.Helper()
	value, err := r.nonces.Generate(noncestore.PurposeVote)
	qt.Assert(t, err, qt.IsNil)
	return value
}

func (r *testRig) hasAuditKind(t *testing.T, kind string) bool {
	t.Helper()
	entries, err := r.store.AuditEntries()
	qt.Assert(t, err, qt.IsNil)
	for _, e := range entries {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func TestSubmitVoteHappyPath(t *testing.T) {
	c := qt.New(t)
	r := newTestRig(t)
	r.activePoll(t, "poll-1")

	res, err := r.engine.SubmitVote(context.Background(), &Request{
		PollID:     "poll-1",
		OptionID:   "yes",
		Nonce:      r.voteNonce(t),
		Credential: r.credential(t, "subject-1"),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(res.VoteID, qt.Not(qt.Equals), "")
	c.Assert(res.TxRef, qt.Not(qt.Equals), "")
	c.Assert(r.signer.Verify(res.Receipt), qt.IsTrue)
	c.Assert(res.Receipt.Payload.MerkleRoot, qt.Equals, res.Root.Hex())

	vote, err := r.store.Vote("poll-1", res.VoteID)
	c.Assert(err, qt.IsNil)
	c.Assert(vote.OptionID, qt.Equals, "yes")
	c.Assert(vote.Demographics.Region, qt.Equals, "NO-03")
	c.Assert(r.hasAuditKind(t, auditchain.EventVoteAccepted), qt.IsTrue)
}

func TestSubmitVoteDoubleVote(t *testing.T) {
	c := qt.New(t)
	r := newTestRig(t)
	r.activePoll(t, "poll-1")

	_, err := r.engine.SubmitVote(context.Background(), &Request{
		PollID: "poll-1", OptionID: "yes",
		Nonce: r.voteNonce(t), Credential: r.credential(t, "subject-1"),
	})
	c.Assert(err, qt.IsNil)

	// A fresh nonce does not help: the nullifier is already present.
	_, err = r.engine.SubmitVote(context.Background(), &Request{
		PollID: "poll-1", OptionID: "no",
		Nonce: r.voteNonce(t), Credential: r.credential(t, "subject-1"),
	})
	c.Assert(err, qt.ErrorIs, types.ErrAlreadyVoted)
	c.Assert(r.hasAuditKind(t, auditchain.EventVoteRejectedDup), qt.IsTrue)

	count, err := r.store.VoteCount("poll-1")
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(1))
}

func TestSubmitVoteSameVoterDifferentPolls(t *testing.T) {
	c := qt.New(t)
	r := newTestRig(t)
	r.activePoll(t, "poll-1")
	r.activePoll(t, "poll-2")

	for _, pollID := range []string{"poll-1", "poll-2"} {
		_, err := r.engine.SubmitVote(context.Background(), &Request{
			PollID: pollID, OptionID: "yes",
			Nonce: r.voteNonce(t), Credential: r.credential(t, "subject-1"),
		})
		c.Assert(err, qt.IsNil, qt.Commentf("poll %s", pollID))
	}
}

func TestSubmitVoteNonceReplay(t *testing.T) {
	c := qt.New(t)
	r := newTestRig(t)
	r.activePoll(t, "poll-1")

	nonce := r.voteNonce(t)
	_, err := r.engine.SubmitVote(context.Background(), &Request{
		PollID: "poll-1", OptionID: "yes",
		Nonce: nonce, Credential: r.credential(t, "subject-1"),
	})
	c.Assert(err, qt.IsNil)

	_, err = r.engine.SubmitVote(context.Background(), &Request{
		PollID: "poll-1", OptionID: "yes",
		Nonce: nonce, Credential: r.credential(t, "subject-2"),
	})
	c.Assert(err, qt.ErrorIs, types.ErrNonceInvalid)
	c.Assert(r.hasAuditKind(t, auditchain.EventNonceReplayAttempt), qt.IsTrue)
}

func TestSubmitVotePollChecks(t *testing.T) {
	c := qt.New(t)
	r := newTestRig(t)

	// Unknown poll.
	_, err := r.engine.SubmitVote(context.Background(), &Request{
		PollID: "missing", OptionID: "yes",
		Nonce: r.voteNonce(t), Credential: r.credential(t, "subject-1"),
	})
	c.Assert(err, qt.ErrorIs, types.ErrNotFound)

	// Ended poll.
	poll := r.activePoll(t, "poll-ended")
	poll.Status = types.PollStatusEnded
	c.Assert(r.store.SetPoll(poll), qt.IsNil)
	_, err = r.engine.SubmitVote(context.Background(), &Request{
		PollID: "poll-ended", OptionID: "yes",
		Nonce: r.voteNonce(t), Credential: r.credential(t, "subject-1"),
	})
	c.Assert(err, qt.ErrorIs, types.ErrPollInactive)

	// Foreign option.
	r.activePoll(t, "poll-1")
	_, err = r.engine.SubmitVote(context.Background(), &Request{
		PollID: "poll-1", OptionID: "maybe",
		Nonce: r.voteNonce(t), Credential: r.credential(t, "subject-1"),
	})
	c.Assert(err, qt.ErrorIs, types.ErrOptionInvalid)
}

func TestSubmitVoteIneligible(t *testing.T) {
	c := qt.New(t)
	r := newTestRig(t)
	poll := r.activePoll(t, "poll-1")
	poll.Audience = types.AudienceRules{Regions: []string{"NO-18"}}
	c.Assert(r.store.SetPoll(poll), qt.IsNil)

	_, err := r.engine.SubmitVote(context.Background(), &Request{
		PollID: "poll-1", OptionID: "yes",
		Nonce: r.voteNonce(t), Credential: r.credential(t, "subject-1"),
	})
	c.Assert(err, qt.ErrorIs, types.ErrIneligible)
	c.Assert(r.hasAuditKind(t, auditchain.EventVoteRejectedInelig), qt.IsTrue)
}

func TestSubmitVoteNullifierMismatch(t *testing.T) {
	c := qt.New(t)
	r := newTestRig(t)
	r.activePoll(t, "poll-1")

	_, err := r.engine.SubmitVote(context.Background(), &Request{
		PollID: "poll-1", OptionID: "yes",
		Nonce: r.voteNonce(t), Credential: r.credential(t, "subject-1"),
		Nullifier: "0000000000000000000000000000000000000000000000000000000000000000",
	})
	c.Assert(err, qt.ErrorIs, types.ErrNullifierMismatch)
	c.Assert(r.hasAuditKind(t, auditchain.EventNullifierMismatch), qt.IsTrue)
}

func TestSubmitVoteClientNullifierMatch(t *testing.T) {
	c := qt.New(t)
	r := newTestRig(t)
	r.activePoll(t, "poll-1")

	claimed, err := nullifier.Compute(r.hasher, "subject-1", "poll-1")
	c.Assert(err, qt.IsNil)

	_, err = r.engine.SubmitVote(context.Background(), &Request{
		PollID: "poll-1", OptionID: "yes",
		Nonce: r.voteNonce(t), Credential: r.credential(t, "subject-1"),
		Nullifier: claimed,
	})
	c.Assert(err, qt.IsNil)
}

func TestEligibilityRules(t *testing.T) {
	c := qt.New(t)
	demo := types.Demographics{AgeBucket: "25-34", Gender: types.GenderFemale, Region: "NO-03"}
	poll := &types.Poll{}

	poll.Audience = types.AudienceRules{MinAge: 25}
	c.Assert(checkEligibility(poll, demo), qt.IsNil)
	poll.Audience = types.AudienceRules{MinAge: 26}
	c.Assert(checkEligibility(poll, demo), qt.ErrorIs, types.ErrIneligible)
	poll.Audience = types.AudienceRules{MaxAge: 24}
	c.Assert(checkEligibility(poll, demo), qt.ErrorIs, types.ErrIneligible)

	poll.Audience = types.AudienceRules{Gender: types.GenderAll}
	c.Assert(checkEligibility(poll, demo), qt.IsNil)
	poll.Audience = types.AudienceRules{Gender: types.GenderFemale}
	c.Assert(checkEligibility(poll, demo), qt.IsNil)
	poll.Audience = types.AudienceRules{Gender: types.GenderMale}
	c.Assert(checkEligibility(poll, demo), qt.ErrorIs, types.ErrIneligible)

	poll.Audience = types.AudienceRules{Regions: []string{"NO-03", "NO-18"}}
	c.Assert(checkEligibility(poll, demo), qt.IsNil)
	poll.Audience = types.AudienceRules{Regions: []string{"NO-18"}}
	c.Assert(checkEligibility(poll, demo), qt.ErrorIs, types.ErrIneligible)
}
