package aggregator

import (
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/civicledger/referendum-node/auditchain"
	"github.com/civicledger/referendum-node/db/metadb"
	"github.com/civicledger/referendum-node/storage"
	"github.com/civicledger/referendum-node/types"
)

func testSetup(t *testing.T, k int) (*Aggregator, *storage.Storage) {
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
			{ID: "no", Text: "No", Order: 1},
		},
		MinKAnonymity: k,
		CreatedAt:     time.Now().UTC(),
	}), qt.IsNil)
	agg, err := New(st)
	c.Assert(err, qt.IsNil)
	return agg, st
}

// castVotes inserts n votes with the given option and demographics picker.
func castVotes(t *testing.T, st *storage.Storage, n int, option func(i int) string, demo func(i int) types.Demographics) {
	t.Helper()
	c := qt.New(t)
	start := 0
	count, err := st.VoteCount("poll-1")
	c.Assert(err, qt.IsNil)
	start = int(count)
	for i := start; i < start+n; i++ {
		leaf := sha256.Sum256(fmt.Appendf(nil, "leaf-%d", i))
		vote := &types.Vote{
			VoteID:       fmt.Sprintf("vote-%d", i),
			PollID:       "poll-1",
			OptionID:     option(i - start),
			Demographics: demo(i - start),
			BucketTS:     time.Now().UTC().Truncate(time.Minute),
		}
		_, err := st.CastVote(vote, fmt.Appendf(nil, "nf-%d", i), leaf[:], "")
		c.Assert(err, qt.IsNil)
	}
}

func defaultDemo(i int) types.Demographics {
	return types.Demographics{AgeBucket: "25-34", Gender: types.GenderFemale, Region: "NO-03"}
}

func TestTotalSuppressionFloor(t *testing.T) {
	c := qt.New(t)
	agg, st := testSetup(t, 5)
	castVotes(t, st, 4, func(int) string { return "yes" }, defaultDemo)

	res, err := agg.GetResults("poll-1", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(res.TotalVotes, qt.Equals, uint64(0))
	c.Assert(res.Options["yes"], qt.Equals, uint64(0))
	c.Assert(res.Meta.KThreshold, qt.Equals, 5)
	c.Assert(res.Meta.SuppressedCells > 0, qt.IsTrue)
}

func TestResultsAtThreshold(t *testing.T) {
	c := qt.New(t)
	agg, st := testSetup(t, 5)
	castVotes(t, st, 10, func(int) string { return "yes" }, defaultDemo)
	castVotes(t, st, 7, func(int) string { return "no" }, defaultDemo)

	res, err := agg.GetResults("poll-1", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(res.TotalVotes, qt.Equals, uint64(17))
	c.Assert(res.Options["yes"], qt.Equals, uint64(10))
	c.Assert(res.Options["no"], qt.Equals, uint64(7))
	c.Assert(res.Meta.SuppressedCells, qt.Equals, 0)
}

func TestPerOptionSuppression(t *testing.T) {
	c := qt.New(t)
	agg, st := testSetup(t, 5)
	castVotes(t, st, 10, func(int) string { return "yes" }, defaultDemo)
	castVotes(t, st, 3, func(int) string { return "no" }, defaultDemo)

	res, err := agg.GetResults("poll-1", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Options["yes"], qt.Equals, uint64(10))
	c.Assert(res.Options["no"], qt.Equals, uint64(0))
	c.Assert(res.Meta.SuppressedCells, qt.Equals, 1)
}

func TestBreakdownSuppression(t *testing.T) {
	c := qt.New(t)
	agg, st := testSetup(t, 5)
	// 10+8+6 visible regions plus one 2-vote region to suppress.
	spread := append(append(append(
		repeat("NO-03", 10), repeat("NO-18", 8)...),
		repeat("NO-50", 6)...),
		repeat("NO-99", 2)...)
	castVotes(t, st, len(spread), func(int) string { return "yes" }, func(i int) types.Demographics {
		return types.Demographics{AgeBucket: "25-34", Gender: types.GenderFemale, Region: spread[i]}
	})

	res, err := agg.GetResults("poll-1", []string{DimRegion})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Breakdowns, qt.HasLen, 1)
	bd := res.Breakdowns[0]
	c.Assert(bd.Dimension, qt.Equals, DimRegion)
	c.Assert(bd.Cells, qt.HasLen, 4)

	var sentinels int
	counts := map[string]uint64{}
	for _, cell := range bd.Cells {
		if cell.Bucket == SuppressedSentinel {
			sentinels++
			c.Assert(cell.Count, qt.Equals, uint64(0))
			continue
		}
		counts[cell.Bucket] = cell.Count
	}
	c.Assert(sentinels, qt.Equals, 1)
	c.Assert(counts["NO-03"], qt.Equals, uint64(10))
	c.Assert(counts["NO-18"], qt.Equals, uint64(8))
	c.Assert(counts["NO-50"], qt.Equals, uint64(6))
	c.Assert(res.Meta.SuppressedCells, qt.Equals, 1)
}

func TestComplementarySuppressionDropsDimension(t *testing.T) {
	c := qt.New(t)
	agg, st := testSetup(t, 5)
	// One big region and two sub-k ones: the lone visible cell would be
	// recoverable by subtraction, so the whole dimension must go.
	spread := append(append(repeat("NO-03", 10), repeat("NO-18", 2)...), repeat("NO-50", 2)...)
	castVotes(t, st, len(spread), func(int) string { return "yes" }, func(i int) types.Demographics {
		return types.Demographics{AgeBucket: "25-34", Gender: types.GenderFemale, Region: spread[i]}
	})

	res, err := agg.GetResults("poll-1", []string{DimRegion})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Breakdowns, qt.HasLen, 0)
	c.Assert(res.Meta.SuppressedCells, qt.Equals, 3)
}

func TestTwoBucketDimensionIsDropped(t *testing.T) {
	c := qt.New(t)
	agg, st := testSetup(t, 5)
	// Gender has only two buckets, which can never reach the three-visible-
	// cell floor.
	castVotes(t, st, 20, func(int) string { return "yes" }, func(i int) types.Demographics {
		gender := types.GenderFemale
		if i%2 == 0 {
			gender = types.GenderMale
		}
		return types.Demographics{AgeBucket: "25-34", Gender: gender, Region: "NO-03"}
	})

	res, err := agg.GetResults("poll-1", []string{DimGender})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Breakdowns, qt.HasLen, 0)
}

func TestDifferencingDefense(t *testing.T) {
	c := qt.New(t)
	agg, st := testSetup(t, 5)
	ages := []string{"18-24", "25-34", "35-44"}
	regions := []string{"NO-03", "NO-18", "NO-50"}
	castVotes(t, st, 30, func(int) string { return "yes" }, func(i int) types.Demographics {
		return types.Demographics{
			AgeBucket: ages[i%3],
			Gender:    types.GenderFemale,
			Region:    regions[(i/3)%3],
		}
	})

	// The wide query exposes six cells across two dimensions.
	wide, err := agg.GetResults("poll-1", []string{DimAgeBucket, DimRegion})
	c.Assert(err, qt.IsNil)
	c.Assert(wide.Breakdowns, qt.HasLen, 2)

	// The narrower subset query would allow differencing; it is refused.
	_, err = agg.GetResults("poll-1", []string{DimRegion})
	c.Assert(err, qt.ErrorIs, types.ErrInferenceAttackSuspect)

	// Repeating the identical wide query is fine (served from cache).
	again, err := agg.GetResults("poll-1", []string{DimAgeBucket, DimRegion})
	c.Assert(err, qt.IsNil)
	c.Assert(again.TotalVotes, qt.Equals, wide.TotalVotes)
}

func TestUnknownDimension(t *testing.T) {
	c := qt.New(t)
	agg, st := testSetup(t, 5)
	castVotes(t, st, 10, func(int) string { return "yes" }, defaultDemo)

	_, err := agg.GetResults("poll-1", []string{"citizenship"})
	c.Assert(err, qt.ErrorIs, ErrUnknownDimension)
}

func TestSuppressionAudited(t *testing.T) {
	c := qt.New(t)
	agg, st := testSetup(t, 5)
	castVotes(t, st, 10, func(int) string { return "yes" }, defaultDemo)
	castVotes(t, st, 2, func(int) string { return "no" }, defaultDemo)

	_, err := agg.GetResults("poll-1", nil)
	c.Assert(err, qt.IsNil)

	entries, err := st.AuditEntries()
	c.Assert(err, qt.IsNil)
	found := false
	for _, e := range entries {
		if e.Kind == auditchain.EventSuppressionTriggered {
			found = true
		}
	}
	c.Assert(found, qt.IsTrue)
}

func TestSecurityEventsSummary(t *testing.T) {
	c := qt.New(t)
	agg, st := testSetup(t, 5)
	for range 5 {
		_, err := st.AppendAudit(auditchain.EventNonceReplayAttempt, map[string]string{"pollId": "poll-1"})
		c.Assert(err, qt.IsNil)
	}
	_, err := st.AppendAudit(auditchain.EventAnchorFailed, map[string]string{"pollId": "poll-1"})
	c.Assert(err, qt.IsNil)

	counts, suppressed, err := agg.SecurityEventsSummary(3)
	c.Assert(err, qt.IsNil)
	c.Assert(counts[auditchain.EventNonceReplayAttempt], qt.Equals, uint64(5))
	c.Assert(counts[auditchain.EventAnchorFailed], qt.Equals, uint64(0))
	// poll-published from setup counts as its own suppressed kind too.
	c.Assert(suppressed >= 1, qt.IsTrue)
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}
