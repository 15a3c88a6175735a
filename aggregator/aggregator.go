// Package aggregator serves poll results and demographic breakdowns under
// the poll's k-anonymity floor. Every returned cell represents at least k
// ballots; everything smaller is suppressed, and the suppression itself is
// shaped so it cannot be undone by subtraction or by differencing two
// queries.
package aggregator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/civicledger/referendum-node/auditchain"
	"github.com/civicledger/referendum-node/log"
	"github.com/civicledger/referendum-node/storage"
	"github.com/civicledger/referendum-node/types"
)

// SuppressedSentinel replaces the bucket label of any suppressed cell; its
// count is always reported as zero.
const SuppressedSentinel = "<suppressed>"

// Recognized breakdown dimensions. A cross of dimensions is written with
// '+', e.g. "gender+region".
const (
	DimGender    = "gender"
	DimAgeBucket = "age_bucket"
	DimRegion    = "region"
)

// CrossSep joins dimension names in a cross and bucket values in a cross
// cell key.
const CrossSep = "+"

const cacheSize = 512

// ErrUnknownDimension rejects a breakdown request outside the recognized
// set.
var ErrUnknownDimension = errors.New("unknown breakdown dimension")

// Cell is one bucket of a breakdown. Suppressed cells carry the sentinel
// label and a zero count.
type Cell struct {
	Bucket string `json:"bucket"`
	Count  uint64 `json:"count"`
}

// Breakdown is the shaped result of one requested dimension (or cross).
type Breakdown struct {
	Dimension string `json:"dimension"`
	Cells     []Cell `json:"cells"`
}

// Meta reports the suppression applied to a result.
type Meta struct {
	KThreshold      int       `json:"kThreshold"`
	SuppressedCells int       `json:"suppressedCells"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// Results is a shaped, k-anonymous poll result.
type Results struct {
	PollID     string            `json:"pollId"`
	TotalVotes uint64            `json:"totalVotes"`
	Options    map[string]uint64 `json:"options"`
	Breakdowns []Breakdown       `json:"breakdowns,omitempty"`
	Meta       Meta              `json:"meta"`
}

// Aggregator computes k-anonymous results over the vote log. Shaped results
// are cached keyed by (pollId, leafCount, dims), so any new vote naturally
// invalidates the poll's cached entries.
type Aggregator struct {
	store *storage.Storage
	cache *lru.Cache[string, *Results]
}

// New creates an aggregator.
func New(store *storage.Storage) (*Aggregator, error) {
	cache, err := lru.New[string, *Results](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Aggregator{store: store, cache: cache}, nil
}

// GetResults returns the poll's results, optionally broken down by the
// requested dimensions. Suppression rules are applied in a fixed order:
// total floor, per-option, per-bucket, complementary, minimum visible
// cells, then the differencing defense against prior queries.
func (a *Aggregator) GetResults(pollID string, breakdownBy []string) (*Results, error) {
	poll, err := a.store.Poll(pollID)
	if err != nil {
		return nil, err
	}
	dims, err := canonicalDims(breakdownBy)
	if err != nil {
		return nil, err
	}
	total, err := a.store.VoteCount(pollID)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("%s|%d|%s", pollID, total, strings.Join(dims, ","))
	if cached, ok := a.cache.Get(cacheKey); ok {
		// Identical repeated queries are allowed; no new log entry.
		return cached, nil
	}

	k := poll.K()
	res := &Results{
		PollID:  pollID,
		Options: map[string]uint64{},
		Meta:    Meta{KThreshold: k, LastUpdated: time.Now().UTC()},
	}

	// Total-suppression floor: below k nothing is released at all.
	if total < uint64(k) {
		res.Meta.SuppressedCells = len(poll.Options)
		if total > 0 {
			a.auditSuppression(pollID, res.Meta.SuppressedCells)
		}
		a.cache.Add(cacheKey, res)
		return res, nil
	}
	res.TotalVotes = total

	optionCounts := map[string]uint64{}
	dimCounts := make([]map[string]uint64, len(dims))
	for i := range dims {
		dimCounts[i] = map[string]uint64{}
	}
	if err := a.store.IterateVotes(pollID, func(v *types.Vote) bool {
		optionCounts[v.OptionID]++
		for i, dim := range dims {
			dimCounts[i][bucketKey(dim, v.Demographics)]++
		}
		return true
	}); err != nil {
		return nil, err
	}

	// Per-option suppression: a sub-k option count is zeroed.
	for _, opt := range poll.Options {
		count := optionCounts[opt.ID]
		if count > 0 && count < uint64(k) {
			count = 0
			res.Meta.SuppressedCells++
		}
		res.Options[opt.ID] = count
	}

	for i, dim := range dims {
		bd, suppressed := shapeDimension(dim, dimCounts[i], k)
		res.Meta.SuppressedCells += suppressed
		if bd != nil {
			res.Breakdowns = append(res.Breakdowns, *bd)
		}
	}

	if err := a.differencingDefense(pollID, dims, res); err != nil {
		return nil, err
	}

	if res.Meta.SuppressedCells > 0 {
		a.auditSuppression(pollID, res.Meta.SuppressedCells)
	}
	if err := a.store.LogQuery(&storage.QueryRecord{
		PollID:       pollID,
		Dims:         dims,
		VisibleCells: visibleCells(res),
		LeafCount:    total,
		ServedAt:     time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	a.cache.Add(cacheKey, res)
	return res, nil
}

// Invalidate drops a poll's cached results (admin-triggered).
func (a *Aggregator) Invalidate(pollID string) {
	for _, key := range a.cache.Keys() {
		if strings.HasPrefix(key, pollID+"|") {
			a.cache.Remove(key)
		}
	}
}

// SecurityEventsSummary returns audit event counts by kind under the same
// k-anonymity rules: any kind with fewer than k occurrences reports zero.
func (a *Aggregator) SecurityEventsSummary(k int) (map[string]uint64, int, error) {
	if k <= 0 {
		k = types.DefaultKAnonymity
	}
	entries, err := a.store.AuditEntries()
	if err != nil {
		return nil, 0, err
	}
	counts := map[string]uint64{}
	for _, e := range entries {
		counts[e.Kind]++
	}
	suppressed := 0
	for kind, count := range counts {
		if count < uint64(k) {
			counts[kind] = 0
			suppressed++
		}
	}
	return counts, suppressed, nil
}

// shapeDimension applies per-bucket, complementary and minimum-visible-cell
// suppression to one dimension. Returns nil when the dimension is dropped
// entirely, plus the number of suppressed cells.
func shapeDimension(dim string, counts map[string]uint64, k int) (*Breakdown, int) {
	type bucket struct {
		key   string
		count uint64
	}
	buckets := make([]bucket, 0, len(counts))
	for key, count := range counts {
		buckets = append(buckets, bucket{key, count})
	}
	// Deterministic order: descending count, then key.
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].count != buckets[j].count {
			return buckets[i].count > buckets[j].count
		}
		return buckets[i].key < buckets[j].key
	})

	suppressed := 0
	visible := 0
	hidden := make([]bool, len(buckets))
	for i, b := range buckets {
		if b.count < uint64(k) {
			hidden[i] = true
			suppressed++
		} else {
			visible++
		}
	}

	// Complementary suppression: a single surviving cell is trivially
	// recoverable by subtraction from the total, so the lowest visible
	// cell goes too.
	if suppressed > 0 && visible == 1 {
		for i := len(buckets) - 1; i >= 0; i-- {
			if !hidden[i] {
				hidden[i] = true
				suppressed++
				visible--
				break
			}
		}
	}

	// A dimension with fewer than three visible cells is dropped.
	if visible < 3 {
		return nil, suppressed
	}

	bd := &Breakdown{Dimension: dim}
	for i, b := range buckets {
		if hidden[i] {
			bd.Cells = append(bd.Cells, Cell{Bucket: SuppressedSentinel, Count: 0})
		} else {
			bd.Cells = append(bd.Cells, Cell{Bucket: b.key, Count: b.count})
		}
	}
	return bd, suppressed
}

// differencingDefense rejects a query whose dimension set is a strict
// subset of a previously served query that exposed more cells: subtracting
// the two result sets would reveal suppressed cohorts.
func (a *Aggregator) differencingDefense(pollID string, dims []string, res *Results) error {
	prior, err := a.store.QueryLog(pollID)
	if err != nil {
		return err
	}
	newVisible := visibleCells(res)
	for _, rec := range prior {
		if strictSubset(dims, rec.Dims) && rec.VisibleCells > newVisible {
			return fmt.Errorf("%w: dimension set %v differs from a prior query by suppressed cells",
				types.ErrInferenceAttackSuspect, dims)
		}
	}
	return nil
}

func (a *Aggregator) auditSuppression(pollID string, cells int) {
	if _, err := a.store.AppendAudit(auditchain.EventSuppressionTriggered, map[string]any{
		"pollId":          pollID,
		"suppressedCells": cells,
	}); err != nil {
		log.Errorw(err, "failed to chain suppression-triggered entry")
	}
}

// canonicalDims validates and sorts the requested dimensions; each entry is
// a dimension name or a '+'-joined cross of them.
func canonicalDims(breakdownBy []string) ([]string, error) {
	dims := make([]string, 0, len(breakdownBy))
	seen := map[string]bool{}
	for _, dim := range breakdownBy {
		for _, part := range strings.Split(dim, CrossSep) {
			switch part {
			case DimGender, DimAgeBucket, DimRegion:
			default:
				return nil, fmt.Errorf("%w: %q", ErrUnknownDimension, part)
			}
		}
		if !seen[dim] {
			seen[dim] = true
			dims = append(dims, dim)
		}
	}
	sort.Strings(dims)
	return dims, nil
}

// bucketKey extracts a vote's bucket value for a dimension or cross.
func bucketKey(dim string, demo types.Demographics) string {
	parts := strings.Split(dim, CrossSep)
	values := make([]string, len(parts))
	for i, part := range parts {
		switch part {
		case DimGender:
			values[i] = demo.Gender
		case DimAgeBucket:
			values[i] = demo.AgeBucket
		case DimRegion:
			values[i] = demo.Region
		}
	}
	return strings.Join(values, CrossSep)
}

func visibleCells(res *Results) int {
	visible := 0
	for _, bd := range res.Breakdowns {
		for _, cell := range bd.Cells {
			if cell.Bucket != SuppressedSentinel {
				visible++
			}
		}
	}
	return visible
}

// strictSubset reports whether a is a strict subset of b. Both inputs are
// canonically sorted dimension sets.
func strictSubset(a, b []string) bool {
	if len(a) >= len(b) {
		return false
	}
	set := map[string]bool{}
	for _, dim := range b {
		set[dim] = true
	}
	for _, dim := range a {
		if !set[dim] {
			return false
		}
	}
	return true
}
