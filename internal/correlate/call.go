package correlate

import (
	"context"
	"fmt"
	"sort"

	"github.com/flowpbx/callsearch/internal/store"
)

// State is a CorrelatedCall's lifecycle stage.
type State int

const (
	StateEmpty State = iota
	StateBuilding
	StateFrozen
)

// Config holds the correlation engine's tunables. Field names map 1:1 to
// the configuration keys in internal/config.Config.
type Config struct {
	AggregationTimeoutMs  int64
	TerminationTimeoutMs  int64
	MaxLegs               int
	UseXCorrelationHeader bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		AggregationTimeoutMs:  60_000,
		TerminationTimeoutMs:  10_000,
		MaxLegs:               10,
		UseXCorrelationHeader: true,
	}
}

// fetcher issues the two bounded store queries correlate uses: identity
// lookup for pair discovery, and cross-call-id closure. Both return
// already-parsed Legs; malformed candidate documents are skipped by the
// fetcher, never surfaced here.
type fetcher interface {
	fetchByIdentity(ctx context.Context, caller, callee string, tr store.TimeRange) ([]Leg, error)
	fetchByCrossID(ctx context.Context, ids, xids []string, tr store.TimeRange) ([]Leg, error)
}

// CorrelatedCall is an ordered set of legs judged to belong to the same
// end-to-end session, plus the bookkeeping correlate/extend need: the
// pairs already looked up (to gate expensive lookups) and the set of
// call-ids/cross-ids currently in the leg set.
type CorrelatedCall struct {
	cfg   Config
	fetch fetcher

	state State
	legs  []Leg // kept sorted by legKey
	pairs map[[2]string]bool
}

func newCorrelatedCall(cfg Config, fetch fetcher) *CorrelatedCall {
	return &CorrelatedCall{
		cfg:   cfg,
		fetch: fetch,
		state: StateEmpty,
		pairs: make(map[[2]string]bool),
	}
}

// Legs returns the call's legs in order. The returned slice must not be
// mutated by the caller.
func (c *CorrelatedCall) Legs() []Leg { return c.legs }

// State reports the call's current lifecycle state.
func (c *CorrelatedCall) State() State { return c.state }

// First returns the representative leg (minimum under the leg order) and
// whether the call has any legs at all.
func (c *CorrelatedCall) First() (Leg, bool) {
	if len(c.legs) == 0 {
		return Leg{}, false
	}
	return c.legs[0], true
}

// freeze transitions building -> frozen. Called by the engine's outer
// loop when control returns to it.
func (c *CorrelatedCall) freeze() {
	c.state = StateFrozen
}

// has reports whether a leg with the given key is already in the set.
func (c *CorrelatedCall) has(k legKey) bool {
	for _, l := range c.legs {
		if l.key() == k {
			return true
		}
	}
	return false
}

// insert adds L to the ordered set if not already present and capacity
// allows, keeping legs sorted by legKey. Returns true if inserted.
func (c *CorrelatedCall) insert(l Leg) bool {
	k := l.key()
	if c.has(k) {
		return false
	}
	if len(c.legs) >= c.cfg.MaxLegs {
		return false
	}
	c.legs = append(c.legs, l)
	sort.Slice(c.legs, func(i, j int) bool {
		return c.legs[i].key().less(c.legs[j].key())
	})
	return true
}

// callIDs returns the distinct call-ids currently in the leg set.
func (c *CorrelatedCall) callIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, l := range c.legs {
		if !seen[l.CallID] {
			seen[l.CallID] = true
			ids = append(ids, l.CallID)
		}
	}
	return ids
}

// crossIDs returns the distinct non-empty x_call_ids currently in the leg set.
func (c *CorrelatedCall) crossIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, l := range c.legs {
		if l.HasXCallID && l.XCallID != "" && !seen[l.XCallID] {
			seen[l.XCallID] = true
			ids = append(ids, l.XCallID)
		}
	}
	return ids
}

// crossIDWindow computes rule 3's time window relative to the first leg.
// When the first leg's terminated_at is absent, the upper bound uses its
// created_at, never wall-clock "now".
func (c *CorrelatedCall) crossIDWindow() store.TimeRange {
	first, _ := c.First()
	upper := first.CreatedAt
	if first.HasTerminated {
		upper = first.TerminatedAt
	}
	return store.TimeRange{
		Start: first.CreatedAt - c.cfg.AggregationTimeoutMs,
		End:   upper + c.cfg.AggregationTimeoutMs,
	}
}

// correlate applies the three correlation rules, in order, to leg L.
func (c *CorrelatedCall) correlate(ctx context.Context, l Leg) error {
	if c.state == StateEmpty {
		c.state = StateBuilding
	}

	pairKey := [2]string{l.Caller, l.Callee}

	switch {
	case !c.pairs[pairKey]:
		// Rule 1: pair discovery.
		c.pairs[pairKey] = true
		tr := store.TimeRange{
			Start: l.CreatedAt - c.cfg.AggregationTimeoutMs,
			End:   l.CreatedAt + c.cfg.AggregationTimeoutMs,
		}
		candidates, err := c.fetch.fetchByIdentity(ctx, l.Caller, l.Callee, tr)
		if err != nil {
			return fmt.Errorf("pair discovery lookup: %w", err)
		}
		if err := c.extend(l, candidates); err != nil {
			return err
		}
		if c.cfg.UseXCorrelationHeader {
			if err := c.crossIDClosure(ctx); err != nil {
				return err
			}
		}

	case len(c.legs) < c.cfg.MaxLegs && !c.has(l.key()):
		// Rule 2: second sighting of the same pair.
		c.insert(l)
		if err := c.crossIDClosure(ctx); err != nil {
			return err
		}

	default:
		// Pair already known and L already present (or the call is
		// full): nothing to do. This is the idempotent no-op path a
		// redundant cross-id revisit takes.
	}

	return nil
}

// crossIDClosure implements rule 3: fetch legs whose identifiers touch
// the currently accumulated set, then recursively correlate each result.
func (c *CorrelatedCall) crossIDClosure(ctx context.Context) error {
	ids := c.callIDs()
	xids := c.crossIDs()
	if len(ids) == 0 {
		return nil
	}
	tr := c.crossIDWindow()

	results, err := c.fetch.fetchByCrossID(ctx, ids, xids, tr)
	if err != nil {
		return fmt.Errorf("cross-call-id closure lookup: %w", err)
	}
	for _, r := range results {
		if err := c.correlate(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// extend adds L to the leg set (subject to capacity and dedup) and then
// recursively tests every remaining candidate from the same batch against
// the time and topology predicates, never re-querying the store.
func (c *CorrelatedCall) extend(l Leg, candidates []Leg) error {
	if !c.insert(l) {
		return nil
	}

	for _, m := range candidates {
		if c.has(m.key()) {
			continue
		}
		if !timeOverlaps(l, m, c.cfg.TerminationTimeoutMs) {
			continue
		}
		if !topologyMatches(l, m) {
			continue
		}
		if err := c.extend(m, candidates); err != nil {
			return err
		}
	}
	return nil
}

// timeOverlaps implements extend's time predicate: if either leg's
// terminated_at is absent (call in progress), require the creation
// timestamps to be within terminationTimeout; otherwise require the
// intervals to overlap.
func timeOverlaps(l, m Leg, terminationTimeoutMs int64) bool {
	if !l.HasTerminated || !m.HasTerminated {
		diff := l.CreatedAt - m.CreatedAt
		if diff < 0 {
			diff = -diff
		}
		return diff <= terminationTimeoutMs
	}
	return l.TerminatedAt >= m.CreatedAt && l.CreatedAt <= m.TerminatedAt
}

// topologyMatches implements extend's topology predicate: src/dst must
// line up across the two legs, preferring hostnames when present and
// falling back to addresses.
func topologyMatches(l, m Leg) bool {
	srcMatch := false
	if l.HasSrcHost {
		srcMatch = l.HasSrcHost == m.HasDstHost && l.SrcHost == m.DstHost
	} else {
		srcMatch = l.SrcAddr == m.DstAddr
	}

	dstMatch := false
	if l.HasDstHost {
		dstMatch = l.HasDstHost == m.HasSrcHost && l.DstHost == m.SrcHost
	} else {
		dstMatch = l.DstAddr == m.SrcAddr
	}

	return srcMatch || dstMatch
}
