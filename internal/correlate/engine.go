package correlate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flowpbx/callsearch/internal/query"
	"github.com/flowpbx/callsearch/internal/store"
)

// Engine is the stateful-across-the-stream correlation engine: it
// consumes matched SIP documents and emits each logical call exactly
// once, expanding it transitively via the three correlation rules.
type Engine struct {
	adapter store.Adapter
	cfg     Config
	sip     *SIPScanner
	rtpr    *RTPRScanner
}

// NewEngine wires an Engine against adapter with the given configuration.
func NewEngine(adapter store.Adapter, cfg Config) *Engine {
	return &Engine{
		adapter: adapter,
		cfg:     cfg,
		sip:     NewSIPScanner(adapter),
		rtpr:    NewRTPRScanner(adapter, cfg.AggregationTimeoutMs),
	}
}

// Search runs the full pipeline for one request and returns a lazy
// sequence of frozen CorrelatedCalls, one per distinct logical call,
// emitted in the order the outer loop first encounters their call-id.
func (e *Engine) Search(ctx context.Context, createdAt, terminatedAt int64, preds []query.Predicate) store.Seq[*CorrelatedCall] {
	matched := e.matchedStream(ctx, createdAt, terminatedAt, preds)

	return func(yield func(*CorrelatedCall, error) bool) {
		processed := make(map[string]bool)

		matched(func(doc store.Document, err error) bool {
			if err != nil {
				return yield(nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
			}

			leg, ok := ParseLeg(doc)
			if !ok {
				slog.Debug("skipping malformed sip_call_index document")
				return true
			}
			if processed[leg.CallID] {
				return true
			}

			call := newCorrelatedCall(e.cfg, e.newFetcher())
			if err := call.correlate(ctx, leg); err != nil {
				return yield(nil, err)
			}
			call.freeze()

			for _, l := range call.legs {
				processed[l.CallID] = true
			}

			first, hasFirst := call.First()
			if !hasFirst || first.CreatedAt < createdAt {
				// Anchor slipped below the user's lower bound via
				// aggregation padding; discard without emitting.
				return true
			}

			return yield(call, nil)
		})
	}
}

// matchedStream picks the SIP-direct or RTPR-triggered path depending on
// whether the query references rtp./rtcp. attributes.
func (e *Engine) matchedStream(ctx context.Context, createdAt, terminatedAt int64, preds []query.Predicate) store.Seq[store.Document] {
	if hasDomain(preds, query.DomainRTP) || hasDomain(preds, query.DomainRTCP) {
		return e.rtpr.Scan(ctx, createdAt, terminatedAt, preds)
	}
	return e.sip.Scan(ctx, createdAt, terminatedAt, preds)
}

// newFetcher returns the store-backed fetcher a single CorrelatedCall
// uses for its two bounded queries.
func (e *Engine) newFetcher() fetcher {
	return &storeFetcher{adapter: e.adapter}
}

// storeFetcher implements the correlate package's fetcher interface
// against a store.Adapter.
type storeFetcher struct {
	adapter store.Adapter
}

func (f *storeFetcher) fetchByIdentity(ctx context.Context, caller, callee string, tr store.TimeRange) ([]Leg, error) {
	preds := []query.Predicate{
		{Path: "caller", Op: query.Eq, Value: caller},
		{Path: "callee", Op: query.Eq, Value: callee},
	}
	return f.fetchLegs(ctx, tr, preds)
}

// fetchByCrossID implements rule 3's identity test as a union of the
// individual clauses rather than a single composite predicate, so the
// store adapter only ever needs to understand a plain "in" filter: if
// xids is non-empty the test is (x_call_id in ids) OR (call_id in xids)
// OR (x_call_id in xids); otherwise it is (x_call_id in ids) alone.
func (f *storeFetcher) fetchByCrossID(ctx context.Context, ids, xids []string, tr store.TimeRange) ([]Leg, error) {
	seen := make(map[legKey]bool)
	var out []Leg

	add := func(path string, values []string) error {
		if len(values) == 0 {
			return nil
		}
		preds := []query.Predicate{{Path: path, Op: query.In, Value: values}}
		legs, err := f.fetchLegs(ctx, tr, preds)
		if err != nil {
			return err
		}
		for _, l := range legs {
			k := l.key()
			if !seen[k] {
				seen[k] = true
				out = append(out, l)
			}
		}
		return nil
	}

	if err := add("x_call_id", ids); err != nil {
		return nil, err
	}
	if len(xids) > 0 {
		if err := add("call_id", xids); err != nil {
			return nil, err
		}
		if err := add("x_call_id", xids); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// fetchLegs queries collectionSIPCallIndex for preds within tr. tr is a
// caller-supplied predicate window (rule 1's aggregation window, rule 3's
// crossIDWindow), not merely a shard-selection hint: store.Adapter.Find
// only uses TimeRange to pick overlapping shards and applies no
// per-document timestamp filtering itself, so the bound has to travel as
// an ordinary created_at predicate too.
func (f *storeFetcher) fetchLegs(ctx context.Context, tr store.TimeRange, preds []query.Predicate) ([]Leg, error) {
	preds = append(preds, createdAtBounds(tr.Start, tr.End)...)

	var legs []Leg
	var ferr error
	f.adapter.Find(ctx, collectionSIPCallIndex, tr, preds)(func(doc store.Document, err error) bool {
		if err != nil {
			ferr = err
			return false
		}
		leg, ok := ParseLeg(doc)
		if !ok {
			return true
		}
		legs = append(legs, leg)
		return true
	})
	if ferr != nil {
		return nil, ferr
	}
	return legs, nil
}
