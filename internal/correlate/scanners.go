package correlate

import (
	"context"

	"github.com/flowpbx/callsearch/internal/merge"
	"github.com/flowpbx/callsearch/internal/query"
	"github.com/flowpbx/callsearch/internal/store"
)

const (
	collectionSIPCallIndex = "sip_call_index"
	collectionRTPIndex     = "rtpr_rtp_index"
	collectionRTCPIndex    = "rtpr_rtcp_index"
)

// SIPScanner resolves SIP-only queries to a lazy stream of matching
// sip_call_index documents.
type SIPScanner struct {
	adapter store.Adapter
}

// NewSIPScanner creates a scanner reading from adapter.
func NewSIPScanner(adapter store.Adapter) *SIPScanner {
	return &SIPScanner{adapter: adapter}
}

// Scan returns documents with created_at in [createdAt, terminatedAt]
// matching every predicate except the rtp./rtcp./sip.method axes, which
// this layer deliberately ignores.
func (s *SIPScanner) Scan(ctx context.Context, createdAt, terminatedAt int64, preds []query.Predicate) store.Seq[store.Document] {
	tr := store.TimeRange{Start: createdAt, End: terminatedAt}
	filter := append(sipScannerPredicates(preds), createdAtBounds(createdAt, terminatedAt)...)
	return s.adapter.Find(ctx, collectionSIPCallIndex, tr, filter)
}

// timeBounds builds the inclusive [lower, upper] range predicates a
// scanner adds on top of its shard-level TimeRange: store.Adapter.Find
// only uses TimeRange to pick overlapping shards and performs no
// per-document timestamp filtering itself, so the field-level bound has
// to travel as ordinary predicates.
func timeBounds(field string, lower, upper int64) []query.Predicate {
	return []query.Predicate{
		{Path: field, Op: query.Gte, Value: lower},
		{Path: field, Op: query.Lte, Value: upper},
	}
}

func createdAtBounds(lower, upper int64) []query.Predicate {
	return timeBounds("created_at", lower, upper)
}

// sipScannerPredicates drops every rtp./rtcp./sip.method predicate,
// keeping sip.* (other than method) and generic predicates.
func sipScannerPredicates(preds []query.Predicate) []query.Predicate {
	var out []query.Predicate
	for _, p := range preds {
		switch p.DomainOf() {
		case query.DomainRTP, query.DomainRTCP:
			continue
		case query.DomainSIP:
			if p.IsSIPMethod() {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// RTPRScanner resolves media-metric queries to RTP/RTCP report documents,
// then joins each back to the SIP index via call_id, producing a
// sip_call_index document stream.
type RTPRScanner struct {
	adapter             store.Adapter
	aggregationTimeoutMs int64
}

// NewRTPRScanner creates a scanner reading from adapter, using
// aggregationTimeoutMs as the join window's lower bound.
func NewRTPRScanner(adapter store.Adapter, aggregationTimeoutMs int64) *RTPRScanner {
	return &RTPRScanner{adapter: adapter, aggregationTimeoutMs: aggregationTimeoutMs}
}

// Scan reads whichever rtp/rtcp indices the query references, merges
// them by started_at, then joins each report back to its SIP leg.
func (s *RTPRScanner) Scan(ctx context.Context, createdAt, terminatedAt int64, preds []query.Predicate) store.Seq[store.Document] {
	tr := store.TimeRange{Start: createdAt, End: terminatedAt}
	nonSIP := append(nonSIPPredicates(preds), timeBounds("started_at", createdAt, terminatedAt)...)

	var sources []store.Seq[store.Document]
	if hasDomain(preds, query.DomainRTP) {
		sources = append(sources, s.adapter.Find(ctx, collectionRTPIndex, tr, nonSIP))
	}
	if hasDomain(preds, query.DomainRTCP) {
		sources = append(sources, s.adapter.Find(ctx, collectionRTCPIndex, tr, nonSIP))
	}

	startedAt := func(d store.Document) int64 {
		v, _ := d.Int64("started_at")
		return v
	}
	merged := merge.Merge(startedAt, sources...)

	return func(yield func(store.Document, error) bool) {
		merged(func(doc store.Document, err error) bool {
			if err != nil {
				return yield(store.Document{}, err)
			}
			rtpr, ok := ParseRTPR(doc)
			if !ok {
				// Malformed document: absorbed and skipped, not fatal.
				return true
			}
			if !rtpr.HasCallID {
				return true
			}
			sipDoc, found, joinErr := s.joinSIP(ctx, rtpr)
			if joinErr != nil {
				return yield(store.Document{}, joinErr)
			}
			if !found {
				return true
			}
			return yield(sipDoc, nil)
		})
	}
}

// joinSIP looks up the sip_call_index document for rtpr.CallID whose
// created_at falls in [started_at - aggregationTimeout, started_at],
// taking the first such document.
func (s *RTPRScanner) joinSIP(ctx context.Context, rtpr RTPR) (store.Document, bool, error) {
	tr := store.TimeRange{Start: rtpr.StartedAt - s.aggregationTimeoutMs, End: rtpr.StartedAt}
	preds := append([]query.Predicate{{Path: "call_id", Op: query.Eq, Value: rtpr.CallID}}, createdAtBounds(tr.Start, tr.End)...)

	var result store.Document
	var found bool
	var ferr error
	s.adapter.Find(ctx, collectionSIPCallIndex, tr, preds)(func(doc store.Document, err error) bool {
		if err != nil {
			ferr = err
			return false
		}
		result = doc
		found = true
		return false
	})
	return result, found, ferr
}

func nonSIPPredicates(preds []query.Predicate) []query.Predicate {
	var out []query.Predicate
	for _, p := range preds {
		if p.DomainOf() == query.DomainSIP {
			continue
		}
		out = append(out, p)
	}
	return out
}

func hasDomain(preds []query.Predicate, d query.Domain) bool {
	for _, p := range preds {
		if p.DomainOf() == d {
			return true
		}
	}
	return false
}
