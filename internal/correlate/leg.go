// Package correlate implements the correlation engine: it consumes
// matched sip_call_index documents and stitches them into logical calls
// using signalling identifiers, participant identity and network
// topology.
package correlate

import "github.com/flowpbx/callsearch/internal/store"

// Leg is the narrow typed view of a sip_call_index document. Every field
// the engine reads is resolved once here, with explicit optionality; a
// missing required field (CallID, Caller, Callee, CreatedAt, SrcAddr,
// DstAddr, State) means the document is skipped, never a panic.
type Leg struct {
	CallID        string
	XCallID       string
	HasXCallID    bool
	Caller        string
	Callee        string
	CreatedAt     int64
	TerminatedAt  int64
	HasTerminated bool
	State         string
	Duration      int64
	HasDuration   bool
	ErrorCode     string
	HasErrorCode  bool
	SrcAddr       string
	DstAddr       string
	SrcHost       string
	HasSrcHost    bool
	DstHost       string
	HasDstHost    bool
}

// ParseLeg builds a Leg from a store.Document, reporting ok=false if a
// required field is missing or of the wrong type.
func ParseLeg(doc store.Document) (Leg, bool) {
	var l Leg
	var ok bool

	if l.CallID, ok = doc.String("call_id"); !ok {
		return Leg{}, false
	}
	if l.Caller, ok = doc.String("caller"); !ok {
		return Leg{}, false
	}
	if l.Callee, ok = doc.String("callee"); !ok {
		return Leg{}, false
	}
	if l.CreatedAt, ok = doc.Int64("created_at"); !ok {
		return Leg{}, false
	}
	if l.State, ok = doc.String("state"); !ok {
		return Leg{}, false
	}
	if l.SrcAddr, ok = doc.String("src_addr"); !ok {
		return Leg{}, false
	}
	if l.DstAddr, ok = doc.String("dst_addr"); !ok {
		return Leg{}, false
	}

	l.XCallID, l.HasXCallID = doc.String("x_call_id")
	l.TerminatedAt, l.HasTerminated = doc.Int64("terminated_at")
	l.Duration, l.HasDuration = doc.Int64("duration")
	l.ErrorCode, l.HasErrorCode = doc.String("error_code")
	l.SrcHost, l.HasSrcHost = doc.String("src_host")
	l.DstHost, l.HasDstHost = doc.String("dst_host")

	return l, true
}

// legKey is the ordered-set key: (created_at ascending, dst_addr
// ascending). It is also the "first leg" tie-break order.
type legKey struct {
	createdAt int64
	dstAddr   string
}

func (l Leg) key() legKey {
	return legKey{createdAt: l.CreatedAt, dstAddr: l.DstAddr}
}

// less reports whether a sorts before b under the leg order.
func (a legKey) less(b legKey) bool {
	if a.createdAt != b.createdAt {
		return a.createdAt < b.createdAt
	}
	return a.dstAddr < b.dstAddr
}

// RTPR is the narrow typed view of an rtpr_rtp_index/rtpr_rtcp_index
// document.
type RTPR struct {
	CallID     string
	HasCallID  bool
	StartedAt  int64
}

// ParseRTPR builds an RTPR from a store.Document. started_at is required;
// call_id is optional (an RTPR with no call_id cannot be joined back to
// the SIP index and the scanner skips it).
func ParseRTPR(doc store.Document) (RTPR, bool) {
	startedAt, ok := doc.Int64("started_at")
	if !ok {
		return RTPR{}, false
	}
	callID, hasCallID := doc.String("call_id")
	return RTPR{CallID: callID, HasCallID: hasCallID, StartedAt: startedAt}, true
}
