// Package query turns a free-text search string into typed predicates and
// caches the attribute descriptors used to coerce them.
package query

import "fmt"

// Op is a predicate comparison operator.
type Op int

const (
	Eq Op = iota
	Ne
	Gt
	Gte
	Lt
	Lte
	Contains
	In
)

// String renders the operator the way it appears in a raw query token.
func (o Op) String() string {
	switch o {
	case Eq:
		return "="
	case Ne:
		return "!="
	case Gt:
		return ">"
	case Gte:
		return ">="
	case Lt:
		return "<"
	case Lte:
		return "<="
	case Contains:
		return "contains"
	case In:
		return "in"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Domain is the first dotted segment of a predicate path.
type Domain int

const (
	DomainGeneric Domain = iota
	DomainSIP
	DomainRTP
	DomainRTCP
)

// Predicate is one filter term: a dotted attribute path, a comparison
// operator and a typed value.
type Predicate struct {
	Path  string
	Op    Op
	Value any
}

// DomainOf classifies a predicate by its path's leading segment.
func (p Predicate) DomainOf() Domain {
	switch {
	case hasPrefix(p.Path, "sip."):
		return DomainSIP
	case hasPrefix(p.Path, "rtp."):
		return DomainRTP
	case hasPrefix(p.Path, "rtcp."):
		return DomainRTCP
	default:
		return DomainGeneric
	}
}

// Field returns the document field name the predicate applies to: the
// path with its domain prefix (sip./rtp./rtcp.) stripped, since documents
// at rest store bare field names (call_id, caller, mos, ...) and the
// domain prefix exists only for query-time classification.
func (p Predicate) Field() string {
	switch p.DomainOf() {
	case DomainSIP:
		return p.Path[len("sip."):]
	case DomainRTP:
		return p.Path[len("rtp."):]
	case DomainRTCP:
		return p.Path[len("rtcp."):]
	default:
		return p.Path
	}
}

// IsSIPMethod reports whether the predicate targets the sip.method axis,
// which the SIP scanner deliberately ignores — method filtering happens
// downstream in the projector via the fixed "INVITE" label.
func (p Predicate) IsSIPMethod() bool {
	return p.Path == "sip.method"
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
