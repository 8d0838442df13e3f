package correlate

// Result is the projected, caller-facing shape of a frozen
// CorrelatedCall: the external Search response's per-item record.
type Result struct {
	CreatedAt      int64
	TerminatedAt   int64
	HasTerminated  bool
	Method         string
	State          string
	Caller         string
	Callee         string
	CallID         []string
	Duration       int64
	HasDuration    bool
	ErrorCode      string
	HasErrorCode   bool
}

// Project collapses a frozen CorrelatedCall's leg set into a single
// response record. c must have at least one leg; callers are expected to
// have already discarded empty calls.
func Project(c *CorrelatedCall) Result {
	first, _ := c.First()

	return Result{
		CreatedAt:     first.CreatedAt,
		TerminatedAt:  first.TerminatedAt,
		HasTerminated: first.HasTerminated,
		Method:        "INVITE",
		State:         first.State,
		Caller:        distinctJoin(c.legs, func(l Leg) string { return l.Caller }),
		Callee:        distinctJoin(c.legs, func(l Leg) string { return l.Callee }),
		CallID:        c.callIDs(),
		Duration:      first.Duration,
		HasDuration:   first.HasDuration,
		ErrorCode:     first.ErrorCode,
		HasErrorCode:  first.HasErrorCode,
	}
}

// distinctJoin joins the distinct values extract returns from legs, in
// leg order, with " - ".
func distinctJoin(legs []Leg, extract func(Leg) string) string {
	seen := make(map[string]bool)
	var parts []string
	for _, l := range legs {
		v := extract(l)
		if !seen[v] {
			seen[v] = true
			parts = append(parts, v)
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " - "
		}
		out += p
	}
	return out
}
