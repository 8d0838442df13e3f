package query

import "testing"

func TestPredicateDomainOf(t *testing.T) {
	tests := []struct {
		path string
		want Domain
	}{
		{"sip.from_user", DomainSIP},
		{"rtp.mos", DomainRTP},
		{"rtcp.jitter", DomainRTCP},
		{"caller", DomainGeneric},
		{"", DomainGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p := Predicate{Path: tt.path}
			if got := p.DomainOf(); got != tt.want {
				t.Errorf("DomainOf(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestPredicateField(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"sip.from_user", "from_user"},
		{"rtp.mos", "mos"},
		{"rtcp.jitter", "jitter"},
		{"caller", "caller"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p := Predicate{Path: tt.path}
			if got := p.Field(); got != tt.want {
				t.Errorf("Field(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestPredicateIsSIPMethod(t *testing.T) {
	if !(Predicate{Path: "sip.method"}).IsSIPMethod() {
		t.Error("expected sip.method to report true")
	}
	if (Predicate{Path: "sip.from_user"}).IsSIPMethod() {
		t.Error("expected sip.from_user to report false")
	}
}

func TestOpString(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{Eq, "="},
		{Ne, "!="},
		{Gt, ">"},
		{Gte, ">="},
		{Lt, "<"},
		{Lte, "<="},
		{Contains, "contains"},
		{In, "in"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Op(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
