// Package sipheader extracts the handful of SIP header fields needed to
// build sip_call_index fixtures from raw SIP text. It is not on the
// correlation search path, and nothing outside its own tests imports it;
// it is not wire decoding as part of the search service itself.
package sipheader

import (
	"fmt"

	"github.com/emiago/sipgo/sip"
)

// Fields holds the header values a sip_call_index document needs.
type Fields struct {
	CallID     string
	XCallID    string
	Method     string
	From       string
	To         string
	SrcAddr    string
	DstAddr    string
	HasXCallID bool
}

// Parse extracts Fields from a raw SIP request or response message.
func Parse(raw []byte) (Fields, error) {
	parser := sip.NewParser()
	msg, err := parser.ParseSIP(raw)
	if err != nil {
		return Fields{}, fmt.Errorf("parsing sip message: %w", err)
	}

	f := Fields{}

	if cid := msg.CallID(); cid != nil {
		f.CallID = cid.Value()
	}
	if from := msg.From(); from != nil {
		f.From = from.Address.User
	}
	if to := msg.To(); to != nil {
		f.To = to.Address.User
	}
	if req, ok := msg.(*sip.Request); ok {
		f.Method = string(req.Method)
	}

	if xcids := msg.GetHeaders("X-Call-ID"); len(xcids) > 0 {
		f.XCallID = xcids[0].Value()
		f.HasXCallID = f.XCallID != ""
	}

	return f, nil
}

// ToDocument projects Fields into the flat field-name shape a
// sip_call_index document stores at rest.
func (f Fields) ToDocument() map[string]any {
	doc := map[string]any{
		"call_id": f.CallID,
		"method":  f.Method,
		"caller":  f.From,
		"callee":  f.To,
	}
	if f.HasXCallID {
		doc["x_call_id"] = f.XCallID
	}
	if f.SrcAddr != "" {
		doc["src_addr"] = f.SrcAddr
	}
	if f.DstAddr != "" {
		doc["dst_addr"] = f.DstAddr
	}
	return doc
}
