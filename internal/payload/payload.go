// Package payload encodes and decodes the structured chat payloads that are
// stored inside a message's text column.
//
// The storage layer only knows a generic "text" message type, so proposals,
// responses and sale notices are serialized as JSON objects tagged with a
// "type" field. Decode is total: anything it does not recognise comes back as
// a Plain payload carrying the raw text.
package payload

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Kind discriminates payload variants.
type Kind string

const (
	KindPlain                Kind = "plain"
	KindConfirmationProposal Kind = "confirmation_proposal"
	KindConfirmationAccepted Kind = "confirmation_accepted"
	KindConfirmationDeclined Kind = "confirmation_declined"
	KindItemSold             Kind = "item_sold"
)

// Wire tags written into the text column.
const (
	tagProposal      = "confirmation"
	tagProposalAlias = "confirmation_proposal"
	tagAccepted      = "confirmation_accepted"
	tagDeclined      = "confirmation_declined"
	tagItemSold      = "item_sold"
	tagLegacyReply   = "confirmation_response"
	tagText          = "text"
)

// Payload is the decoded form of a message's text.
type Payload struct {
	Kind Kind `json:"kind"`

	// Text is set for plain messages.
	Text string `json:"text,omitempty"`

	// Date, Location and Price are set for proposals and acceptances.
	Date     string `json:"date,omitempty"`
	Location string `json:"location,omitempty"`
	Price    string `json:"price,omitempty"`

	// ResponseTo references the proposal an acceptance or decline answers.
	ResponseTo int64 `json:"response_to,omitempty"`

	// Legacy marks payloads recovered from pre-JSON display text.
	Legacy bool `json:"legacy,omitempty"`
}

func Plain(text string) Payload {
	return Payload{Kind: KindPlain, Text: text}
}

func Proposal(date, location, price string) Payload {
	return Payload{Kind: KindConfirmationProposal, Date: date, Location: location, Price: price}
}

func Accepted(proposalID int64, date, location, price string) Payload {
	return Payload{Kind: KindConfirmationAccepted, ResponseTo: proposalID, Date: date, Location: location, Price: price}
}

func Declined(proposalID int64) Payload {
	return Payload{Kind: KindConfirmationDeclined, ResponseTo: proposalID}
}

func ItemSold() Payload {
	return Payload{Kind: KindItemSold}
}

// IsTerminal reports whether p answers a proposal.
func (p Payload) IsTerminal() bool {
	return p.Kind == KindConfirmationAccepted || p.Kind == KindConfirmationDeclined
}

// Freezes reports whether a conversation containing p accepts no further
// plain messages or proposals.
func (p Payload) Freezes() bool {
	return p.Kind == KindConfirmationAccepted || p.Kind == KindItemSold
}

// DisplayText is the human readable form of a proposal, kept in the stored
// JSON so older readers can still show something.
func DisplayText(date, location, price string) string {
	return "Confirmation Request:\nDate: " + date + "\nLocation: " + location + "\nPrice: " + price
}

type wireMessage struct {
	Type        string     `json:"type"`
	Text        *string    `json:"text,omitempty"`
	Date        string     `json:"date,omitempty"`
	Location    string     `json:"location,omitempty"`
	Price       string     `json:"price,omitempty"`
	DisplayText string     `json:"displayText,omitempty"`
	ResponseTo  messageRef `json:"response_to,omitempty"`
	Response    string     `json:"response,omitempty"`
}

// messageRef accepts a message id written either as a JSON number or as a
// numeric string.
type messageRef int64

func (r *messageRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*r = 0
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int64(f)) {
			return err
		}
		n = int64(f)
	}
	*r = messageRef(n)
	return nil
}

// Encode serializes p for the text column. Plain text is stored raw unless
// the raw form would itself decode as a structured payload, in which case it
// is wrapped so a user cannot forge a system event by typing JSON.
func Encode(p Payload) string {
	var w wireMessage
	switch p.Kind {
	case KindConfirmationProposal:
		w = wireMessage{Type: tagProposal, Date: p.Date, Location: p.Location, Price: p.Price, DisplayText: DisplayText(p.Date, p.Location, p.Price)}
	case KindConfirmationAccepted:
		w = wireMessage{Type: tagAccepted, Date: p.Date, Location: p.Location, Price: p.Price, ResponseTo: messageRef(p.ResponseTo)}
	case KindConfirmationDeclined:
		w = wireMessage{Type: tagDeclined, ResponseTo: messageRef(p.ResponseTo)}
	case KindItemSold:
		w = wireMessage{Type: tagItemSold}
	default:
		if d := Decode(p.Text); d.Kind == KindPlain && d.Text == p.Text {
			return p.Text
		}
		text := p.Text
		w = wireMessage{Type: tagText, Text: &text}
	}
	out, err := json.Marshal(w)
	if err != nil {
		// wireMessage only holds strings and integers.
		return p.Text
	}
	return string(out)
}

// Decode turns stored text into a payload. It never fails.
func Decode(raw string) Payload {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		if p, ok := decodeJSON(trimmed); ok {
			return p
		}
		return Plain(raw)
	}
	if p, ok := ParseLegacyProposal(raw); ok {
		return p
	}
	return Plain(raw)
}

func decodeJSON(raw string) (Payload, bool) {
	var w wireMessage
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Payload{}, false
	}
	switch w.Type {
	case tagProposal, tagProposalAlias:
		if strings.TrimSpace(w.Date) == "" && strings.TrimSpace(w.Location) == "" {
			if p, ok := ParseLegacyProposal(w.DisplayText); ok {
				return p, true
			}
			return Payload{}, false
		}
		return Proposal(w.Date, w.Location, w.Price), true
	case tagAccepted:
		if w.ResponseTo <= 0 {
			return Payload{}, false
		}
		return Accepted(int64(w.ResponseTo), w.Date, w.Location, w.Price), true
	case tagDeclined:
		if w.ResponseTo <= 0 {
			return Payload{}, false
		}
		return Declined(int64(w.ResponseTo)), true
	case tagItemSold:
		return ItemSold(), true
	case tagLegacyReply:
		if w.ResponseTo <= 0 {
			return Payload{}, false
		}
		var p Payload
		switch strings.ToLower(strings.TrimSpace(w.Response)) {
		case "yes", "accept", "accepted":
			p = Accepted(int64(w.ResponseTo), "", "", "")
		case "no", "decline", "declined":
			p = Declined(int64(w.ResponseTo))
		default:
			return Payload{}, false
		}
		p.Legacy = true
		return p, true
	case tagText:
		if w.Text == nil {
			return Payload{}, false
		}
		return Plain(*w.Text), true
	}
	return Payload{}, false
}
