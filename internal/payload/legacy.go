package payload

import (
	"regexp"
	"strings"
)

// Legacy fallback. Early clients wrote proposals as display text only:
//
//	Confirmation Request:
//	Date: Sat, Feb 14, 2026 at 2:30 PM
//	Location: Gates Lobby
//	Price: $25.00
//
// This parser recovers those fields. It is best-effort and only consulted
// when no structured payload is present.

const legacyHeader = "Confirmation Request:"

var (
	legacyDate     = regexp.MustCompile(`(?m)^\s*Date:[ \t]*(.+?)\s*$`)
	legacyLocation = regexp.MustCompile(`(?m)^\s*Location:[ \t]*(.+?)\s*$`)
	legacyPrice    = regexp.MustCompile(`(?m)^\s*Price:[ \t]*(.+?)\s*$`)
)

// ParseLegacyProposal extracts date, location and price from legacy display
// text. The header may follow other text; fields are read only after it.
// Date and location are required; price is optional.
func ParseLegacyProposal(text string) (Payload, bool) {
	i := strings.Index(text, legacyHeader)
	if i < 0 {
		return Payload{}, false
	}
	body := text[i+len(legacyHeader):]
	date := firstGroup(legacyDate, body)
	location := firstGroup(legacyLocation, body)
	if date == "" || location == "" {
		return Payload{}, false
	}
	p := Proposal(date, location, firstGroup(legacyPrice, body))
	p.Legacy = true
	return p, true
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
