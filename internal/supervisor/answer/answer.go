// Package answer splits an operator's free-form answer string into a
// decision and an optional reason, on the first colon.
package answer

import "strings"

// Answer is the result of parsing an operator's answer string.
type Answer struct {
	Decision  string
	Reason    string
	HasReason bool
}

// Parse splits s on the first ':'. Both sides are trimmed. A reason
// containing further ':' characters is preserved verbatim. Input with no
// ':' yields a bare decision; empty input yields an empty decision.
func Parse(s string) Answer {
	idx := strings.IndexByte(s, ':')
	if idx == -1 {
		return Answer{Decision: strings.TrimSpace(s)}
	}
	return Answer{
		Decision:  strings.TrimSpace(s[:idx]),
		Reason:    strings.TrimSpace(s[idx+1:]),
		HasReason: true,
	}
}
