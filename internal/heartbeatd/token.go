package heartbeatd

import (
	"regexp"
	"strings"
)

const (
	// AckToken is the marker the agent emits on an awake turn that needs no
	// action. The daemon treats such a turn as a quiet heartbeat rather than
	// useful output.
	AckToken = "HEARTBEAT_OK"
	// maxAckChars bounds how much residual text still counts as a bare ack
	// once the token itself is stripped.
	maxAckChars = 300
)

var ackWhitespace = regexp.MustCompile(`\s+`)

// Ack is the classification of one awake-turn response.
type Ack struct {
	// NoOp is true when the turn carried nothing actionable.
	NoOp bool
	// Text is the response with any ack tokens removed.
	Text string
}

// StripAck classifies an awake-turn response: empty replies and replies that
// reduce to a short acknowledgment around AckToken are no-ops, anything else
// passes through with the token removed from its edges.
func StripAck(raw string) Ack {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Ack{NoOp: true}
	}
	if !strings.Contains(text, AckToken) {
		return Ack{Text: text}
	}

	for {
		text = strings.TrimSpace(text)
		if strings.HasPrefix(text, AckToken) {
			text = text[len(AckToken):]
			continue
		}
		if strings.HasSuffix(text, AckToken) {
			text = text[:len(text)-len(AckToken)]
			continue
		}
		break
	}
	text = strings.TrimSpace(ackWhitespace.ReplaceAllString(text, " "))

	if len(text) <= maxAckChars {
		return Ack{NoOp: true, Text: text}
	}
	return Ack{Text: text}
}
