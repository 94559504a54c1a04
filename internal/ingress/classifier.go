// Package ingress owns the UDP listener and the per-datagram pipeline: line
// classification, beacon routing, and parser dispatch.
package ingress

import (
	"regexp"
	"strconv"
	"strings"
)

// beaconPrefix marks a token beacon inside the log stream.
const beaconPrefix = "HLXTOKEN:"

// defaultGamePort is assumed when a beacon omits its port suffix.
const defaultGamePort = 27015

// timestampPrefix is the engine's "L MM/DD/YYYY - HH:MM:SS: " header.
var timestampPrefix = regexp.MustCompile(`^L \d{2}/\d{2}/\d{4} - \d{2}:\d{2}:\d{2}:\s*`)

// Kind discriminates classifier outcomes.
type Kind int

const (
	KindLogLine Kind = iota
	KindBeacon
	KindRejected
)

// Classification is the classifier's discriminated result. For beacons,
// Token and GamePort are set; for log lines, Line carries the original
// (unstripped) input.
type Classification struct {
	Kind     Kind
	Token    string
	GamePort int
	Line     string
}

// StripTimestamp removes the engine timestamp header if present.
func StripTimestamp(line string) string {
	return timestampPrefix.ReplaceAllString(line, "")
}

// Classify decides whether a line is a beacon, an engine log line, or
// garbage. Anything under the beacon prefix that fails validation is
// Rejected outright — it never falls through to the log-line path, so
// arbitrary data cannot be smuggled past the authenticator.
func Classify(line string) Classification {
	stripped := StripTimestamp(line)

	if !strings.HasPrefix(stripped, beaconPrefix) {
		return Classification{Kind: KindLogLine, Line: line}
	}

	payload := strings.TrimSpace(stripped[len(beaconPrefix):])
	tok := payload
	port := defaultGamePort

	if idx := strings.LastIndexByte(payload, ':'); idx >= 0 {
		tok = payload[:idx]
		p, err := strconv.Atoi(payload[idx+1:])
		if err != nil {
			return Classification{Kind: KindRejected}
		}
		port = p
	}

	if tok == "" || port < 1 || port > 65535 {
		return Classification{Kind: KindRejected}
	}
	return Classification{Kind: KindBeacon, Token: tok, GamePort: port}
}
