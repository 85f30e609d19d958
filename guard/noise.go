// Package guard filters handshake input that is not a display name.
// Exposed chat ports attract health checks, port scanners and stray
// HTTP/TLS clients; their first bytes must never be registered as users.
package guard

import (
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

// protocolTokens are prefixes and header fragments of protocols commonly
// seen knocking on a chat port. Matching is case-insensitive.
var protocolTokens = []string{
	"get /",
	"post /",
	"head /",
	"put /",
	"delete /",
	"options /",
	"connect ",
	"http/1.0",
	"http/1.1",
	"http/2",
	"host:",
	"user-agent:",
	"ssh-",
	"\x16\x03\x01", // TLS client hello
	"\x16\x03\x03",
}

type NoiseDetector struct {
	matcher *goahocorasick.Machine
}

// NewNoiseDetector builds the multi-pattern matcher once at startup.
func NewNoiseDetector() (*NoiseDetector, error) {
	patterns := make([][]rune, len(protocolTokens))
	for i, token := range protocolTokens {
		patterns[i] = []rune(token)
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &NoiseDetector{matcher: m}, nil
}

// Reject reports whether the requested name must be refused:
// empty after trimming, containing control characters, or matching
// a known protocol token anywhere in the line.
func (d *NoiseDetector) Reject(requestedName string) bool {
	name := strings.TrimSpace(requestedName)
	if name == "" {
		return true
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return true
		}
	}
	lowered := []rune(strings.ToLower(requestedName))
	return len(d.matcher.MultiPatternSearch(lowered, true)) > 0
}
