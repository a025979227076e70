// Package pageid extracts and canonicalizes Notion page identifiers from URLs.
package pageid

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	bareHex   = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)
	idPattern = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}|[0-9a-f]{32}`)
)

// Canonicalize maps a 32-hex-digit run or an already-hyphenated UUID to the
// lowercase 8-4-4-4-12 form. The mapping is idempotent. The boolean is false
// when the input is not UUID-shaped.
func Canonicalize(s string) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// FromURL extracts the canonical page id of a Notion URL.
//
// A `p` query parameter of exactly 32 hex digits wins over anything embedded
// in the path (peek previews carry the open page there). Otherwise the first
// UUID-shaped run anywhere in the URL is used. Malformed URLs degrade to
// "none found"; no error is returned.
func FromURL(rawURL string) (string, bool) {
	if u, err := url.Parse(rawURL); err == nil {
		if p := u.Query().Get("p"); bareHex.MatchString(p) {
			return Canonicalize(p)
		}
	}
	match := idPattern.FindString(rawURL)
	if match == "" {
		return "", false
	}
	return Canonicalize(match)
}

// FromDatabaseLink pulls a canonical database id out of a pasted share link.
// It accepts a bare id as well as a full URL.
func FromDatabaseLink(link string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", false
	}
	if id, ok := Canonicalize(link); ok {
		return id, true
	}
	return FromURL(link)
}
