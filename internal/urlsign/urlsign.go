// Package urlsign builds HMAC-SHA256-signed canonical query strings for the
// remote tile server. The signing algorithm itself — canonical
// ordering, percent-encoding, expiry — is core; the HMAC primitive is
// injected here as a small Signer interface with a stdlib crypto/hmac +
// crypto/sha256 default, since no example repo ships a dedicated
// query-signing library.
package urlsign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultValiditySeconds is used when a caller does not specify one.
const DefaultValiditySeconds = 300

// Hmac is the external collaborator computing the signature bytes.
type Hmac interface {
	Sum(secret, message []byte) []byte
}

// sha256Hmac is the default Hmac using crypto/hmac + crypto/sha256.
type sha256Hmac struct{}

func (sha256Hmac) Sum(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}

// Signer builds signed query strings for a fixed shared secret. A Signer
// with an empty secret disables signing: Sign returns the canonical query
// unsigned.
type Signer struct {
	Secret string
	Hmac   Hmac
}

// New creates a Signer using the default SHA-256 HMAC implementation.
func New(secret string) *Signer {
	return &Signer{Secret: secret, Hmac: sha256Hmac{}}
}

// unreservedByte reports whether b is in the RFC-3986 unreserved set
// [A-Z a-z 0-9 - _ . ~].
func unreservedByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_' || b == '.' || b == '~':
		return true
	}
	return false
}

// percentEncode percent-encodes every byte outside the unreserved set,
// using uppercase hex digits.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreservedByte(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// canonicalQuery builds the sorted, percent-encoded "key=value&..." string
// from params (which must already include "exp" if desired).
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, percentEncode(k)+"="+percentEncode(params[k]))
	}
	return strings.Join(parts, "&")
}

// Sign computes the signed query string for path and params, valid for
// validitySeconds from now. If validitySeconds <= 0, DefaultValiditySeconds
// is used. now is the caller-supplied Unix timestamp, kept explicit so
// signing is deterministic and testable.
func (s *Signer) Sign(path string, params map[string]string, validitySeconds int64, now int64) string {
	if validitySeconds <= 0 {
		validitySeconds = DefaultValiditySeconds
	}

	merged := make(map[string]string, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged["exp"] = strconv.FormatInt(now+validitySeconds, 10)

	canonical := canonicalQuery(merged)

	if s.Secret == "" {
		return canonical
	}

	message := path + "?" + canonical
	sig := hex.EncodeToString(s.Hmac.Sum([]byte(s.Secret), []byte(message)))
	return canonical + "&sig=" + sig
}

// BuildSignedURL returns path + "?" + the signed query.
func (s *Signer) BuildSignedURL(path string, params map[string]string, validitySeconds int64, now int64) string {
	return path + "?" + s.Sign(path, params, validitySeconds, now)
}
