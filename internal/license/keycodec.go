package license

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix is the fixed literal the desktop client expects at the start of
// every license key.
const KeyPrefix = "SNAPRO"

const (
	randomLen   = 8 // hex chars of entropy embedded in the key
	checksumLen = 4 // hex chars of the truncated SHA-256 checksum
)

// Codec generates and validates license keys offline. Keys have the wire
// format SNAPRO-XXXX-YYYY-CCCC where XXXX/YYYY are the random part and CCCC
// is the first four hex characters of SHA-256(randomPart + secret). The
// secret is injected at construction so environments and tests can swap it.
type Codec struct {
	prefix string
	secret string
}

// NewCodec creates a Codec using the given signing secret. The same secret
// must be configured wherever keys are validated.
func NewCodec(secret string) *Codec {
	return &Codec{prefix: KeyPrefix, secret: secret}
}

// Generate mints a new key from a cryptographically secure random source.
func (c *Codec) Generate() (string, error) {
	b := make([]byte, randomLen/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	random := strings.ToUpper(hex.EncodeToString(b))
	sum := c.checksum(random)
	return fmt.Sprintf("%s-%s-%s-%s", c.prefix, random[0:4], random[4:8], sum), nil
}

// ValidateFormat checks a key's authenticity without touching storage:
// prefix, length, and an exact checksum match over the embedded random part.
// Input is case-insensitive and tolerates whitespace and hyphens.
func (c *Codec) ValidateFormat(key string) bool {
	cleaned := Canonicalize(key)
	if !strings.HasPrefix(cleaned, c.prefix) {
		return false
	}
	if len(cleaned) < len(c.prefix)+randomLen+checksumLen {
		return false
	}
	body := cleaned[len(c.prefix):]
	random := body[:randomLen]
	embedded := body[randomLen : randomLen+checksumLen]
	want := c.checksum(random)
	return subtle.ConstantTimeCompare([]byte(embedded), []byte(want)) == 1
}

func (c *Codec) checksum(random string) string {
	sum := sha256.Sum256([]byte(random + c.secret))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:checksumLen]
}

// Canonicalize strips whitespace and hyphens and uppercases a key. All
// storage lookups and checksum math operate on the canonical form.
func Canonicalize(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
