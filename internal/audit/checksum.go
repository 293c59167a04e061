package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	prefixSHA256 = "sha256:"
	prefixHMAC   = "hmac-sha256:"
)

// Checksummer computes content checksums. With a key it produces
// HMAC-SHA256, otherwise plain SHA-256.
type Checksummer struct {
	key []byte
}

// NewChecksummer creates a checksummer; an empty key selects plain SHA-256.
func NewChecksummer(key string) *Checksummer {
	key = strings.TrimSpace(key)
	if key == "" {
		return &Checksummer{}
	}
	return &Checksummer{key: []byte(key)}
}

// Keyed reports whether checksums are HMACs.
func (c *Checksummer) Keyed() bool {
	return len(c.key) > 0
}

// Sum returns the prefixed hex checksum of event's canonical form.
func (c *Checksummer) Sum(event Event) string {
	canonical := canonicalForm(event)
	if c.Keyed() {
		mac := hmac.New(sha256.New, c.key)
		mac.Write(canonical)
		return prefixHMAC + hex.EncodeToString(mac.Sum(nil))
	}
	sum := sha256.Sum256(canonical)
	return prefixSHA256 + hex.EncodeToString(sum[:])
}

// Verify reports whether event's stored checksum matches its content.
func (c *Checksummer) Verify(event Event) bool {
	if event.Checksum == "" {
		return false
	}
	return hmac.Equal([]byte(c.Sum(event)), []byte(event.Checksum))
}

// canonicalForm is a deterministic representation of the event:
// ID|CreatedAt(Unix)|EventType|Actor|Target|IP|Severity|Details(compacted JSON)
func canonicalForm(event Event) []byte {
	var details bytes.Buffer
	if len(event.Details) > 0 {
		if err := json.Compact(&details, event.Details); err != nil {
			details.Reset()
			details.Write(event.Details)
		}
	}

	var b bytes.Buffer
	b.WriteString(event.ID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(event.CreatedAt.Unix(), 10))
	b.WriteByte('|')
	b.WriteString(event.EventType)
	b.WriteByte('|')
	b.WriteString(event.ActorID)
	b.WriteByte('|')
	b.WriteString(event.TargetUserID)
	b.WriteByte('|')
	b.WriteString(event.IPAddress)
	b.WriteByte('|')
	b.WriteString(string(event.Severity))
	b.WriteByte('|')
	b.Write(details.Bytes())
	return b.Bytes()
}
