// Package ledger holds what every audit log backend shares: the entry
// fingerprint computation, payload limits, and the Merkle tree used for
// topic checkpoints and inclusion proofs.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

// MaxPayloadBytes bounds a single entry. Oversized payloads are rejected,
// not truncated.
const MaxPayloadBytes = 256 * 1024

func PayloadHash(payload []byte) string {
	return sha256Hex(payload)
}

// Fingerprint computes the chain hash of an entry from its committed fields.
// The input is a canonical JSON document with keys in byte order, so any
// reader produces the same bytes.
func Fingerprint(topic string, seq int64, payloadHash, prevHash string, createdAt time.Time) string {
	rec := chainRecord{
		Version:     domain.AuditChainVersion,
		Topic:       topic,
		Seq:         seq,
		PayloadHash: payloadHash,
		PrevHash:    prevHash,
		CreatedAt:   createdAt.UTC().Format(time.RFC3339Nano),
	}
	return sha256Hex(rec.CanonicalJSON())
}

// VerifyEntry recomputes an entry's payload hash and fingerprint and reports
// whether both match what the log committed.
func VerifyEntry(e domain.AuditEntry) bool {
	if e.Topic == "" || e.Seq < 1 || e.CreatedAt.IsZero() {
		return false
	}
	if PayloadHash(e.Payload) != e.PayloadHash {
		return false
	}
	return Fingerprint(e.Topic, e.Seq, e.PayloadHash, e.PrevHash, e.CreatedAt) == e.Fingerprint
}

// LeafHash decodes a fingerprint into the raw leaf the checkpoint tree is
// built over.
func LeafHash(fingerprint string) ([]byte, error) {
	raw, err := hex.DecodeString(fingerprint)
	if err != nil {
		return nil, err
	}
	if len(raw) != HashSize {
		return nil, ErrInvalidHashLen
	}
	return raw, nil
}

type chainRecord struct {
	Version     string
	Topic       string
	Seq         int64
	PayloadHash string
	PrevHash    string
	CreatedAt   string
}

func (c chainRecord) CanonicalJSON() []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeKV(buf, "created_at", c.CreatedAt, false)
	writeKV(buf, "payload_hash", c.PayloadHash, false)
	writeKV(buf, "prev_hash", c.PrevHash, false)
	writeKVNumber(buf, "seq", c.Seq, false)
	writeKV(buf, "topic", c.Topic, false)
	writeKV(buf, "v", c.Version, true)
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeKV(buf *bytes.Buffer, key, value string, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	writeJSONString(buf, value)
	if !last {
		buf.WriteByte(',')
	}
}

func writeKVNumber(buf *bytes.Buffer, key string, value int64, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatInt(value, 10))
	if !last {
		buf.WriteByte(',')
	}
}

func writeJSONString(buf *bytes.Buffer, value string) {
	buf.WriteByte('"')
	for _, r := range value {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")

func sha256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
