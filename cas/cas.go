// Package cas provides content-addressing utilities: BLAKE3 digests,
// canonical JSON digests, and the streaming fingerprint hasher used by scene nodes.
package cas

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"

	"lukechampine.com/blake3"
)

// SignificantFingerprintDoubleDigits is the number of decimal digits kept
// when floating point values are fed into a fingerprint.
const SignificantFingerprintDoubleDigits = 2

// Canonical encodes v as JSON with object keys sorted at every level and
// no insignificant whitespace. Numbers keep their literal form, so large
// integers survive the round trip through the generic representation.
func Canonical(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalDigest returns the BLAKE3 hex digest of the canonical encoding
// of v together with the encoding itself.
func CanonicalDigest(v any) (string, []byte, error) {
	data, err := Canonical(v)
	if err != nil {
		return "", nil, err
	}
	return Blake3HashHex(data), data, nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')

	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')

	case json.Number:
		buf.WriteString(val.String())

	default:
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(data)
	}
	return nil
}

// Blake3Hash computes a BLAKE3 hash of the input and returns it as bytes.
func Blake3Hash(data []byte) []byte {
	hash := blake3.Sum256(data)
	return hash[:]
}

// Blake3HashHex computes a BLAKE3 hash and returns it as a hex string.
func Blake3HashHex(data []byte) string {
	return hex.EncodeToString(Blake3Hash(data))
}

// Hasher accumulates typed values into a BLAKE3 digest. Every value is
// framed (length-prefixed strings, fixed-width integers) so that adjacent
// values cannot run into each other.
type Hasher struct {
	h   *blake3.Hasher
	buf [8]byte
}

// NewHasher returns an empty fingerprint hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New(32, nil)}
}

// AddSize feeds an unsigned integer.
func (h *Hasher) AddSize(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	h.h.Write(h.buf[:])
}

// AddInt feeds a signed integer.
func (h *Hasher) AddInt(v int64) {
	h.AddSize(uint64(v))
}

// AddString feeds a length-prefixed string.
func (h *Hasher) AddString(s string) {
	h.AddSize(uint64(len(s)))
	h.h.Write([]byte(s))
}

// AddDouble feeds v rounded to the given number of decimal digits.
func (h *Hasher) AddDouble(v float64, significantDigits int) {
	h.AddInt(RoundToDigits(v, significantDigits))
}

// AddVector3 feeds the three components of v, each rounded.
func (h *Hasher) AddVector3(v [3]float64, significantDigits int) {
	for _, c := range v {
		h.AddDouble(c, significantDigits)
	}
}

// Sum returns the hex digest of everything added so far.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// RoundToDigits scales v by 10^digits and rounds to the nearest integer.
// Negative zero and tiny values collapse to 0.
func RoundToDigits(v float64, digits int) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int64(math.Round(v * math.Pow(10, float64(digits))))
}
