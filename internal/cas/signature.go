package cas

import (
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"
)

var errSignatureLength = errors.New("signature must be 32 bytes")

// Signature is the deduplication key derived from a cooked descriptor's
// defining fields.
type Signature [32]byte

// String returns the hex form used in logs and the catalog.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// ParseSignature parses the hex form produced by String.
func ParseSignature(value string) (Signature, error) {
	var sig Signature
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return sig, err
	}
	if len(decoded) != len(sig) {
		return sig, errSignatureLength
	}
	copy(sig[:], decoded)
	return sig, nil
}

// SignatureBuilder accumulates a descriptor's defining fields into a
// deterministic digest. Field write order is part of the signature; callers
// must write fields in a fixed order.
type SignatureBuilder struct {
	hasher *blake3.Hasher
}

// NewSignatureBuilder returns an empty builder.
func NewSignatureBuilder() *SignatureBuilder {
	return &SignatureBuilder{hasher: blake3.New()}
}

// WriteString hashes a string field. The value is NFC-normalized first so
// signatures stay stable across platforms with differing path normalization.
func (b *SignatureBuilder) WriteString(value string) *SignatureBuilder {
	normalized := norm.NFC.String(value)
	b.writeLen(len(normalized))
	_, _ = b.hasher.WriteString(normalized)
	return b
}

// WriteBytes hashes a raw byte field.
func (b *SignatureBuilder) WriteBytes(value []byte) *SignatureBuilder {
	b.writeLen(len(value))
	_, _ = b.hasher.Write(value)
	return b
}

// WriteUint32 hashes a fixed-width integer field.
func (b *SignatureBuilder) WriteUint32(value uint32) *SignatureBuilder {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	_, _ = b.hasher.Write(buf[:])
	return b
}

// WriteUint64 hashes a fixed-width integer field.
func (b *SignatureBuilder) WriteUint64(value uint64) *SignatureBuilder {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	_, _ = b.hasher.Write(buf[:])
	return b
}

// WriteUint8 hashes a single byte field.
func (b *SignatureBuilder) WriteUint8(value byte) *SignatureBuilder {
	_, _ = b.hasher.Write([]byte{value})
	return b
}

func (b *SignatureBuilder) writeLen(n int) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n))
	_, _ = b.hasher.Write(buf[:])
}

// Sum finalizes the signature.
func (b *SignatureBuilder) Sum() Signature {
	var sig Signature
	sum := b.hasher.Sum(nil)
	copy(sig[:], sum)
	return sig
}

// HashPayload computes the content hash of a cooked payload's bytes. It is a
// pure function of the input.
func HashPayload(data []byte) [32]byte {
	return blake3.Sum256(data)
}
