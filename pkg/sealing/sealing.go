// Package sealing provides the reversible transform applied to sensitive field
// values before they reach the store. The contract is reversibility plus
// integrity-failure signaling; it is NOT encryption. Deployments that need
// confidentiality substitute an AEAD-backed Codec at construction time.
package sealing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	dErrors "datavault/pkg/domain-errors"
)

// Codec seals plaintext values for storage and opens them on the way out.
// Open must fail when the stored value has been tampered with or truncated.
type Codec interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// checksumCodec is the default Codec: base64 payload with a SHA-256 checksum.
// The checksum is what turns silent corruption into an integrity error.
type checksumCodec struct{}

// NewChecksumCodec returns the default reversible codec.
func NewChecksumCodec() Codec {
	return checksumCodec{}
}

const sealedSeparator = "."

func (checksumCodec) Seal(plaintext string) (string, error) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(plaintext))
	sum := sha256.Sum256([]byte(plaintext))
	digest := base64.RawURLEncoding.EncodeToString(sum[:])
	return payload + sealedSeparator + digest, nil
}

func (checksumCodec) Open(sealed string) (string, error) {
	payload, digest, ok := strings.Cut(sealed, sealedSeparator)
	if !ok {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "sealed value is malformed")
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "sealed value is malformed")
	}
	want, err := base64.RawURLEncoding.DecodeString(digest)
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "sealed value is malformed")
	}
	sum := sha256.Sum256(raw)
	if subtle.ConstantTimeCompare(sum[:], want) != 1 {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "sealed value failed integrity check")
	}
	return string(raw), nil
}
