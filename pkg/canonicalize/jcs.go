// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and the content fingerprints derived from it.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// FingerprintPrefix names the digest algorithm in a fingerprint string.
const FingerprintPrefix = "sha256:"

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshalled with encoding/json so struct tags are honoured; the
// transform then sorts keys, drops insignificant whitespace, undoes HTML
// escaping and formats numbers the ECMAScript way.
func JCS(v interface{}) ([]byte, error) {
	raw, ok := v.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
		}
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON representation of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes SHA-256 hash of raw bytes and returns hex string
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Fingerprint is the "sha256:<hex>" content fingerprint of v. It identifies
// content only; nothing chains fingerprints together.
func Fingerprint(v interface{}) (string, error) {
	h, err := CanonicalHash(v)
	if err != nil {
		return "", err
	}
	return FingerprintPrefix + h, nil
}
