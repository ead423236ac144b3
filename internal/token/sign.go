package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
)

// Signer computes and checks HMAC-SHA256 signatures with one shared secret.
//
// Signatures are exchanged as unpadded base64url text, the form they take in
// the third token segment.
type Signer struct {
	key []byte
}

// NewSigner copies key into a new Signer. An empty key is rejected.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k}, nil
}

// Sign returns the encoded signature of input. The same input and key
// always produce the same signature.
func (s *Signer) Sign(input string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(input))
	return base64URLEncode(h.Sum(nil))
}

// Verify reports whether candidate is the signature of input.
//
// The comparison runs in time that depends only on the operand lengths. A
// length mismatch returns false without comparing any bytes.
func (s *Signer) Verify(input, candidate string) bool {
	return constantTimeEqual(s.Sign(input), candidate)
}

func constantTimeEqual(expected, candidate string) bool {
	if len(expected) != len(candidate) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1
}
