package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Condition is the opaque value a hold is locked under.
type Condition []byte

// Fulfillment is the value that releases a hold locked under a matching
// condition.
type Fulfillment []byte

func (c Condition) Equal(other Condition) bool {
	return bytes.Equal(c, other)
}

func (c Condition) String() string {
	return hex.EncodeToString(c)
}

func (f Fulfillment) String() string {
	return hex.EncodeToString(f)
}

// ConditionVerifier checks a fulfillment against a condition.
type ConditionVerifier func(Condition, Fulfillment) bool

// SHA256Verifier accepts f when sha256(f) equals the condition.
func SHA256Verifier(c Condition, f Fulfillment) bool {
	if len(c) == 0 || len(f) == 0 {
		return false
	}
	sum := sha256.Sum256(f)
	return bytes.Equal(c, sum[:])
}

// ConditionFor derives the SHA-256 condition a fulfillment satisfies.
func ConditionFor(f Fulfillment) Condition {
	sum := sha256.Sum256(f)
	return Condition(sum[:])
}
