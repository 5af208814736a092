// Package crypto provides the default cryptographic hash primitive used to
// satisfy the digest.Hasher collaborator contract. The calculator core never
// imports this package directly; it is wired in by callers that need a
// concrete hash function.
package crypto

import (
	"github.com/exochain/statedelta/digest"
	"golang.org/x/crypto/sha3"
)

// Keccak256 calculates the Keccak-256 hash of the given data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash calculates Keccak-256 and returns it as a digest.Hash.
func Keccak256Hash(data ...[]byte) digest.Hash {
	return digest.BytesToHash(Keccak256(data...))
}

// KeccakHasher implements digest.Hasher with Keccak-256.
type KeccakHasher struct{}

// Hash implements digest.Hasher.
func (KeccakHasher) Hash(data ...[]byte) digest.Hash {
	return Keccak256Hash(data...)
}
