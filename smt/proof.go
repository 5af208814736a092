package smt

import (
	"errors"

	"github.com/exochain/statedelta/digest"
)

// ErrProof is returned when batch_update needs to descend into a subtree it
// does not have resident and the proof reader has nothing for that key.
var ErrProof = errors.New("smt: proof reader has no proof for key")

// ProofReader is the collaborator that materializes subtrees batch_update
// has not loaded in memory. It is expected to be read-only and backed by
// data already resident in memory for the duration of one calculation; the
// calculator never fetches proofs from durable storage itself.
type ProofReader interface {
	// Get returns the leaf currently occupying keyHash's position in a
	// subtree the caller only holds by hash, or ok=false if the proof
	// reader cannot account for keyHash at all.
	//
	// occupant == nil with ok == true means the proof attests the key is
	// absent. A non-nil occupant may name a different key than keyHash:
	// the sparse tree may hold exactly one other key anywhere beneath the
	// stub subtree's root, and that is the one the proof identifies.
	Get(keyHash digest.Hash) (occupant *ProofLeaf, ok bool)
}

// ProofLeaf identifies the single leaf occupying a subtree a proof reader
// was asked about, by key hash and value hash (not raw value bytes, which
// the proof reader's caller never needs structurally).
type ProofLeaf struct {
	KeyHash   digest.Hash
	ValueHash digest.Hash
}

// MapProofReader is an in-memory ProofReader backed by a fixed map, suitable
// for tests and for small batches where the full set of relevant proofs was
// already fetched by the executor ahead of the calculation.
type MapProofReader map[digest.Hash]*ProofLeaf

// Get implements ProofReader.
func (m MapProofReader) Get(keyHash digest.Hash) (*ProofLeaf, bool) {
	leaf, ok := m[keyHash]
	return leaf, ok
}
