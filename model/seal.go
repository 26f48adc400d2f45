package model

import "math/big"

// SealMechanism is the consensus rule a block is sealed under. A block holds
// a reference to its mechanism; it does not inherit from it. Implementations
// live in the consensus package (proof of work, proof of authority).
type SealMechanism interface {
	// SealIsValid reports whether the block's seal data satisfies the
	// mechanism's target-dependent predicate against the block header.
	SealIsValid(b *Block) bool
	// CalculateAppropriateTarget derives the target a new block under this
	// mechanism should be constructed with.
	CalculateAppropriateTarget() *big.Int
	// GetWeight gives the chain-weight contribution of a sealed block,
	// consumed by tip selection.
	GetWeight(b *Block) int64
}
