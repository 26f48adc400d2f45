package consensus

import (
	"math/big"

	"github.com/toychain/toychain/model"
)

// hashBits is the size of the double-SHA256 digest a header hash encodes.
const hashBits = 256

// ProofOfWork seals blocks by nonce search: a seal is valid when the header
// hash, read as a 256-bit integer, falls below the block's target.
type ProofOfWork struct {
	// Difficulty is the number of leading zero bits required of a valid
	// header hash.
	Difficulty uint
}

func NewProofOfWork(difficulty uint) *ProofOfWork {
	return &ProofOfWork{Difficulty: difficulty}
}

// CalculateAppropriateTarget returns 2^(256-difficulty). The toy chain keeps
// difficulty fixed instead of retargeting on block times.
func (p *ProofOfWork) CalculateAppropriateTarget() *big.Int {
	if p.Difficulty >= hashBits {
		return big.NewInt(0)
	}
	return new(big.Int).Lsh(big.NewInt(1), hashBits-p.Difficulty)
}

// SealIsValid recomputes the header hash over the block's seal data and
// compares it against the block's own target. The cached hash field is not
// consulted.
func (p *ProofOfWork) SealIsValid(b *model.Block) bool {
	if b.Target == nil {
		return false
	}
	digest, ok := new(big.Int).SetString(b.ComputeHash(), 16)
	if !ok {
		return false
	}
	return digest.Cmp(b.Target) < 0
}

// GetWeight counts every sealed block equally.
func (p *ProofOfWork) GetWeight(b *model.Block) int64 {
	return 1
}
