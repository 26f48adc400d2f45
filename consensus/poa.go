package consensus

import (
	"crypto/rsa"
	"math/big"

	"github.com/pkg/errors"
	"github.com/toychain/toychain/model"
	"github.com/toychain/toychain/utils"
)

// ProofOfAuthority seals blocks with an RSA-PSS signature from a designated
// authority over the unsealed header. Every node verifies against the
// authority's public key; only the authority itself holds the signing key.
type ProofOfAuthority struct {
	// Authority is the public key seals are verified against.
	Authority *rsa.PublicKey

	signer *rsa.PrivateKey
}

// NewProofOfAuthority builds a verifying-only mechanism.
func NewProofOfAuthority(authority *rsa.PublicKey) *ProofOfAuthority {
	return &ProofOfAuthority{Authority: authority}
}

// NewAuthority builds a mechanism that can both seal and verify.
func NewAuthority(key *rsa.PrivateKey) *ProofOfAuthority {
	return &ProofOfAuthority{
		Authority: &key.PublicKey,
		signer:    key,
	}
}

// CalculateAppropriateTarget is fixed at zero; authority seals carry no
// difficulty.
func (p *ProofOfAuthority) CalculateAppropriateTarget() *big.Int {
	return big.NewInt(0)
}

// SealIsValid checks the seal data is a valid authority signature over the
// unsealed header.
func (p *ProofOfAuthority) SealIsValid(b *model.Block) bool {
	if p.Authority == nil || b.SealData == model.UnsealedData {
		return false
	}
	sig, err := utils.HexToBytes(b.SealData)
	if err != nil {
		return false
	}
	return utils.Verify([]byte(b.UnsealedHeader()), p.Authority, sig)
}

// GetWeight counts every sealed block equally.
func (p *ProofOfAuthority) GetWeight(b *model.Block) int64 {
	return 1
}

// Seal signs the block's unsealed header and installs the signature as seal
// data. Only mechanisms built with NewAuthority can seal.
func (p *ProofOfAuthority) Seal(b *model.Block) error {
	if p.signer == nil {
		return errors.New("mechanism has no signing key")
	}
	sig, err := utils.Sign([]byte(b.UnsealedHeader()), p.signer)
	if err != nil {
		return err
	}
	return b.SetSealData(utils.BytesToHex(sig))
}
