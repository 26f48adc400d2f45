package model

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/toychain/toychain/utils"
)

// GenesisParentHash is the parent reference carried by the chain root.
const GenesisParentHash = "genesis"

// UnsealedData is the seal placeholder a block template carries before the
// producing collaborator seals it.
const UnsealedData = "0"

// txSep joins transaction encodings in the full block representation.
const txSep = "!"

// ErrBlockLinked is returned when seal data is mutated on a block that has
// already been linked into a chain. This is a caller contract violation, not
// a block rejection.
var ErrBlockLinked = errors.New("block is already linked into a chain")

type Block struct {
	// Height of the block in the chain (# of blocks between block and genesis).
	Height int64
	// Ordered list of transactions in the block. Order commits to the Merkle root.
	Txs []*Transaction
	// Hash of the parent block, or "genesis" for the chain root.
	ParentHash string
	// Unix timestamp of block creation. Never decreases along a chain.
	Timestamp int64
	// Target for the block's seal to be valid. Mechanism specific, fixed at
	// construction.
	Target *big.Int
	// True only for the chain root.
	IsGenesis bool
	// Merkle commitment over Txs, re-verified on validation.
	Merkle string
	// Seal payload: PoW nonce in decimal or PoA signature in hex. "0" while
	// the block is an unsealed template.
	SealData string
	// Cached double hash of the full header. The cache is never trusted:
	// validation always recomputes and compares.
	Hash string
	// The consensus mechanism this block is sealed under.
	Mechanism SealMechanism

	// Set once the block enters a chain; guards against re-sealing.
	linked bool
}

// NewBlock creates an unsealed block template over the given transactions.
// The target comes from the mechanism, the Merkle root is computed, and the
// hash is stamped against the seal placeholder.
func NewBlock(mech SealMechanism, height int64, txs []*Transaction, parentHash string, isGenesis bool) *Block {
	b := &Block{
		Height:     height,
		Txs:        txs,
		ParentHash: parentHash,
		Timestamp:  time.Now().Unix(),
		IsGenesis:  isGenesis,
		SealData:   UnsealedData,
		Mechanism:  mech,
	}
	b.Target = mech.CalculateAppropriateTarget()
	b.Merkle = ComputeMerkleRoot(txs)
	b.Hash = b.ComputeHash()
	return b
}

// UnsealedHeader is the canonical encoding of the header fields that are
// fixed before sealing.
func (b *Block) UnsealedHeader() string {
	target := "0"
	if b.Target != nil {
		target = b.Target.String()
	}
	return utils.EncodeAsStr([]string{
		strconv.FormatInt(b.Height, 10),
		strconv.FormatInt(b.Timestamp, 10),
		target,
		b.ParentHash,
		strconv.FormatBool(b.IsGenesis),
		b.Merkle,
	}, utils.HeaderSep)
}

// Header is the full canonical header encoding, seal included. The block
// hash commits to exactly this string, byte for byte.
func (b *Block) Header() string {
	return utils.EncodeAsStr([]string{b.UnsealedHeader(), b.SealData}, utils.HeaderSep)
}

// ComputeHash returns the double hash of the full header.
func (b *Block) ComputeHash() string {
	return utils.Sha256TwoString(b.Header())
}

// SetSealData seals the block, recomputing the cached hash for the changed
// header. Calling it on a chain-linked block is a contract violation and
// returns ErrBlockLinked without mutating anything.
func (b *Block) SetSealData(sealData string) error {
	if b.linked {
		return ErrBlockLinked
	}
	b.SealData = sealData
	b.Hash = b.ComputeHash()
	return nil
}

// Linked reports whether the block has been linked into a chain.
func (b *Block) Linked() bool {
	return b.linked
}

// SealIsValid delegates to the block's mechanism.
func (b *Block) SealIsValid() bool {
	return b.Mechanism != nil && b.Mechanism.SealIsValid(b)
}

// ContainsTransaction reports whether some transaction in the block carries
// the given hash.
func (b *Block) ContainsTransaction(txHash string) bool {
	for _, tx := range b.Txs {
		if tx.Hash == txHash {
			return true
		}
	}
	return false
}

// ContainsInputRef reports whether any transaction in the block spends the
// given input reference.
func (b *Block) ContainsInputRef(inputRef string) bool {
	for _, tx := range b.Txs {
		for _, ref := range tx.InputRefs {
			if ref == inputRef {
				return true
			}
		}
	}
	return false
}

// String gives a full, unique representation of the block including all
// transactions, for debugging.
func (b *Block) String() string {
	txs := make([]string, len(b.Txs))
	for i, tx := range b.Txs {
		txs[i] = tx.String()
	}
	return utils.EncodeAsStr([]string{b.Header(), strings.Join(txs, txSep)}, utils.HeaderSep)
}
