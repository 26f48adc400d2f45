package model

import (
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
)

// Chain is the authoritative index of every accepted block. Besides the
// hash->block mapping it keeps every transaction ever included on some chain
// and reverse indices from transaction hashes and input refs to the blocks
// carrying them. Forks are allowed: multiple blocks may share a parent, and
// the tip is the block with the largest cumulative seal weight.
//
// Chain performs no validation on its own; callers run the validator before
// AddBlock. It is not safe for concurrent use, ownership and locking belong
// to the node.
type Chain struct {
	// Mapping from block hash to block.
	Blocks map[string]*Block
	// Every transaction included in any accepted block, by hash.
	AllTransactions map[string]*Transaction
	// Reverse index: transaction hash -> hashes of blocks containing it.
	BlocksContainingTx map[string][]string
	// Reverse index: input ref -> hashes of blocks spending it.
	BlocksSpendingInput map[string][]string
	// Cumulative seal weight per block hash.
	Weights map[string]int64
	// The heaviest block; new candidates are built on top of it.
	Tip *Block
}

func NewChain() *Chain {
	return &Chain{
		Blocks:              make(map[string]*Block),
		AllTransactions:     make(map[string]*Transaction),
		BlocksContainingTx:  make(map[string][]string),
		BlocksSpendingInput: make(map[string][]string),
		Weights:             make(map[string]int64),
	}
}

// GetBlock returns the block with the given hash, or nil when absent.
func (c *Chain) GetBlock(hash string) *Block {
	return c.Blocks[hash]
}

// GetTransaction returns the transaction with the given hash from any
// accepted block, or nil when absent.
func (c *Chain) GetTransaction(hash string) *Transaction {
	return c.AllTransactions[hash]
}

// AddBlock links an already-validated block into the chain, marks it sealed
// forever, and maintains every index. Non-genesis blocks must extend a known
// parent.
func (c *Chain) AddBlock(b *Block) error {
	if _, ok := c.Blocks[b.Hash]; ok {
		return errors.Errorf("block %s already in chain", b.Hash)
	}
	var parentWeight int64
	if !b.IsGenesis {
		parent, ok := c.Blocks[b.ParentHash]
		if !ok {
			return errors.Errorf("parent %s not in chain", b.ParentHash)
		}
		parentWeight = c.Weights[parent.Hash]
	}

	b.linked = true
	c.Blocks[b.Hash] = b
	for _, tx := range b.Txs {
		c.AllTransactions[tx.Hash] = tx
		c.BlocksContainingTx[tx.Hash] = append(c.BlocksContainingTx[tx.Hash], b.Hash)
		for _, ref := range tx.InputRefs {
			c.BlocksSpendingInput[ref] = append(c.BlocksSpendingInput[ref], b.Hash)
		}
	}

	weight := int64(1)
	if b.Mechanism != nil {
		weight = b.Mechanism.GetWeight(b)
	}
	c.Weights[b.Hash] = parentWeight + weight
	if c.Tip == nil || c.Weights[b.Hash] > c.Weights[c.Tip.Hash] {
		c.Tip = b
	}
	return nil
}

// BlocksContaining returns the hashes of blocks that include the transaction.
func (c *Chain) BlocksContaining(txHash string) []string {
	return c.BlocksContainingTx[txHash]
}

// BlocksSpending returns the hashes of blocks that spend the input ref.
func (c *Chain) BlocksSpending(inputRef string) []string {
	return c.BlocksSpendingInput[inputRef]
}

// AncestorIterator lazily walks a chain from a start block to genesis. Each
// Ancestors call yields a fresh iterator, so multiple checks can each walk
// the ancestry without re-deriving it by hand.
type AncestorIterator struct {
	chain *Chain
	next  string
}

// Ancestors returns an iterator positioned at the block with startHash. The
// iterator ends after the genesis block or at the first unknown parent.
func (c *Chain) Ancestors(startHash string) *AncestorIterator {
	return &AncestorIterator{chain: c, next: startHash}
}

// Next returns the next ancestor, or nil once the walk is exhausted.
func (it *AncestorIterator) Next() *Block {
	b, ok := it.chain.Blocks[it.next]
	if !ok {
		return nil
	}
	it.next = b.ParentHash
	return b
}

// Snapshot returns a deep copy of the chain for read-consistent validation
// while the original keeps accepting blocks.
func (c *Chain) Snapshot() (*Chain, error) {
	snap := NewChain()
	if err := copier.CopyWithOption(snap, c, copier.Option{DeepCopy: true}); err != nil {
		return nil, errors.Wrap(err, "snapshot chain")
	}
	// Mechanisms and the linked flag do not survive the generic deep copy;
	// restore them from the source blocks.
	for hash, b := range snap.Blocks {
		b.linked = true
		if orig := c.Blocks[hash]; orig != nil {
			b.Mechanism = orig.Mechanism
		}
	}
	if c.Tip != nil {
		snap.Tip = snap.Blocks[c.Tip.Hash]
	}
	return snap, nil
}
