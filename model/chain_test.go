package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLinkedGenesis(t *testing.T, chain *Chain, txs []*Transaction) *Block {
	t.Helper()
	g := NewBlock(testMechanism{}, 0, txs, GenesisParentHash, true)
	require.NoError(t, g.SetSealData("1"))
	require.NoError(t, chain.AddBlock(g))
	return g
}

func extendChain(t *testing.T, chain *Chain, parent *Block, txs []*Transaction) *Block {
	return extendChainSealed(t, chain, parent, txs, "1")
}

func extendChainSealed(t *testing.T, chain *Chain, parent *Block, txs []*Transaction, seal string) *Block {
	t.Helper()
	b := NewBlock(testMechanism{}, parent.Height+1, txs, parent.Hash, false)
	b.Timestamp = parent.Timestamp + 1
	require.NoError(t, b.SetSealData(seal))
	require.NoError(t, chain.AddBlock(b))
	return b
}

func TestAddBlockIndexes(t *testing.T) {
	chain := NewChain()
	mint := NewTransaction(nil, []Output{{Sender: "coinbase", Receiver: "alice", Value: 10}})
	genesis := newLinkedGenesis(t, chain, []*Transaction{mint})

	spend := NewTransaction([]string{MakeInputRef(mint.Hash, 0)}, []Output{
		{Sender: "alice", Receiver: "bob", Value: 10},
	})
	child := extendChain(t, chain, genesis, []*Transaction{spend})

	assert.Same(t, child, chain.GetBlock(child.Hash))
	assert.Same(t, mint, chain.GetTransaction(mint.Hash))
	assert.Same(t, spend, chain.GetTransaction(spend.Hash))
	assert.Equal(t, []string{genesis.Hash}, chain.BlocksContaining(mint.Hash))
	assert.Equal(t, []string{child.Hash}, chain.BlocksSpending(MakeInputRef(mint.Hash, 0)))
	assert.Nil(t, chain.GetBlock("missing"))
	assert.Nil(t, chain.GetTransaction("missing"))
}

func TestAddBlockRejections(t *testing.T) {
	chain := NewChain()
	genesis := newLinkedGenesis(t, chain, nil)

	assert.Error(t, chain.AddBlock(genesis))

	orphan := NewBlock(testMechanism{}, 1, nil, "unknown", false)
	require.NoError(t, orphan.SetSealData("1"))
	assert.Error(t, chain.AddBlock(orphan))
}

func TestAncestorIterator(t *testing.T) {
	chain := NewChain()
	genesis := newLinkedGenesis(t, chain, nil)
	b1 := extendChain(t, chain, genesis, nil)
	b2 := extendChain(t, chain, b1, nil)

	it := chain.Ancestors(b2.Hash)
	assert.Same(t, b2, it.Next())
	assert.Same(t, b1, it.Next())
	assert.Same(t, genesis, it.Next())
	assert.Nil(t, it.Next())
	// Exhausted iterators stay exhausted.
	assert.Nil(t, it.Next())

	// A fresh call restarts the walk.
	again := chain.Ancestors(b2.Hash)
	assert.Same(t, b2, again.Next())
}

func TestTipFollowsWeight(t *testing.T) {
	chain := NewChain()
	genesis := newLinkedGenesis(t, chain, nil)
	assert.Same(t, genesis, chain.Tip)

	left := extendChain(t, chain, genesis, nil)
	assert.Same(t, left, chain.Tip)

	// An equal-weight fork does not displace the tip. Different seal data
	// keeps the fork block's hash distinct.
	right := extendChainSealed(t, chain, genesis, nil, "2")
	assert.Same(t, left, chain.Tip)

	// A heavier descendant on the fork does.
	heavier := extendChain(t, chain, right, nil)
	assert.Same(t, heavier, chain.Tip)
}

func TestSnapshotIsolation(t *testing.T) {
	chain := NewChain()
	genesis := newLinkedGenesis(t, chain, nil)
	b1 := extendChain(t, chain, genesis, nil)

	snap, err := chain.Snapshot()
	require.NoError(t, err)

	// Growth of the original is invisible to the snapshot.
	extendChain(t, chain, b1, nil)
	assert.Len(t, snap.Blocks, 2)
	assert.Len(t, chain.Blocks, 3)
	assert.Equal(t, b1.Hash, snap.Tip.Hash)

	// Snapshot blocks are copies, not aliases.
	snap.Blocks[b1.Hash].Merkle = "mutated"
	assert.NotEqual(t, "mutated", chain.Blocks[b1.Hash].Merkle)
	assert.True(t, snap.Blocks[b1.Hash].Linked())
}
