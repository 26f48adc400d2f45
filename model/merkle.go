package model

import "github.com/toychain/toychain/utils"

// ComputeMerkleRoot builds the recursive commitment over an ordered
// transaction list. The empty list roots to the double hash of the empty
// string, a single transaction roots to its own hash, and longer lists split
// into floor(n/2)/ceil(n/2) halves whose hex roots are concatenated and
// double-hashed. The asymmetric split is part of the wire contract, so it
// must not be changed to a padded balanced tree.
func ComputeMerkleRoot(txs []*Transaction) string {
	switch len(txs) {
	case 0:
		return utils.Sha256TwoString("")
	case 1:
		return utils.Sha256TwoString(txs[0].String())
	default:
		mid := len(txs) / 2
		left := ComputeMerkleRoot(txs[:mid])
		right := ComputeMerkleRoot(txs[mid:])
		return utils.Sha256TwoString(left + right)
	}
}
