package network

import "github.com/toychain/toychain/model"

// Network is the seam to the peer-networking collaborator. The validation
// core never talks to the wire itself; a node plugs in whatever transport it
// runs on.
type Network interface {
	// BroadcastBlock announces a sealed block to peers. On successful send,
	// return true.
	BroadcastBlock(b *model.Block) bool
	// BroadcastTransaction announces a pending transaction to peers.
	BroadcastTransaction(tx *model.Transaction) bool
	// Listen returns the next block or transaction heard from the network.
	Listen() interface{}
}
