package node

import (
	"strconv"
	"strings"
	"sync"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/toychain/toychain/config"
	"github.com/toychain/toychain/metrics"
	"github.com/toychain/toychain/model"
	"github.com/toychain/toychain/network"
	"github.com/toychain/toychain/utils"
	"github.com/toychain/toychain/validation"
	"go.uber.org/zap"
)

// Event topics published on the node bus. Accepted events carry the block,
// rejected events carry the block and the rejection reason.
const (
	TopicBlockAccepted = "block:accepted"
	TopicBlockRejected = "block:rejected"
)

// A full node maintains the chain index, the pending transaction pool, and
// runs every candidate block through the validator before linking it.
type FullNode struct {
	// The chain index this node treats as authoritative.
	chain *model.Chain
	// Incoming transactions wait here until a block picks them up.
	txPool *model.TransactionPool
	// The consensus rule book.
	validator *validation.Validator
	// The seal mechanism new candidate blocks are built under.
	mech model.SealMechanism
	// Node event bus; see the Topic constants.
	bus EventBus.Bus
	// Optional peer transport. Nil for an isolated node.
	net network.Network

	cfg config.AppConfig
	log *zap.Logger
	// A single mutex guarding chain and pool mutation.
	m sync.RWMutex
	// Unique identifier of this node. Does not affect consensus.
	uuid string
}

// NewFullNode creates a node with an empty chain and pool. logger and m may
// be nil.
func NewFullNode(cfg config.AppConfig, mech model.SealMechanism, logger *zap.Logger, m *metrics.ValidationMetrics) *FullNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	chain := model.NewChain()
	return &FullNode{
		chain:     chain,
		txPool:    model.NewTransactionPool(),
		validator: validation.NewValidator(chain, logger, m),
		mech:      mech,
		bus:       EventBus.New(),
		cfg:       cfg,
		log:       logger,
		uuid:      uuid.NewV4().String(),
	}
}

// SetNetwork attaches a peer transport. Accepted blocks and admitted pool
// transactions are announced on it.
func (f *FullNode) SetNetwork(n network.Network) {
	f.m.Lock()
	defer f.m.Unlock()
	f.net = n
}

// ID returns the node's unique identifier.
func (f *FullNode) ID() string {
	return f.uuid
}

// Bus exposes the node event bus for subscribers.
func (f *FullNode) Bus() EventBus.Bus {
	return f.bus
}

// Chain exposes the chain index for read-only collaborators (the store, the
// show command). Mutation stays behind HandleNewBlock.
func (f *FullNode) Chain() *model.Chain {
	return f.chain
}

// Tip returns the current heaviest block, or nil before bootstrap.
func (f *FullNode) Tip() *model.Block {
	f.m.RLock()
	defer f.m.RUnlock()
	return f.chain.Tip
}

// Bootstrap creates, seals, and links the genesis block. seal is the
// producing collaborator: the miner's Mine or the authority's Seal. No-op
// when the chain already has blocks (restored from the store).
func (f *FullNode) Bootstrap(seal func(*model.Block) error) error {
	f.m.Lock()
	defer f.m.Unlock()
	if len(f.chain.Blocks) > 0 {
		return nil
	}
	genesis := model.NewBlock(f.mech, 0, nil, model.GenesisParentHash, true)
	if err := seal(genesis); err != nil {
		return errors.Wrap(err, "seal genesis")
	}
	if ok, reason := f.validator.Validate(genesis); !ok {
		return errors.Errorf("genesis rejected: %s", reason)
	}
	if err := f.chain.AddBlock(genesis); err != nil {
		return err
	}
	f.bus.Publish(TopicBlockAccepted, genesis)
	f.log.Info("genesis created", zap.String("hash", genesis.Hash))
	return nil
}

// AddTransactionToPool admits a pending transaction. Transactions that are
// malformed, already pending, or already included on the active chain are
// refused.
func (f *FullNode) AddTransactionToPool(tx *model.Transaction) error {
	f.m.Lock()
	defer f.m.Unlock()

	if !tx.IsValid() {
		return errors.New("malformed transaction, will not process")
	}
	if _, exist := f.txPool.TxPool[tx.Hash]; exist {
		return errors.New("existing transaction, will not process")
	}
	if f.onActiveChain(tx.Hash) {
		return errors.New("transaction already included, will not process")
	}
	f.txPool.TxPool[tx.Hash] = tx
	if f.net != nil && !f.net.BroadcastTransaction(tx) {
		f.log.Warn("transaction broadcast failed", zap.String("hash", tx.Hash))
	}
	return nil
}

// PoolSize returns the number of pending transactions.
func (f *FullNode) PoolSize() int {
	f.m.RLock()
	defer f.m.RUnlock()
	return len(f.txPool.TxPool)
}

// HandleNewBlock validates a received block and, if it passes every
// consensus check, links it into the chain and prunes its transactions from
// the pool. The rejection reason is wrapped into the returned error.
func (f *FullNode) HandleNewBlock(b *model.Block) error {
	f.m.Lock()
	defer f.m.Unlock()

	if ok, reason := f.validator.Validate(b); !ok {
		f.bus.Publish(TopicBlockRejected, b, reason)
		return errors.Errorf("block %s rejected: %s", b.Hash, reason)
	}
	if err := f.chain.AddBlock(b); err != nil {
		return err
	}
	for _, tx := range b.Txs {
		delete(f.txPool.TxPool, tx.Hash)
	}
	f.bus.Publish(TopicBlockAccepted, b)
	if f.net != nil && !f.net.BroadcastBlock(b) {
		f.log.Warn("block broadcast failed", zap.String("hash", b.Hash))
	}
	f.log.Info("block linked",
		zap.String("hash", b.Hash),
		zap.Int64("height", b.Height),
		zap.Int("txs", len(b.Txs)))
	return nil
}

// CreateCandidateBlock assembles an unsealed block template over the pending
// pool on top of the current tip. The caller seals it and hands it back
// through HandleNewBlock.
func (f *FullNode) CreateCandidateBlock() (*model.Block, error) {
	f.m.RLock()
	defer f.m.RUnlock()

	tip := f.chain.Tip
	if tip == nil {
		return nil, errors.New("no tip, bootstrap the chain first")
	}
	var txs []*model.Transaction
	for _, tx := range f.txPool.TxPool {
		if len(txs) == validation.MaxBlockTransactions {
			break
		}
		txs = append(txs, tx)
	}
	b := model.NewBlock(f.mech, tip.Height+1, txs, tip.Hash, false)
	if b.Timestamp < tip.Timestamp {
		// Local clock behind the tip's; a non-decreasing timestamp is a
		// consensus rule, so take the parent's.
		b.Timestamp = tip.Timestamp
		if err := b.SetSealData(model.UnsealedData); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Snapshot returns a read-consistent deep copy of the chain index, for
// validating independent candidates while this node keeps accepting blocks.
func (f *FullNode) Snapshot() (*model.Chain, error) {
	f.m.RLock()
	defer f.m.RUnlock()
	return f.chain.Snapshot()
}

// Describe renders the active chain from the tip down to the given depth.
func (f *FullNode) Describe(depth int) string {
	f.m.RLock()
	defer f.m.RUnlock()

	if f.chain.Tip == nil {
		return "<empty chain>"
	}
	var sb strings.Builder
	it := f.chain.Ancestors(f.chain.Tip.Hash)
	for b := it.Next(); b != nil && depth > 0; b, depth = it.Next(), depth-1 {
		sb.WriteString(b.Hash)
		sb.WriteString(" height=")
		sb.WriteString(strconv.FormatInt(b.Height, 10))
		sb.WriteString(" txs=")
		sb.WriteString(strconv.Itoa(len(b.Txs)))
		sb.WriteString("\n")
	}
	return sb.String()
}

// onActiveChain reports whether the transaction already sits in a block on
// the path from the tip to genesis.
func (f *FullNode) onActiveChain(txHash string) bool {
	containing := f.chain.BlocksContaining(txHash)
	if len(containing) == 0 || f.chain.Tip == nil {
		return false
	}
	var active []string
	it := f.chain.Ancestors(f.chain.Tip.Hash)
	for b := it.Next(); b != nil; b = it.Next() {
		active = append(active, b.Hash)
	}
	return utils.NonemptyIntersection(containing, active)
}
