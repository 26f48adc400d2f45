package validation

import (
	"time"

	"github.com/toychain/toychain/metrics"
	"github.com/toychain/toychain/model"
	"go.uber.org/zap"
)

// MaxBlockTransactions caps how many transactions a single block may carry.
const MaxBlockTransactions = 900

// The closed set of validation outcomes. Downstream consumers match on these
// by value, so the strings are part of the protocol and must not change.
const (
	ReasonAllChecksPassed     = "All checks passed"
	ReasonBadMerkle           = "Merkle root failed to match"
	ReasonBadHash             = "Hash failed to match"
	ReasonTooManyTxs          = "Too many transactions"
	ReasonInvalidGenesis      = "Invalid genesis"
	ReasonNonexistentParent   = "Nonexistent parent"
	ReasonInvalidHeight       = "Invalid height"
	ReasonInvalidTimestamp    = "Invalid timestamp"
	ReasonInvalidSeal         = "Invalid seal"
	ReasonMalformedTx         = "Malformed transaction included"
	ReasonDoubleInclusion     = "Double transaction inclusion"
	ReasonOutputNotFound      = "Required output not found"
	ReasonDoubleSpend         = "Double-spent input"
	ReasonInputTxNotFound     = "Input transaction not found"
	ReasonUserInconsistencies = "User inconsistencies"
	ReasonCreatingMoney       = "Creating money"
)

// Validator decides whether a candidate block is admissible on top of the
// chain index it was built against. Validation is a pure read: it never
// mutates the block or the chain. The chain must be read-consistent for the
// duration of a call; hand the validator a Snapshot when blocks may be
// inserted concurrently.
type Validator struct {
	chain   *model.Chain
	log     *zap.Logger
	metrics *metrics.ValidationMetrics
}

// NewValidator builds a validator over the given chain index. logger and m
// may be nil.
func NewValidator(chain *model.Chain, logger *zap.Logger, m *metrics.ValidationMetrics) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{chain: chain, log: logger, metrics: m}
}

// Validate runs the ordered consensus checks against the block and returns
// whether it was accepted together with the first failing reason. Rule
// violations never surface as errors; the reason string is the verdict.
func (v *Validator) Validate(b *model.Block) (bool, string) {
	start := time.Now()
	accepted, reason := v.validate(b)
	v.metrics.ObserveValidation(accepted, reason, time.Since(start).Seconds())
	if accepted {
		v.log.Debug("block accepted",
			zap.String("hash", b.Hash),
			zap.Int64("height", b.Height),
			zap.Int("txs", len(b.Txs)))
	} else {
		v.log.Info("block rejected",
			zap.String("hash", b.Hash),
			zap.Int64("height", b.Height),
			zap.String("reason", reason))
	}
	return accepted, reason
}

func (v *Validator) validate(b *model.Block) (bool, string) {
	// Structural self-consistency first; these checks are cheap and never
	// touch the chain index.
	if model.ComputeMerkleRoot(b.Txs) != b.Merkle {
		return false, ReasonBadMerkle
	}
	if b.ComputeHash() != b.Hash {
		return false, ReasonBadHash
	}
	if len(b.Txs) > MaxBlockTransactions {
		return false, ReasonTooManyTxs
	}

	if b.IsGenesis {
		if b.Height != 0 || b.ParentHash != model.GenesisParentHash || !b.SealIsValid() {
			return false, ReasonInvalidGenesis
		}
		return true, ReasonAllChecksPassed
	}

	parent := v.chain.GetBlock(b.ParentHash)
	if parent == nil {
		return false, ReasonNonexistentParent
	}
	if b.Height != parent.Height+1 {
		return false, ReasonInvalidHeight
	}
	if b.Timestamp < parent.Timestamp {
		return false, ReasonInvalidTimestamp
	}
	if !b.SealIsValid() {
		return false, ReasonInvalidSeal
	}
	for _, tx := range b.Txs {
		if !tx.IsValid() {
			return false, ReasonMalformedTx
		}
	}

	// One (funding receiver, spending sender) user pair must govern the
	// whole block. This is the simplified stand-in for signature
	// authorization: the user the inputs were locked to must be the user
	// sending every output.
	blockSenders := make(map[string]struct{})
	blockInputReceivers := make(map[string]struct{})

	for _, tx := range b.Txs {
		if ok, reason := v.checkInclusion(b, tx); !ok {
			return false, reason
		}

		var totalInput int64
		for _, ref := range tx.InputRefs {
			value, receiver, ok, reason := v.resolveInput(b, ref)
			if !ok {
				return false, reason
			}
			totalInput += value
			blockInputReceivers[receiver] = struct{}{}

			if ok, reason := v.checkDoubleSpend(b, ref); !ok {
				return false, reason
			}
			if ok, reason := v.checkProvenance(b, ref); !ok {
				return false, reason
			}
		}

		for _, out := range tx.Outputs {
			blockSenders[out.Sender] = struct{}{}
		}
		if len(blockSenders) > 1 || len(blockInputReceivers) > 1 {
			return false, ReasonUserInconsistencies
		}
		if len(blockSenders) == 1 && len(blockInputReceivers) == 1 {
			var sender, receiver string
			for s := range blockSenders {
				sender = s
			}
			for r := range blockInputReceivers {
				receiver = r
			}
			if sender != receiver {
				return false, ReasonUserInconsistencies
			}
		}

		if totalInput < tx.TotalOutput() {
			return false, ReasonCreatingMoney
		}
	}

	return true, ReasonAllChecksPassed
}

// checkInclusion rejects a transaction that already sits in an ancestor
// block or appears more than once within the candidate itself.
func (v *Validator) checkInclusion(b *model.Block, tx *model.Transaction) (bool, string) {
	it := v.chain.Ancestors(b.ParentHash)
	for anc := it.Next(); anc != nil; anc = it.Next() {
		if anc.ContainsTransaction(tx.Hash) {
			return false, ReasonDoubleInclusion
		}
	}
	count := 0
	for _, other := range b.Txs {
		if other.Hash == tx.Hash {
			count++
		}
	}
	if count > 1 {
		return false, ReasonDoubleInclusion
	}
	return true, ""
}

// resolveInput looks the reference up globally, then within the candidate
// block, and bounds-checks the index against the referenced transaction's
// own outputs. An unresolvable reference and an out-of-range index are the
// same failure.
func (v *Validator) resolveInput(b *model.Block, ref string) (int64, string, bool, string) {
	refTxHash, index, err := model.ParseInputRef(ref)
	if err != nil {
		return 0, "", false, ReasonOutputNotFound
	}
	refTx := v.chain.GetTransaction(refTxHash)
	if refTx == nil {
		for _, local := range b.Txs {
			if local.Hash == refTxHash {
				refTx = local
				break
			}
		}
	}
	if refTx == nil {
		return 0, "", false, ReasonOutputNotFound
	}
	value, ok := refTx.OutputAt(index)
	if !ok {
		return 0, "", false, ReasonOutputNotFound
	}
	receiver, _ := refTx.ReceiverAt(index)
	return value, receiver, true, ""
}

// checkDoubleSpend rejects an input reference already spent by a non-genesis
// ancestor or spent more than once within the candidate block.
func (v *Validator) checkDoubleSpend(b *model.Block, ref string) (bool, string) {
	it := v.chain.Ancestors(b.ParentHash)
	for anc := it.Next(); anc != nil && !anc.IsGenesis; anc = it.Next() {
		if anc.ContainsInputRef(ref) {
			return false, ReasonDoubleSpend
		}
	}
	count := 0
	for _, other := range b.Txs {
		for _, r := range other.InputRefs {
			if r == ref {
				count++
			}
		}
	}
	if count > 1 {
		return false, ReasonDoubleSpend
	}
	return true, ""
}

// checkProvenance requires the referenced transaction to live in an ancestor
// block or inside the candidate block itself. Merely being known to the
// index is not enough; it has to sit on this chain.
func (v *Validator) checkProvenance(b *model.Block, ref string) (bool, string) {
	refTxHash, _, err := model.ParseInputRef(ref)
	if err != nil {
		return false, ReasonInputTxNotFound
	}
	it := v.chain.Ancestors(b.ParentHash)
	for anc := it.Next(); anc != nil; anc = it.Next() {
		if anc.ContainsTransaction(refTxHash) {
			return true, ""
		}
	}
	if b.ContainsTransaction(refTxHash) {
		return true, ""
	}
	return false, ReasonInputTxNotFound
}
