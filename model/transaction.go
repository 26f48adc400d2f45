package model

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/toychain/toychain/utils"
)

// outputSep joins the fields of a single output, listSep joins the elements
// of the input-ref and output lists inside a transaction encoding.
const (
	outputSep = "~"
	listSep   = ";"
)

type Output struct {
	// Identifier of the user this value is coming from.
	Sender string
	// Identifier of the user this value is locked to.
	Receiver string
	// How much value to transfer.
	Value int64
}

// String returns the canonical encoding of the output.
func (o Output) String() string {
	return utils.EncodeAsStr([]string{o.Sender, o.Receiver, strconv.FormatInt(o.Value, 10)}, outputSep)
}

type Transaction struct {
	// Hash of this transaction. We use this to uniquely identify the transaction.
	Hash string
	// References to prior outputs being consumed, each in "txhash:index" form.
	InputRefs []string
	// All outputs of this transaction.
	Outputs []Output
}

// NewTransaction builds a transaction and stamps its canonical hash.
func NewTransaction(inputRefs []string, outputs []Output) *Transaction {
	t := &Transaction{
		InputRefs: inputRefs,
		Outputs:   outputs,
	}
	t.Hash = t.ComputeHash()
	return t
}

// String returns the canonical encoding the transaction hash commits to.
func (t *Transaction) String() string {
	outs := make([]string, len(t.Outputs))
	for i, o := range t.Outputs {
		outs[i] = o.String()
	}
	return utils.EncodeAsStr([]string{
		strings.Join(t.InputRefs, listSep),
		strings.Join(outs, listSep),
	}, utils.HeaderSep)
}

// ComputeHash returns the double hash of the canonical encoding.
func (t *Transaction) ComputeHash() string {
	return utils.Sha256TwoString(t.String())
}

// IsValid checks that the transaction is well formed on its own: the stored
// hash matches a recomputation, every input ref parses, and no output carries
// a negative value. Chain-context rules (double spends, provenance,
// conservation) are the validator's job.
func (t *Transaction) IsValid() bool {
	if t.Hash != t.ComputeHash() {
		return false
	}
	for _, ref := range t.InputRefs {
		if _, _, err := ParseInputRef(ref); err != nil {
			return false
		}
	}
	for _, o := range t.Outputs {
		if o.Value < 0 {
			return false
		}
	}
	return true
}

// TotalOutput sums the value across all outputs.
func (t *Transaction) TotalOutput() int64 {
	var total int64
	for _, o := range t.Outputs {
		total += o.Value
	}
	return total
}

// OutputAt returns the value of the output at index, with ok=false when the
// index is out of range.
func (t *Transaction) OutputAt(index int) (int64, bool) {
	if index < 0 || index >= len(t.Outputs) {
		return 0, false
	}
	return t.Outputs[index].Value, true
}

// ReceiverAt returns the receiver of the output at index, with ok=false when
// the index is out of range.
func (t *Transaction) ReceiverAt(index int) (string, bool) {
	if index < 0 || index >= len(t.Outputs) {
		return "", false
	}
	return t.Outputs[index].Receiver, true
}

// MakeInputRef builds the "txhash:index" reference for an output.
func MakeInputRef(txHash string, index int) string {
	return txHash + ":" + strconv.Itoa(index)
}

// ParseInputRef splits a "txhash:index" reference into its components.
func ParseInputRef(ref string) (string, int, error) {
	parts := strings.Split(ref, ":")
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, errors.Errorf("malformed input ref %q", ref)
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, errors.Wrapf(err, "malformed input ref index %q", ref)
	}
	return parts[0], index, nil
}

type TransactionPool struct {
	// All pending transactions that haven't been checked into the chain.
	// Key is the transaction's hash, value is the transaction.
	TxPool map[string]*Transaction
}

// NewTransactionPool creates a new transaction pool with no transaction at all.
func NewTransactionPool() *TransactionPool {
	return &TransactionPool{
		TxPool: make(map[string]*Transaction),
	}
}
