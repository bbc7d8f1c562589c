package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"math"
)

// CoinbaseIndex is the output index carried by the single input of a
// coinbase transaction. Combined with a zero previous hash it marks the
// input as spending nothing.
const CoinbaseIndex = math.MaxUint32

// OutPoint identifies a specific output of a prior transaction.
type OutPoint struct {
	TxID  Hash   `json:"txid"`
	Index uint32 `json:"index"`
}

// TxInput spends one previously created output.
type TxInput struct {
	PrevTxHash      Hash   `json:"prevTxHash"`
	PrevOutputIndex uint32 `json:"prevOutputIndex"`
	ScriptSig       []byte `json:"scriptSig"`
}

// OutPoint returns the outpoint this input spends.
func (in *TxInput) OutPoint() OutPoint {
	return OutPoint{TxID: in.PrevTxHash, Index: in.PrevOutputIndex}
}

// TxOutput creates new spendable value.
type TxOutput struct {
	Value        uint64 `json:"value"`
	ScriptPubKey []byte `json:"scriptPubKey"`
}

// Transaction is a transfer of value in the UTXO model.
type Transaction struct {
	Version  uint32      `json:"version"`
	Inputs   []*TxInput  `json:"inputs"`
	Outputs  []*TxOutput `json:"outputs"`
	LockTime uint64      `json:"lockTime"`
}

// NewCoinbaseTransaction creates the reward transaction for a block.
// The block height is folded into the input script so coinbase hashes
// stay unique across heights.
func NewCoinbaseTransaction(height uint64, reward uint64, scriptPubKey []byte) *Transaction {
	script := make([]byte, 8)
	binary.BigEndian.PutUint64(script, height)
	return &Transaction{
		Version: 1,
		Inputs: []*TxInput{{
			PrevTxHash:      ZeroHash,
			PrevOutputIndex: CoinbaseIndex,
			ScriptSig:       script,
		}},
		Outputs: []*TxOutput{{
			Value:        reward,
			ScriptPubKey: scriptPubKey,
		}},
	}
}

// Hash computes the transaction identifier using double SHA-256 over the
// canonical serialization.
func (tx *Transaction) Hash() Hash {
	data := tx.serializeCanonical()
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

func (tx *Transaction) serializeCanonical() []byte {
	var buf bytes.Buffer

	binary.Write(&buf, binary.BigEndian, tx.Version)
	binary.Write(&buf, binary.BigEndian, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf.Write(in.PrevTxHash[:])
		binary.Write(&buf, binary.BigEndian, in.PrevOutputIndex)
		buf.Write(in.ScriptSig)
	}
	binary.Write(&buf, binary.BigEndian, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		binary.Write(&buf, binary.BigEndian, out.Value)
		buf.Write(out.ScriptPubKey)
	}
	binary.Write(&buf, binary.BigEndian, tx.LockTime)

	return buf.Bytes()
}

// IsCoinbase reports whether this transaction mints the block reward: a
// single input spending the zero outpoint.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 &&
		tx.Inputs[0].PrevTxHash.IsZero() &&
		tx.Inputs[0].PrevOutputIndex == CoinbaseIndex
}

// Validate performs structural validation on the transaction.
func (tx *Transaction) Validate() error {
	if len(tx.Inputs) == 0 {
		return ErrMissingInputs
	}
	if len(tx.Outputs) == 0 {
		return ErrMissingOutputs
	}
	if tx.IsCoinbase() {
		return nil
	}
	seen := make(map[OutPoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if in.PrevTxHash.IsZero() {
			return ErrInvalidTransaction
		}
		op := in.OutPoint()
		if _, dup := seen[op]; dup {
			return ErrDoubleSpend
		}
		seen[op] = struct{}{}
	}
	return nil
}

// Serialize converts the transaction to JSON bytes.
func (tx *Transaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// DeserializeTransaction reconstructs a transaction from bytes.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Size returns the size of the serialized transaction in bytes.
func (tx *Transaction) Size() int {
	data, _ := tx.Serialize()
	return len(data)
}
