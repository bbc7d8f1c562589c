package chain

import (
	"errors"
	"fmt"

	"github.com/helioscoin/helios-blockchain/internal/types"
)

// txValidationError carries the index of the transaction that failed
// contextual validation so the block can be marked with it.
type txValidationError struct {
	index int
	err   error
}

func (e *txValidationError) Error() string {
	return fmt.Sprintf("transaction %d: %v", e.index, e.err)
}

func (e *txValidationError) Unwrap() error { return e.err }

// applyBlockTransactions connects a block to the UTXO set: every input
// of every non-coinbase transaction must reference a live unspent
// output, which is consumed; every output becomes spendable. Processing
// is in transaction order, so a transaction may spend outputs created
// earlier in the same block.
//
// Called inside a storage transaction; any error leaves the set
// untouched once the caller rolls back.
func applyBlockTransactions(store Store, block *types.Block) error {
	for i, tx := range block.Transactions {
		txHash := tx.Hash()

		if !tx.IsCoinbase() {
			for _, in := range tx.Inputs {
				op := in.OutPoint()
				if _, err := store.GetUTXO(op); err != nil {
					if errors.Is(err, types.ErrUTXONotFound) {
						return &txValidationError{index: i, err: fmt.Errorf(
							"%w: %s:%d", types.ErrUTXONotFound, op.TxID.Short(), op.Index)}
					}
					return err
				}
				if err := store.DeleteUTXO(op); err != nil {
					return err
				}
			}
		}

		for idx, out := range tx.Outputs {
			op := types.OutPoint{TxID: txHash, Index: uint32(idx)}
			if err := store.PutUTXO(op, out); err != nil {
				return err
			}
		}
	}

	return nil
}

// reverseBlockTransactions disconnects a block from the UTXO set,
// exactly undoing applyBlockTransactions. Transactions are processed in
// reverse order so in-block spend chains unwind correctly: outputs the
// block created are removed (coinbase included), and every non-coinbase
// input is restored by locating the transaction that created it within
// the last lookback blocks.
//
// An input whose creating transaction cannot be found within the
// lookback window is unrecoverable; the error aborts the surrounding
// storage transaction.
func reverseBlockTransactions(store Store, block *types.Block, lookback uint64) error {
	for i := len(block.Transactions) - 1; i >= 0; i-- {
		tx := block.Transactions[i]
		txHash := tx.Hash()

		for idx := range tx.Outputs {
			op := types.OutPoint{TxID: txHash, Index: uint32(idx)}
			if err := store.DeleteUTXO(op); err != nil {
				return err
			}
		}

		if tx.IsCoinbase() {
			continue
		}

		for _, in := range tx.Inputs {
			op := in.OutPoint()
			out, err := findSpentOutput(store, block, op, lookback)
			if err != nil {
				return err
			}
			if err := store.PutUTXO(op, out); err != nil {
				return err
			}
		}
	}

	return nil
}

// findSpentOutput locates the output a disconnected input had consumed
// by scanning blocks backward from the disconnected block's parent, and
// the disconnected block itself for in-block spends.
func findSpentOutput(store Store, from *types.Block, op types.OutPoint, lookback uint64) (*types.TxOutput, error) {
	// In-block spend: the creating transaction is in the same block.
	for _, tx := range from.Transactions {
		if tx.Hash() == op.TxID {
			return outputAt(tx, op)
		}
	}

	cursor := from.Header.PrevBlockHash
	for i := uint64(0); i < lookback && !cursor.IsZero(); i++ {
		b, err := store.GetBlock(cursor)
		if err != nil {
			return nil, fmt.Errorf("failed to walk chain restoring %s:%d: %w",
				op.TxID.Short(), op.Index, err)
		}
		for _, tx := range b.Transactions {
			if tx.Hash() == op.TxID {
				return outputAt(tx, op)
			}
		}
		cursor = b.Header.PrevBlockHash
	}

	return nil, fmt.Errorf("unrecoverable spent output %s:%d: creating transaction not within %d blocks",
		op.TxID.Short(), op.Index, lookback)
}

func outputAt(tx *types.Transaction, op types.OutPoint) (*types.TxOutput, error) {
	if int(op.Index) >= len(tx.Outputs) {
		return nil, fmt.Errorf("output index %d out of range for transaction %s",
			op.Index, op.TxID.Short())
	}
	out := tx.Outputs[op.Index]
	return &types.TxOutput{Value: out.Value, ScriptPubKey: out.ScriptPubKey}, nil
}
