package engine

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/ArkLabsHQ/scriptsolver/pkg/sighash"
)

// defaultSigCacheSize bounds the signature cache of a CheckSolution call.
const defaultSigCacheSize = 100

// CheckSolution executes the solution carried by input txIdx of tx against
// the output it spends, as returned by prevOuts, using StandardVerifyFlags.
// It returns nil when the input is validly unlocked and a *ScriptError
// otherwise.
func CheckSolution(tx *wire.MsgTx, txIdx int,
	prevOuts txscript.PrevOutputFetcher) error {

	return CheckSolutionWithFlags(tx, txIdx, prevOuts, StandardVerifyFlags)
}

// CheckSolutionWithFlags is CheckSolution with caller supplied script flags.
func CheckSolutionWithFlags(tx *wire.MsgTx, txIdx int,
	prevOuts txscript.PrevOutputFetcher, flags ScriptFlags) error {

	if txIdx < 0 || txIdx >= len(tx.TxIn) {
		str := fmt.Sprintf("transaction input index %d is negative or "+
			">= %d", txIdx, len(tx.TxIn))
		return positionError(scriptError(txscript.ErrInvalidIndex, str), -1, -1)
	}

	prevOut := prevOuts.FetchPrevOutput(tx.TxIn[txIdx].PreviousOutPoint)
	if prevOut == nil {
		str := fmt.Sprintf("previous output %v of input %d is unknown",
			tx.TxIn[txIdx].PreviousOutPoint, txIdx)
		return positionError(scriptError(txscript.ErrInvalidIndex, str), -1, -1)
	}

	vm, err := NewEngine(
		prevOut.PkScript, tx, txIdx, flags,
		txscript.NewSigCache(defaultSigCacheSize),
		sighash.NewTxSigHashes(tx), prevOut.Value,
	)
	if err != nil {
		return positionError(err, -1, -1)
	}

	if err := vm.Execute(); err != nil {
		log.Debugf("input %d failed verification: %v", txIdx, err)
		return err
	}
	return nil
}
