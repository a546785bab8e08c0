package sighash

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// TxSigHashes holds the BIP 143 midstate shared by every segwit v0 input of
// a transaction.  Computing it once avoids quadratic hashing when a
// transaction has many inputs.
type TxSigHashes struct {
	HashPrevOuts chainhash.Hash
	HashSequence chainhash.Hash
	HashOutputs  chainhash.Hash
}

// NewTxSigHashes computes the BIP 143 midstate for tx.
func NewTxSigHashes(tx *wire.MsgTx) *TxSigHashes {
	var prevOuts, sequences, outputs bytes.Buffer
	var b [4]byte
	for _, in := range tx.TxIn {
		prevOuts.Write(in.PreviousOutPoint.Hash[:])
		binary.LittleEndian.PutUint32(b[:], in.PreviousOutPoint.Index)
		prevOuts.Write(b[:])

		binary.LittleEndian.PutUint32(b[:], in.Sequence)
		sequences.Write(b[:])
	}
	for _, out := range tx.TxOut {
		// Writes to a bytes.Buffer cannot fail.
		_ = wire.WriteTxOut(&outputs, 0, 0, out)
	}

	return &TxSigHashes{
		HashPrevOuts: chainhash.DoubleHashH(prevOuts.Bytes()),
		HashSequence: chainhash.DoubleHashH(sequences.Bytes()),
		HashOutputs:  chainhash.DoubleHashH(outputs.Bytes()),
	}
}

// CalcWitnessSignatureHash computes the BIP 143 digest for the segwit v0
// input at idx spending an output worth amount.  scriptCode is the witness
// script for P2WSH spends.  For P2WPKH either the witness program itself or
// the equivalent pay-to-pubkey-hash script may be passed.  A nil hashes is
// computed on the fly.
func CalcWitnessSignatureHash(scriptCode []byte, hashes *TxSigHashes,
	hashType txscript.SigHashType, tx *wire.MsgTx, idx int,
	amount int64) ([]byte, error) {

	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, errors.Errorf("input index %d out of range for "+
			"transaction with %d inputs", idx, len(tx.TxIn))
	}
	if hashes == nil {
		hashes = NewTxSigHashes(tx)
	}

	baseType := hashType & sigHashMask
	anyoneCanPay := hashType&txscript.SigHashAnyOneCanPay != 0

	var (
		w        bytes.Buffer
		zeroHash chainhash.Hash
		b4       [4]byte
		b8       [8]byte
	)

	binary.LittleEndian.PutUint32(b4[:], uint32(tx.Version))
	w.Write(b4[:])

	if !anyoneCanPay {
		w.Write(hashes.HashPrevOuts[:])
	} else {
		w.Write(zeroHash[:])
	}

	if !anyoneCanPay && baseType != txscript.SigHashSingle &&
		baseType != txscript.SigHashNone {

		w.Write(hashes.HashSequence[:])
	} else {
		w.Write(zeroHash[:])
	}

	txIn := tx.TxIn[idx]
	w.Write(txIn.PreviousOutPoint.Hash[:])
	binary.LittleEndian.PutUint32(b4[:], txIn.PreviousOutPoint.Index)
	w.Write(b4[:])

	if err := wire.WriteVarBytes(&w, 0, witnessScriptCode(scriptCode)); err != nil {
		return nil, errors.Wrap(err, "unable to write script code")
	}

	binary.LittleEndian.PutUint64(b8[:], uint64(amount))
	w.Write(b8[:])
	binary.LittleEndian.PutUint32(b4[:], txIn.Sequence)
	w.Write(b4[:])

	switch {
	case baseType != txscript.SigHashSingle && baseType != txscript.SigHashNone:
		w.Write(hashes.HashOutputs[:])

	case baseType == txscript.SigHashSingle && idx < len(tx.TxOut):
		var out bytes.Buffer
		if err := wire.WriteTxOut(&out, 0, 0, tx.TxOut[idx]); err != nil {
			return nil, errors.Wrap(err, "unable to write output")
		}
		w.Write(chainhash.DoubleHashB(out.Bytes()))

	default:
		w.Write(zeroHash[:])
	}

	binary.LittleEndian.PutUint32(b4[:], tx.LockTime)
	w.Write(b4[:])
	binary.LittleEndian.PutUint32(b4[:], uint32(hashType))
	w.Write(b4[:])

	return chainhash.DoubleHashB(w.Bytes()), nil
}

// witnessScriptCode maps a P2WPKH witness program to the pay-to-pubkey-hash
// script it implies.  Any other script is returned as is.
func witnessScriptCode(script []byte) []byte {
	if len(script) != 22 || script[0] != txscript.OP_0 ||
		script[1] != txscript.OP_DATA_20 {

		return script
	}
	return PayToPubKeyHashScript(script[2:])
}

// PayToPubKeyHashScript returns the canonical pay-to-pubkey-hash script for
// the 20-byte hash.  It doubles as the BIP 143 script code of a P2WPKH input.
func PayToPubKeyHashScript(pubKeyHash []byte) []byte {
	script := make([]byte, 0, 25)
	script = append(script, txscript.OP_DUP, txscript.OP_HASH160,
		txscript.OP_DATA_20)
	script = append(script, pubKeyHash...)
	return append(script, txscript.OP_EQUALVERIFY, txscript.OP_CHECKSIG)
}
