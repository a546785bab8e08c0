// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sighash computes the digests committed to by transaction
// signatures, for the original transaction format and for segwit v0 inputs
// as described in BIP 143.
package sighash

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// sigHashMask is the mask applied to a hash type to obtain its base type,
// stripping the ANYONECANPAY modifier.
const sigHashMask = 0x1f

// CalcSignatureHash computes the legacy signature digest for the input at idx
// when it is spent with the given script code.  Every OP_CODESEPARATOR is
// removed from the script code before hashing.  The transaction passed in is
// never modified; the digest is computed over a transformed copy.
//
// A SIGHASH_SINGLE signature for an input with no matching output commits to
// the value one, which is what consensus has always done.
func CalcSignatureHash(script []byte, hashType txscript.SigHashType,
	tx *wire.MsgTx, idx int) ([]byte, error) {

	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, errors.Errorf("input index %d out of range for "+
			"transaction with %d inputs", idx, len(tx.TxIn))
	}
	if err := checkScriptParses(script); err != nil {
		return nil, errors.Wrap(err, "unable to parse script code")
	}

	if hashType&sigHashMask == txscript.SigHashSingle && idx >= len(tx.TxOut) {
		var hash chainhash.Hash
		hash[0] = 0x01
		return hash[:], nil
	}

	view := legacyView(tx, idx, removeCodeSeparators(script), hashType)

	buf := bytes.NewBuffer(make([]byte, 0, view.SerializeSizeStripped()+4))
	if err := view.SerializeNoWitness(buf); err != nil {
		return nil, errors.Wrap(err, "unable to serialize transaction")
	}
	var ht [4]byte
	binary.LittleEndian.PutUint32(ht[:], uint32(hashType))
	buf.Write(ht[:])

	return chainhash.DoubleHashB(buf.Bytes()), nil
}

// legacyView builds the transaction that a legacy signature of the given hash
// type commits to.  Inputs and outputs of the original are copied, never
// mutated, so the returned view can be serialized while other readers use tx.
func legacyView(tx *wire.MsgTx, idx int, scriptCode []byte,
	hashType txscript.SigHashType) *wire.MsgTx {

	baseType := hashType & sigHashMask
	view := &wire.MsgTx{
		Version:  tx.Version,
		LockTime: tx.LockTime,
	}

	inputs, signing := tx.TxIn, idx
	if hashType&txscript.SigHashAnyOneCanPay != 0 {
		inputs, signing = tx.TxIn[idx:idx+1], 0
	}
	view.TxIn = make([]*wire.TxIn, 0, len(inputs))
	for i, in := range inputs {
		txIn := &wire.TxIn{
			PreviousOutPoint: in.PreviousOutPoint,
			Sequence:         in.Sequence,
		}
		switch {
		case i == signing:
			txIn.SignatureScript = scriptCode
		case baseType == txscript.SigHashNone,
			baseType == txscript.SigHashSingle:
			txIn.Sequence = 0
		}
		view.TxIn = append(view.TxIn, txIn)
	}

	switch baseType {
	case txscript.SigHashNone:
		view.TxOut = []*wire.TxOut{}

	case txscript.SigHashSingle:
		view.TxOut = make([]*wire.TxOut, idx+1)
		for i := 0; i < idx; i++ {
			view.TxOut[i] = &wire.TxOut{Value: -1}
		}
		out := *tx.TxOut[idx]
		view.TxOut[idx] = &out

	default:
		// Unknown base types hash like SIGHASH_ALL.
		view.TxOut = make([]*wire.TxOut, len(tx.TxOut))
		copy(view.TxOut, tx.TxOut)
	}

	return view
}

// checkScriptParses returns an error if the provided script fails to parse.
func checkScriptParses(script []byte) error {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
	}
	return tokenizer.Err()
}

// removeCodeSeparators returns the script with every OP_CODESEPARATOR opcode
// removed.  The input is returned unchanged when it holds none.
func removeCodeSeparators(script []byte) []byte {
	var result []byte
	var prevOffset int32
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if tokenizer.Opcode() == txscript.OP_CODESEPARATOR {
			if result == nil {
				result = make([]byte, 0, len(script))
				result = append(result, script[:prevOffset]...)
			}
		} else if result != nil {
			result = append(result, script[prevOffset:tokenizer.ByteIndex()]...)
		}
		prevOffset = tokenizer.ByteIndex()
	}
	if result == nil {
		return script
	}
	return result
}
