// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"
)

// checkScriptParses returns an error if the provided script fails to parse.
func checkScriptParses(scriptVersion uint16, script []byte) error {
	tokenizer := txscript.MakeScriptTokenizer(scriptVersion, script)
	for tokenizer.Next() {
		// Nothing to do.
	}
	return tokenizer.Err()
}

// isCanonicalPush returns true if the opcode is either not a push instruction
// or the data associated with the push instruction uses the smallest
// instruction to do the job.
func isCanonicalPush(opcode byte, data []byte) bool {
	dataLen := len(data)
	if opcode > txscript.OP_16 {
		return true
	}

	if opcode < txscript.OP_PUSHDATA1 && opcode > txscript.OP_0 &&
		(dataLen == 1 && data[0] <= 16) {
		return false
	}
	if opcode == txscript.OP_PUSHDATA1 && dataLen < txscript.OP_PUSHDATA1 {
		return false
	}
	if opcode == txscript.OP_PUSHDATA2 && dataLen <= 0xff {
		return false
	}
	if opcode == txscript.OP_PUSHDATA4 && dataLen <= 0xffff {
		return false
	}
	return true
}

// removeOpcodeByData returns the script minus any canonical data pushes of
// exactly the passed data.  The input is returned unchanged when nothing
// matches.
func removeOpcodeByData(script []byte, dataToRemove []byte) []byte {
	if len(script) == 0 || len(dataToRemove) == 0 {
		return script
	}

	var result []byte
	var prevOffset int32
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		op, data := tokenizer.Opcode(), tokenizer.Data()
		if isCanonicalPush(op, data) && bytes.Equal(data, dataToRemove) {
			if result == nil {
				fullPushLen := tokenizer.ByteIndex() - prevOffset
				result = make([]byte, 0, int32(len(script))-fullPushLen)
				result = append(result, script[0:prevOffset]...)
			}
		} else if result != nil {
			result = append(result, script[prevOffset:tokenizer.ByteIndex()]...)
		}

		prevOffset = tokenizer.ByteIndex()
	}
	if result == nil {
		result = script
	}
	return result
}

// singleWitnessProgramPush returns the witness program carried by a signature
// script made of exactly one canonical push of it, as used by P2SH-nested
// segwit outputs.
func singleWitnessProgramPush(sigScript []byte) ([]byte, bool) {
	tokenizer := txscript.MakeScriptTokenizer(0, sigScript)
	if !tokenizer.Next() {
		return nil, false
	}
	op, data := tokenizer.Opcode(), tokenizer.Data()
	if !tokenizer.Done() || tokenizer.Err() != nil {
		return nil, false
	}
	if op > txscript.OP_PUSHDATA4 || !isCanonicalPush(op, data) ||
		!txscript.IsWitnessProgram(data) {

		return nil, false
	}
	return data, true
}
