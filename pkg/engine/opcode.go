// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/crypto/ripemd160"
)

// An opcode defines the information related to a txscript opcode.  opfunc, if
// present, is the function to call to perform the opcode on the script.
// length is 1 for opcodes without data, the full size for fixed size data
// pushes, and the negated width of the length prefix for OP_PUSHDATA1/2/4.
type opcode struct {
	value  byte
	name   string
	length int
	opfunc func(*opcode, []byte, *Engine) error
}

type opcodeDef struct {
	name   string
	opfunc func(*opcode, []byte, *Engine) error
}

// opcodeDefs names every non-push opcode and binds it to its handler.
// Opcodes absent from this table are unassigned and invalid.
var opcodeDefs = map[byte]opcodeDef{
	txscript.OP_0:         {"OP_0", opcodeFalse},
	txscript.OP_PUSHDATA1: {"OP_PUSHDATA1", opcodePushData},
	txscript.OP_PUSHDATA2: {"OP_PUSHDATA2", opcodePushData},
	txscript.OP_PUSHDATA4: {"OP_PUSHDATA4", opcodePushData},
	txscript.OP_1NEGATE:   {"OP_1NEGATE", opcode1Negate},
	txscript.OP_RESERVED:  {"OP_RESERVED", opcodeReserved},

	// Control opcodes.
	txscript.OP_NOP:      {"OP_NOP", opcodeNop},
	txscript.OP_VER:      {"OP_VER", opcodeReserved},
	txscript.OP_IF:       {"OP_IF", opcodeIf},
	txscript.OP_NOTIF:    {"OP_NOTIF", opcodeNotIf},
	txscript.OP_VERIF:    {"OP_VERIF", opcodeReserved},
	txscript.OP_VERNOTIF: {"OP_VERNOTIF", opcodeReserved},
	txscript.OP_ELSE:     {"OP_ELSE", opcodeElse},
	txscript.OP_ENDIF:    {"OP_ENDIF", opcodeEndif},
	txscript.OP_VERIFY:   {"OP_VERIFY", opcodeVerify},
	txscript.OP_RETURN:   {"OP_RETURN", opcodeReturn},

	// Stack opcodes.
	txscript.OP_TOALTSTACK:   {"OP_TOALTSTACK", opcodeToAltStack},
	txscript.OP_FROMALTSTACK: {"OP_FROMALTSTACK", opcodeFromAltStack},
	txscript.OP_2DROP:        {"OP_2DROP", opcode2Drop},
	txscript.OP_2DUP:         {"OP_2DUP", opcode2Dup},
	txscript.OP_3DUP:         {"OP_3DUP", opcode3Dup},
	txscript.OP_2OVER:        {"OP_2OVER", opcode2Over},
	txscript.OP_2ROT:         {"OP_2ROT", opcode2Rot},
	txscript.OP_2SWAP:        {"OP_2SWAP", opcode2Swap},
	txscript.OP_IFDUP:        {"OP_IFDUP", opcodeIfDup},
	txscript.OP_DEPTH:        {"OP_DEPTH", opcodeDepth},
	txscript.OP_DROP:         {"OP_DROP", opcodeDrop},
	txscript.OP_DUP:          {"OP_DUP", opcodeDup},
	txscript.OP_NIP:          {"OP_NIP", opcodeNip},
	txscript.OP_OVER:         {"OP_OVER", opcodeOver},
	txscript.OP_PICK:         {"OP_PICK", opcodePick},
	txscript.OP_ROLL:         {"OP_ROLL", opcodeRoll},
	txscript.OP_ROT:          {"OP_ROT", opcodeRot},
	txscript.OP_SWAP:         {"OP_SWAP", opcodeSwap},
	txscript.OP_TUCK:         {"OP_TUCK", opcodeTuck},

	// Splice opcodes.
	txscript.OP_CAT:    {"OP_CAT", opcodeDisabled},
	txscript.OP_SUBSTR: {"OP_SUBSTR", opcodeDisabled},
	txscript.OP_LEFT:   {"OP_LEFT", opcodeDisabled},
	txscript.OP_RIGHT:  {"OP_RIGHT", opcodeDisabled},
	txscript.OP_SIZE:   {"OP_SIZE", opcodeSize},

	// Bitwise logic opcodes.
	txscript.OP_INVERT:      {"OP_INVERT", opcodeDisabled},
	txscript.OP_AND:         {"OP_AND", opcodeDisabled},
	txscript.OP_OR:          {"OP_OR", opcodeDisabled},
	txscript.OP_XOR:         {"OP_XOR", opcodeDisabled},
	txscript.OP_EQUAL:       {"OP_EQUAL", opcodeEqual},
	txscript.OP_EQUALVERIFY: {"OP_EQUALVERIFY", opcodeEqualVerify},
	txscript.OP_RESERVED1:   {"OP_RESERVED1", opcodeReserved},
	txscript.OP_RESERVED2:   {"OP_RESERVED2", opcodeReserved},

	// Numeric related opcodes.
	txscript.OP_1ADD:               {"OP_1ADD", opcode1Add},
	txscript.OP_1SUB:               {"OP_1SUB", opcode1Sub},
	txscript.OP_2MUL:               {"OP_2MUL", opcodeDisabled},
	txscript.OP_2DIV:               {"OP_2DIV", opcodeDisabled},
	txscript.OP_NEGATE:             {"OP_NEGATE", opcodeNegate},
	txscript.OP_ABS:                {"OP_ABS", opcodeAbs},
	txscript.OP_NOT:                {"OP_NOT", opcodeNot},
	txscript.OP_0NOTEQUAL:          {"OP_0NOTEQUAL", opcode0NotEqual},
	txscript.OP_ADD:                {"OP_ADD", opcodeAdd},
	txscript.OP_SUB:                {"OP_SUB", opcodeSub},
	txscript.OP_MUL:                {"OP_MUL", opcodeDisabled},
	txscript.OP_DIV:                {"OP_DIV", opcodeDisabled},
	txscript.OP_MOD:                {"OP_MOD", opcodeDisabled},
	txscript.OP_LSHIFT:             {"OP_LSHIFT", opcodeDisabled},
	txscript.OP_RSHIFT:             {"OP_RSHIFT", opcodeDisabled},
	txscript.OP_BOOLAND:            {"OP_BOOLAND", opcodeBoolAnd},
	txscript.OP_BOOLOR:             {"OP_BOOLOR", opcodeBoolOr},
	txscript.OP_NUMEQUAL:           {"OP_NUMEQUAL", opcodeNumEqual},
	txscript.OP_NUMEQUALVERIFY:     {"OP_NUMEQUALVERIFY", opcodeNumEqualVerify},
	txscript.OP_NUMNOTEQUAL:        {"OP_NUMNOTEQUAL", opcodeNumNotEqual},
	txscript.OP_LESSTHAN:           {"OP_LESSTHAN", opcodeLessThan},
	txscript.OP_GREATERTHAN:        {"OP_GREATERTHAN", opcodeGreaterThan},
	txscript.OP_LESSTHANOREQUAL:    {"OP_LESSTHANOREQUAL", opcodeLessThanOrEqual},
	txscript.OP_GREATERTHANOREQUAL: {"OP_GREATERTHANOREQUAL", opcodeGreaterThanOrEqual},
	txscript.OP_MIN:                {"OP_MIN", opcodeMin},
	txscript.OP_MAX:                {"OP_MAX", opcodeMax},
	txscript.OP_WITHIN:             {"OP_WITHIN", opcodeWithin},

	// Crypto opcodes.
	txscript.OP_RIPEMD160:           {"OP_RIPEMD160", opcodeRipemd160},
	txscript.OP_SHA1:                {"OP_SHA1", opcodeSha1},
	txscript.OP_SHA256:              {"OP_SHA256", opcodeSha256},
	txscript.OP_HASH160:             {"OP_HASH160", opcodeHash160},
	txscript.OP_HASH256:             {"OP_HASH256", opcodeHash256},
	txscript.OP_CODESEPARATOR:       {"OP_CODESEPARATOR", opcodeCodeSeparator},
	txscript.OP_CHECKSIG:            {"OP_CHECKSIG", opcodeCheckSig},
	txscript.OP_CHECKSIGVERIFY:      {"OP_CHECKSIGVERIFY", opcodeCheckSigVerify},
	txscript.OP_CHECKMULTISIG:       {"OP_CHECKMULTISIG", opcodeCheckMultiSig},
	txscript.OP_CHECKMULTISIGVERIFY: {"OP_CHECKMULTISIGVERIFY", opcodeCheckMultiSigVerify},

	// Reserved opcodes.
	txscript.OP_NOP1:                {"OP_NOP1", opcodeNop},
	txscript.OP_CHECKLOCKTIMEVERIFY: {"OP_CHECKLOCKTIMEVERIFY", opcodeCheckLockTimeVerify},
	txscript.OP_CHECKSEQUENCEVERIFY: {"OP_CHECKSEQUENCEVERIFY", opcodeCheckSequenceVerify},
	txscript.OP_NOP4:                {"OP_NOP4", opcodeNop},
	txscript.OP_NOP5:                {"OP_NOP5", opcodeNop},
	txscript.OP_NOP6:                {"OP_NOP6", opcodeNop},
	txscript.OP_NOP7:                {"OP_NOP7", opcodeNop},
	txscript.OP_NOP8:                {"OP_NOP8", opcodeNop},
	txscript.OP_NOP9:                {"OP_NOP9", opcodeNop},
	txscript.OP_NOP10:               {"OP_NOP10", opcodeNop},

	// Tapscript only, invalid in the script versions this engine runs.
	txscript.OP_CHECKSIGADD: {"OP_CHECKSIGADD", opcodeInvalid},

	txscript.OP_INVALIDOPCODE: {"OP_INVALIDOPCODE", opcodeInvalid},
}

// opcodeArray holds details about all possible opcodes such as how many bytes
// the opcode and any associated data should take, its human-readable name, and
// the handler function.
var opcodeArray [256]opcode

func init() {
	for i := range opcodeArray {
		op := byte(i)
		entry := opcode{
			value:  op,
			name:   fmt.Sprintf("OP_UNKNOWN%d", i),
			length: 1,
			opfunc: opcodeInvalid,
		}

		switch {
		case op >= txscript.OP_DATA_1 && op <= txscript.OP_DATA_75:
			entry.name = fmt.Sprintf("OP_DATA_%d", i)
			entry.length = i + 1
			entry.opfunc = opcodePushData

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			entry.name = fmt.Sprintf("OP_%d", i-(txscript.OP_1-1))
			entry.opfunc = opcodeN

		default:
			if def, ok := opcodeDefs[op]; ok {
				entry.name, entry.opfunc = def.name, def.opfunc
			}
		}

		switch op {
		case txscript.OP_PUSHDATA1:
			entry.length = -1
		case txscript.OP_PUSHDATA2:
			entry.length = -2
		case txscript.OP_PUSHDATA4:
			entry.length = -4
		}

		opcodeArray[i] = entry
	}
}

// OpcodeName returns the human-readable name of an opcode.
func OpcodeName(op byte) string {
	return opcodeArray[op].name
}

// opcodeOnelineRepls defines opcode names which are replaced when doing a
// one-line disassembly.
var opcodeOnelineRepls = map[string]string{
	"OP_1NEGATE": "-1",
	"OP_0":       "0",
}

func init() {
	for i := 1; i <= 16; i++ {
		opcodeOnelineRepls[fmt.Sprintf("OP_%d", i)] = fmt.Sprintf("%d", i)
	}
}

// disasmOpcode writes a human-readable disassembly of the provided opcode and
// data into the provided buffer.  The compact flag prints small integers as
// numbers and data pushes as bare hex.
func disasmOpcode(buf *strings.Builder, op *opcode, data []byte, compact bool) {
	opcodeName := op.name
	if compact {
		if replName, ok := opcodeOnelineRepls[opcodeName]; ok {
			opcodeName = replName
		}

		if op.length == 1 {
			buf.WriteString(opcodeName)
		} else {
			buf.WriteString(hex.EncodeToString(data))
		}
		return
	}

	buf.WriteString(opcodeName)

	switch op.length {
	// Only write the opcode name for non-data push opcodes.
	case 1:
		return

	// Add length for the OP_PUSHDATA# opcodes.
	case -1:
		buf.WriteString(fmt.Sprintf(" 0x%02x", len(data)))
	case -2:
		buf.WriteString(fmt.Sprintf(" 0x%04x", len(data)))
	case -4:
		buf.WriteString(fmt.Sprintf(" 0x%08x", len(data)))
	}

	buf.WriteString(fmt.Sprintf(" 0x%02x", data))
}

// DisasmString formats a disassembled script for one line printing.  When the
// script fails to parse, the returned string contains the disassembled script
// up to the point the failure occurred along with the string '[error]'
// appended.
func DisasmString(script []byte) (string, error) {
	var disbuf strings.Builder
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if tokenizer.Next() {
		disasmOpcode(&disbuf, &opcodeArray[tokenizer.Opcode()],
			tokenizer.Data(), true)
	}
	for tokenizer.Next() {
		disbuf.WriteByte(' ')
		disasmOpcode(&disbuf, &opcodeArray[tokenizer.Opcode()],
			tokenizer.Data(), true)
	}
	if tokenizer.Err() != nil {
		if tokenizer.ByteIndex() != 0 {
			disbuf.WriteByte(' ')
		}
		disbuf.WriteString("[error]")
	}
	return disbuf.String(), tokenizer.Err()
}

// *******************************************
// Opcode implementation functions start here.
// *******************************************

// opcodeDisabled is a common handler for disabled opcodes.  Disabled opcodes
// fail even on a non-executing branch, which executeOpcode enforces before
// dispatching here.
func opcodeDisabled(op *opcode, data []byte, vm *Engine) error {
	str := fmt.Sprintf("attempt to execute disabled opcode %s", op.name)
	return scriptError(txscript.ErrDisabledOpcode, str)
}

// opcodeReserved is a common handler for all reserved opcodes.
func opcodeReserved(op *opcode, data []byte, vm *Engine) error {
	str := fmt.Sprintf("attempt to execute reserved opcode %s", op.name)
	return scriptError(txscript.ErrReservedOpcode, str)
}

// opcodeInvalid is a common handler for all invalid opcodes.
func opcodeInvalid(op *opcode, data []byte, vm *Engine) error {
	str := fmt.Sprintf("attempt to execute invalid opcode %s", op.name)
	return scriptError(txscript.ErrReservedOpcode, str)
}

// opcodeFalse pushes an empty array to the data stack to represent false.
func opcodeFalse(op *opcode, data []byte, vm *Engine) error {
	vm.dstack.PushByteArray(nil)
	return nil
}

// opcodePushData is a common handler for the vast majority of opcodes that push
// raw data (bytes) to the data stack.
func opcodePushData(op *opcode, data []byte, vm *Engine) error {
	vm.dstack.PushByteArray(data)
	return nil
}

// opcode1Negate pushes -1, encoded as a number, to the data stack.
func opcode1Negate(op *opcode, data []byte, vm *Engine) error {
	vm.dstack.PushInt(scriptNum(-1))
	return nil
}

// opcodeN is a common handler for the small integer data push opcodes.
func opcodeN(op *opcode, data []byte, vm *Engine) error {
	vm.dstack.PushInt(scriptNum(op.value - (txscript.OP_1 - 1)))
	return nil
}

// opcodeNop is a common handler for the NOP family of opcodes.  Upgradable
// NOPs fail when the flag discouraging them is set.
func opcodeNop(op *opcode, data []byte, vm *Engine) error {
	if op.value != txscript.OP_NOP &&
		vm.hasFlag(ScriptDiscourageUpgradableNops) {

		str := fmt.Sprintf("%v reserved for soft-fork upgrades", op.name)
		return scriptError(txscript.ErrDiscourageUpgradableNOPs, str)
	}
	return nil
}

// popIfBool pops the condition of an OP_IF or OP_NOTIF.  Inside segwit v0
// execution with the minimal if flag set, the operand must be empty or 0x01.
func popIfBool(vm *Engine) (bool, error) {
	if !vm.isWitnessVersionActive(txscript.BaseSegwitWitnessVersion) ||
		!vm.hasFlag(ScriptVerifyMinimalIf) {

		return vm.dstack.PopBool()
	}

	so, err := vm.dstack.PopByteArray()
	if err != nil {
		return false, err
	}

	if len(so) > 1 || (len(so) == 1 && so[0] != 0x01) {
		str := fmt.Sprintf("minimal if is active, top stack item MUST "+
			"be an empty byte array or 0x01, is instead: %x", so)
		return false, scriptError(txscript.ErrMinimalIf, str)
	}

	return asBool(so), nil
}

// opcodeIf treats the top item on the data stack as a boolean and removes it.
// It is executed even on a non-executing branch so proper nesting is
// maintained.
//
// Data stack transformation: [... bool] -> [...]
// Conditional stack transformation: [...] -> [... OpCondValue]
func opcodeIf(op *opcode, data []byte, vm *Engine) error {
	condVal := txscript.OpCondFalse
	if vm.isBranchExecuting() {
		ok, err := popIfBool(vm)
		if err != nil {
			return err
		}
		if ok {
			condVal = txscript.OpCondTrue
		}
	} else {
		condVal = txscript.OpCondSkip
	}
	vm.condStack = append(vm.condStack, condVal)
	return nil
}

// opcodeNotIf is opcodeIf with the condition inverted.
//
// Data stack transformation: [... bool] -> [...]
// Conditional stack transformation: [...] -> [... OpCondValue]
func opcodeNotIf(op *opcode, data []byte, vm *Engine) error {
	condVal := txscript.OpCondFalse
	if vm.isBranchExecuting() {
		ok, err := popIfBool(vm)
		if err != nil {
			return err
		}
		if !ok {
			condVal = txscript.OpCondTrue
		}
	} else {
		condVal = txscript.OpCondSkip
	}
	vm.condStack = append(vm.condStack, condVal)
	return nil
}

// opcodeElse inverts conditional execution for other half of if/else/endif.
// An error is returned if there has not already been a matching OP_IF.
//
// Conditional stack transformation: [... OpCondValue] -> [... !OpCondValue]
func opcodeElse(op *opcode, data []byte, vm *Engine) error {
	if len(vm.condStack) == 0 {
		str := fmt.Sprintf("encountered opcode %s with no matching "+
			"opcode to begin conditional execution", op.name)
		return scriptError(txscript.ErrUnbalancedConditional, str)
	}

	// Skipped branches stay skipped.
	conditionalIdx := len(vm.condStack) - 1
	switch vm.condStack[conditionalIdx] {
	case txscript.OpCondTrue:
		vm.condStack[conditionalIdx] = txscript.OpCondFalse
	case txscript.OpCondFalse:
		vm.condStack[conditionalIdx] = txscript.OpCondTrue
	}
	return nil
}

// opcodeEndif terminates a conditional block, removing the value from the
// conditional execution stack.
//
// Conditional stack transformation: [... OpCondValue] -> [...]
func opcodeEndif(op *opcode, data []byte, vm *Engine) error {
	if len(vm.condStack) == 0 {
		str := fmt.Sprintf("encountered opcode %s with no matching "+
			"opcode to begin conditional execution", op.name)
		return scriptError(txscript.ErrUnbalancedConditional, str)
	}

	vm.condStack = vm.condStack[:len(vm.condStack)-1]
	return nil
}

// abstractVerify examines the top item on the data stack as a boolean value
// and verifies it evaluates to true.  The passed error code is returned when
// it does not.
func abstractVerify(op *opcode, vm *Engine, c txscript.ErrorCode) error {
	verified, err := vm.dstack.PopBool()
	if err != nil {
		return err
	}

	if !verified {
		str := fmt.Sprintf("%s failed", op.name)
		return scriptError(c, str)
	}
	return nil
}

// opcodeVerify examines the top item on the data stack as a boolean value and
// verifies it evaluates to true.
func opcodeVerify(op *opcode, data []byte, vm *Engine) error {
	return abstractVerify(op, vm, txscript.ErrVerify)
}

// opcodeReturn returns an appropriate error since it is always an error to
// return early from a script.
func opcodeReturn(op *opcode, data []byte, vm *Engine) error {
	return scriptError(txscript.ErrEarlyReturn, "script returned early")
}

// verifyLockTime is a helper function used to validate locktimes.
func verifyLockTime(txLockTime, threshold, lockTime int64) error {
	// The lockTimes in both the script and transaction must be of the same
	// type.
	if !((txLockTime < threshold && lockTime < threshold) ||
		(txLockTime >= threshold && lockTime >= threshold)) {
		str := fmt.Sprintf("mismatched locktime types -- tx locktime "+
			"%d, stack locktime %d", txLockTime, lockTime)
		return scriptError(txscript.ErrUnsatisfiedLockTime, str)
	}

	if lockTime > txLockTime {
		str := fmt.Sprintf("locktime requirement not satisfied -- "+
			"locktime is greater than the transaction locktime: "+
			"%d > %d", lockTime, txLockTime)
		return scriptError(txscript.ErrUnsatisfiedLockTime, str)
	}

	return nil
}

// opcodeCheckLockTimeVerify compares the top item on the data stack to the
// LockTime field of the transaction (BIP 65).  The stack is left untouched.
func opcodeCheckLockTimeVerify(op *opcode, data []byte, vm *Engine) error {
	if !vm.hasFlag(ScriptVerifyCheckLockTimeVerify) {
		return opcodeNop(op, data, vm)
	}

	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}
	lockTime, err := makeScriptNum(so, vm.dstack.verifyMinimalData,
		cltvMaxScriptNumLen)
	if err != nil {
		return err
	}

	if lockTime < 0 {
		str := fmt.Sprintf("negative lock time: %d", lockTime)
		return scriptError(txscript.ErrNegativeLockTime, str)
	}

	err = verifyLockTime(int64(vm.tx.LockTime), txscript.LockTimeThreshold,
		int64(lockTime))
	if err != nil {
		return err
	}

	// A finalized input disables the lock time entirely.
	if vm.tx.TxIn[vm.txIdx].Sequence == wire.MaxTxInSequenceNum {
		return scriptError(txscript.ErrUnsatisfiedLockTime,
			"transaction input is finalized")
	}

	return nil
}

// opcodeCheckSequenceVerify compares the top item on the data stack to the
// relative lock time in the input's sequence number (BIP 112).
func opcodeCheckSequenceVerify(op *opcode, data []byte, vm *Engine) error {
	if !vm.hasFlag(ScriptVerifyCheckSequenceVerify) {
		return opcodeNop(op, data, vm)
	}

	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}
	stackSequence, err := makeScriptNum(so, vm.dstack.verifyMinimalData,
		cltvMaxScriptNumLen)
	if err != nil {
		return err
	}

	if stackSequence < 0 {
		str := fmt.Sprintf("negative sequence: %d", stackSequence)
		return scriptError(txscript.ErrNegativeLockTime, str)
	}

	sequence := int64(stackSequence)

	// The disable flag turns the opcode into a NOP.
	if sequence&int64(wire.SequenceLockTimeDisabled) != 0 {
		return nil
	}

	if vm.tx.Version < 2 {
		str := fmt.Sprintf("invalid transaction version: %d",
			vm.tx.Version)
		return scriptError(txscript.ErrUnsatisfiedLockTime, str)
	}

	txSequence := int64(vm.tx.TxIn[vm.txIdx].Sequence)
	if txSequence&int64(wire.SequenceLockTimeDisabled) != 0 {
		str := fmt.Sprintf("transaction sequence has sequence "+
			"locktime disabled bit set: 0x%x", txSequence)
		return scriptError(txscript.ErrUnsatisfiedLockTime, str)
	}

	lockTimeMask := int64(wire.SequenceLockTimeIsSeconds |
		wire.SequenceLockTimeMask)
	return verifyLockTime(txSequence&lockTimeMask,
		wire.SequenceLockTimeIsSeconds, sequence&lockTimeMask)
}

// opcodeToAltStack removes the top item from the main data stack and pushes it
// onto the alternate data stack.
func opcodeToAltStack(op *opcode, data []byte, vm *Engine) error {
	so, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	vm.astack.PushByteArray(so)
	return nil
}

// opcodeFromAltStack removes the top item from the alternate data stack and
// pushes it onto the main data stack.
func opcodeFromAltStack(op *opcode, data []byte, vm *Engine) error {
	so, err := vm.astack.PopByteArray()
	if err != nil {
		return err
	}
	vm.dstack.PushByteArray(so)
	return nil
}

func opcode2Drop(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.DropN(2)
}

func opcode2Dup(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.DupN(2)
}

func opcode3Dup(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.DupN(3)
}

func opcode2Over(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.OverN(2)
}

func opcode2Rot(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.RotN(2)
}

func opcode2Swap(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.SwapN(2)
}

// opcodeIfDup duplicates the top item of the stack if it is not zero.
//
// Stack transformation (x1==0): [... x1] -> [... x1]
// Stack transformation (x1!=0): [... x1] -> [... x1 x1]
func opcodeIfDup(op *opcode, data []byte, vm *Engine) error {
	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}

	if asBool(so) {
		vm.dstack.PushByteArray(so)
	}
	return nil
}

// opcodeDepth pushes the depth of the data stack prior to executing this
// opcode, encoded as a number, onto the data stack.
func opcodeDepth(op *opcode, data []byte, vm *Engine) error {
	vm.dstack.PushInt(scriptNum(vm.dstack.Depth()))
	return nil
}

func opcodeDrop(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.DropN(1)
}

func opcodeDup(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.DupN(1)
}

func opcodeNip(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.NipN(1)
}

func opcodeOver(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.OverN(1)
}

// opcodePick treats the top item on the data stack as an integer and
// duplicates the item on the stack that number of items back to the top.
//
// Stack transformation: [xn ... x2 x1 x0 n] -> [xn ... x2 x1 x0 xn]
func opcodePick(op *opcode, data []byte, vm *Engine) error {
	val, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	return vm.dstack.PickN(val.Int32())
}

// opcodeRoll treats the top item on the data stack as an integer and moves
// the item on the stack that number of items back to the top.
//
// Stack transformation: [xn ... x2 x1 x0 n] -> [... x2 x1 x0 xn]
func opcodeRoll(op *opcode, data []byte, vm *Engine) error {
	val, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	return vm.dstack.RollN(val.Int32())
}

func opcodeRot(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.RotN(1)
}

func opcodeSwap(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.SwapN(1)
}

func opcodeTuck(op *opcode, data []byte, vm *Engine) error {
	return vm.dstack.Tuck()
}

// opcodeSize pushes the size of the top item of the data stack onto the data
// stack.
//
// Stack transformation: [... x1] -> [... x1 len(x1)]
func opcodeSize(op *opcode, data []byte, vm *Engine) error {
	so, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}

	vm.dstack.PushInt(scriptNum(len(so)))
	return nil
}

// opcodeEqual removes the top 2 items of the data stack, compares them as raw
// bytes, and pushes the result, encoded as a boolean, back to the stack.
//
// Stack transformation: [... x1 x2] -> [... bool]
func opcodeEqual(op *opcode, data []byte, vm *Engine) error {
	a, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	b, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	vm.dstack.PushBool(bytes.Equal(a, b))
	return nil
}

// opcodeEqualVerify is a combination of opcodeEqual and opcodeVerify.
func opcodeEqualVerify(op *opcode, data []byte, vm *Engine) error {
	err := opcodeEqual(op, data, vm)
	if err == nil {
		err = abstractVerify(op, vm, txscript.ErrEqualVerify)
	}
	return err
}

// unaryNumericOp replaces the top stack item, read as a number, with fn of it.
func unaryNumericOp(vm *Engine, fn func(scriptNum) scriptNum) error {
	m, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	vm.dstack.PushInt(fn(m))
	return nil
}

// binaryNumericOp pops the two top items as numbers, v1 being the top, and
// pushes fn(v0, v1).
//
// Stack transformation: [... x1 x2] -> [... fn(x1, x2)]
func binaryNumericOp(vm *Engine, fn func(v0, v1 scriptNum) scriptNum) error {
	v1, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	v0, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	vm.dstack.PushInt(fn(v0, v1))
	return nil
}

func boolNum(b bool) scriptNum {
	if b {
		return 1
	}
	return 0
}

func opcode1Add(op *opcode, data []byte, vm *Engine) error {
	return unaryNumericOp(vm, func(m scriptNum) scriptNum { return m + 1 })
}

func opcode1Sub(op *opcode, data []byte, vm *Engine) error {
	return unaryNumericOp(vm, func(m scriptNum) scriptNum { return m - 1 })
}

func opcodeNegate(op *opcode, data []byte, vm *Engine) error {
	return unaryNumericOp(vm, func(m scriptNum) scriptNum { return -m })
}

func opcodeAbs(op *opcode, data []byte, vm *Engine) error {
	return unaryNumericOp(vm, func(m scriptNum) scriptNum {
		if m < 0 {
			return -m
		}
		return m
	})
}

// opcodeNot pushes 1 when the top item is zero and 0 otherwise.
func opcodeNot(op *opcode, data []byte, vm *Engine) error {
	return unaryNumericOp(vm, func(m scriptNum) scriptNum {
		return boolNum(m == 0)
	})
}

func opcode0NotEqual(op *opcode, data []byte, vm *Engine) error {
	return unaryNumericOp(vm, func(m scriptNum) scriptNum {
		return boolNum(m != 0)
	})
}

func opcodeAdd(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return v0 + v1
	})
}

func opcodeSub(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return v0 - v1
	})
}

func opcodeBoolAnd(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return boolNum(v0 != 0 && v1 != 0)
	})
}

func opcodeBoolOr(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return boolNum(v0 != 0 || v1 != 0)
	})
}

func opcodeNumEqual(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return boolNum(v0 == v1)
	})
}

func opcodeNumEqualVerify(op *opcode, data []byte, vm *Engine) error {
	err := opcodeNumEqual(op, data, vm)
	if err == nil {
		err = abstractVerify(op, vm, txscript.ErrNumEqualVerify)
	}
	return err
}

func opcodeNumNotEqual(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return boolNum(v0 != v1)
	})
}

func opcodeLessThan(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return boolNum(v0 < v1)
	})
}

func opcodeGreaterThan(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return boolNum(v0 > v1)
	})
}

func opcodeLessThanOrEqual(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return boolNum(v0 <= v1)
	})
}

func opcodeGreaterThanOrEqual(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return boolNum(v0 >= v1)
	})
}

func opcodeMin(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return min(v0, v1)
	})
}

func opcodeMax(op *opcode, data []byte, vm *Engine) error {
	return binaryNumericOp(vm, func(v0, v1 scriptNum) scriptNum {
		return max(v0, v1)
	})
}

// opcodeWithin treats the top 3 items on the data stack as integers.  When the
// value to test is within the specified range (left inclusive), 1 is pushed,
// otherwise 0 is pushed.
//
// Stack transformation: [... x1 min max] -> [... bool]
func opcodeWithin(op *opcode, data []byte, vm *Engine) error {
	maxVal, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	minVal, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	x, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	vm.dstack.PushBool(x >= minVal && x < maxVal)
	return nil
}

// calcHash calculates the hash of hasher over buf.
func calcHash(buf []byte, hasher hash.Hash) []byte {
	hasher.Write(buf)
	return hasher.Sum(nil)
}

// hashTop replaces the top stack item with its digest.
func hashTop(vm *Engine, digest func([]byte) []byte) error {
	buf, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	vm.dstack.PushByteArray(digest(buf))
	return nil
}

func opcodeRipemd160(op *opcode, data []byte, vm *Engine) error {
	return hashTop(vm, func(b []byte) []byte {
		return calcHash(b, ripemd160.New())
	})
}

func opcodeSha1(op *opcode, data []byte, vm *Engine) error {
	return hashTop(vm, func(b []byte) []byte {
		hash := sha1.Sum(b)
		return hash[:]
	})
}

func opcodeSha256(op *opcode, data []byte, vm *Engine) error {
	return hashTop(vm, func(b []byte) []byte {
		hash := sha256.Sum256(b)
		return hash[:]
	})
}

func opcodeHash160(op *opcode, data []byte, vm *Engine) error {
	return hashTop(vm, func(b []byte) []byte {
		hash := sha256.Sum256(b)
		return calcHash(hash[:], ripemd160.New())
	})
}

func opcodeHash256(op *opcode, data []byte, vm *Engine) error {
	return hashTop(vm, chainhash.DoubleHashB)
}

// opcodeCodeSeparator stores the current script offset as the most recently
// seen OP_CODESEPARATOR which is used during signature checking.
func opcodeCodeSeparator(op *opcode, data []byte, vm *Engine) error {
	vm.lastCodeSep = int(vm.tokenizer.ByteIndex())
	return nil
}

// opcodeCheckSig treats the top 2 items on the stack as a public key and a
// signature and replaces them with a bool which indicates if the signature
// was successfully verified.
//
// Stack transformation: [... signature pubkey] -> [... bool]
func opcodeCheckSig(op *opcode, data []byte, vm *Engine) error {
	pkBytes, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	fullSigBytes, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	// The signature needs at least the hash type byte.
	if len(fullSigBytes) < 1 {
		vm.dstack.PushBool(false)
		return nil
	}

	valid := false
	sigVerifier, err := newECDSASigVerifier(pkBytes, fullSigBytes, vm)
	switch {
	case isScriptError(err):
		return err
	case err == nil:
		valid = sigVerifier.Verify().sigValid
	}

	if !valid && vm.hasFlag(ScriptVerifyNullFail) && len(fullSigBytes) > 0 {
		str := "signature not empty on failed checksig"
		return scriptError(txscript.ErrNullFail, str)
	}

	vm.dstack.PushBool(valid)
	return nil
}

// opcodeCheckSigVerify is a combination of opcodeCheckSig and opcodeVerify.
func opcodeCheckSigVerify(op *opcode, data []byte, vm *Engine) error {
	err := opcodeCheckSig(op, data, vm)
	if err == nil {
		err = abstractVerify(op, vm, txscript.ErrCheckSigVerify)
	}
	return err
}

// opcodeCheckMultiSig treats the top item on the stack as an integer number
// of public keys, followed by that many entries as raw data representing the
// public keys, followed by the integer number of signatures, followed by that
// many entries as raw data representing the signatures.
//
// Due to a long standing consensus bug, an additional dummy argument
// is also required by the consensus rules.  It is popped and ignored unless
// the strict multisig flag demands it be empty.
//
// Signatures must appear in the same order as their public keys.  Each
// signature is tried against the remaining keys in order, and a key that
// fails to match is skipped for good.
//
// Stack transformation:
// [... dummy [sig ...] numsigs [pubkey ...] numpubkeys] -> [... bool]
func opcodeCheckMultiSig(op *opcode, data []byte, vm *Engine) error {
	numKeys, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	numPubKeys := int(numKeys.Int32())
	if numPubKeys < 0 {
		str := fmt.Sprintf("number of pubkeys %d is negative",
			numPubKeys)
		return scriptError(txscript.ErrInvalidPubKeyCount, str)
	}
	if numPubKeys > txscript.MaxPubKeysPerMultiSig {
		str := fmt.Sprintf("too many pubkeys: %d > %d",
			numPubKeys, txscript.MaxPubKeysPerMultiSig)
		return scriptError(txscript.ErrInvalidPubKeyCount, str)
	}
	vm.numOps += numPubKeys
	if vm.numOps > txscript.MaxOpsPerScript {
		str := fmt.Sprintf("exceeded max operation limit of %d",
			txscript.MaxOpsPerScript)
		return scriptError(txscript.ErrTooManyOperations, str)
	}

	pubKeys := make([][]byte, 0, numPubKeys)
	for i := 0; i < numPubKeys; i++ {
		pubKey, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		pubKeys = append(pubKeys, pubKey)
	}

	numSigs, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	numSignatures := int(numSigs.Int32())
	if numSignatures < 0 {
		str := fmt.Sprintf("number of signatures %d is negative",
			numSignatures)
		return scriptError(txscript.ErrInvalidSignatureCount, str)
	}
	if numSignatures > numPubKeys {
		str := fmt.Sprintf("more signatures than pubkeys: %d > %d",
			numSignatures, numPubKeys)
		return scriptError(txscript.ErrInvalidSignatureCount, str)
	}

	signatures := make([][]byte, 0, numSignatures)
	for i := 0; i < numSignatures; i++ {
		signature, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		signatures = append(signatures, signature)
	}

	// A consensus bug means one more stack value than
	// should be used must be popped.
	dummy, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	if vm.hasFlag(ScriptStrictMultiSig) && len(dummy) != 0 {
		str := fmt.Sprintf("multisig dummy argument has length %d "+
			"instead of 0", len(dummy))
		return scriptError(txscript.ErrSigNullDummy, str)
	}

	// Keys and signatures were popped top first, so index 0 holds the
	// entry pushed last.  The first key and signature in script order are
	// therefore at the end of each slice.
	success := true
	keyIdx, sigIdx := numPubKeys-1, numSignatures-1
	for sigIdx >= 0 {
		// Not enough keys left to satisfy the remaining signatures.
		if sigIdx > keyIdx {
			success = false
			break
		}

		rawSig := signatures[sigIdx]
		pubKey := pubKeys[keyIdx]
		keyIdx--

		// An empty signature never matches, move on to the next key.
		if len(rawSig) == 0 {
			continue
		}

		verifier, err := newECDSASigVerifier(pubKey, rawSig, vm)
		if isScriptError(err) {
			return err
		}
		if err != nil {
			continue
		}

		// The legacy script code must not contain any of the
		// signatures.
		if !vm.isWitnessVersionActive(txscript.BaseSegwitWitnessVersion) {
			for _, sig := range signatures {
				verifier.subScript = removeOpcodeByData(
					verifier.subScript, sig,
				)
			}
		}

		if verifier.Verify().sigValid {
			sigIdx--
		}
	}

	if !success && vm.hasFlag(ScriptVerifyNullFail) {
		for _, sig := range signatures {
			if len(sig) > 0 {
				str := "not all signatures empty on failed " +
					"checkmultisig"
				return scriptError(txscript.ErrNullFail, str)
			}
		}
	}

	vm.dstack.PushBool(success)
	return nil
}

// opcodeCheckMultiSigVerify is a combination of opcodeCheckMultiSig and
// opcodeVerify.
func opcodeCheckMultiSigVerify(op *opcode, data []byte, vm *Engine) error {
	err := opcodeCheckMultiSig(op, data, vm)
	if err == nil {
		err = abstractVerify(op, vm, txscript.ErrCheckMultiSigVerify)
	}
	return err
}
