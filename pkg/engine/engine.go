// Package engine implements the Bitcoin script virtual machine used to verify
// that an assembled solution actually unlocks the output it spends.  It is
// derived from btcd/txscript (github.com/btcsuite/btcd v0.24.3) and runs
// legacy, pay-to-script-hash and segwit v0 spends.
//
// Key differences from the upstream btcd/txscript engine:
//   - Failures are reported as *ScriptError values that locate the failing
//     opcode within the script being executed.
//   - Signature digests come from the sighash package so that the solver and
//     the verifier share a single implementation.
//   - Taproot and unknown witness versions are rejected instead of being
//     treated as anyone-can-spend.
package engine

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/ArkLabsHQ/scriptsolver/pkg/sighash"
)

// ScriptFlags selects the optional rule sets enforced while executing.
type ScriptFlags uint32

const (
	ScriptBip16                     ScriptFlags = 1 << iota // BIP16 p2sh
	ScriptStrictMultiSig                                    // null CHECKMULTISIG dummy
	ScriptDiscourageUpgradableNops                          // reserved NOPs fail
	ScriptVerifyCheckLockTimeVerify                         // BIP65
	ScriptVerifyCheckSequenceVerify                         // BIP112
	ScriptVerifyCleanStack                                  // one item left
	ScriptVerifyDERSignatures                               // strict DER
	ScriptVerifyLowS                                        // BIP62 rule 5
	ScriptVerifyMinimalData                                 // BIP62 rules 3 and 4
	ScriptVerifyNullFail                                    // failed sigs are empty
	ScriptVerifyStrictEncoding                              // sig and key encoding
	ScriptVerifyWitness                                     // segwit v0 programs
	ScriptVerifyMinimalIf                                   // IF operand is "" or 0x01
	ScriptVerifyWitnessPubKeyType                           // compressed keys in segwit
)

const (
	// StandardVerifyFlags matches the relay policy of current nodes.
	StandardVerifyFlags = ScriptBip16 |
		ScriptVerifyDERSignatures |
		ScriptVerifyStrictEncoding |
		ScriptVerifyMinimalData |
		ScriptStrictMultiSig |
		ScriptDiscourageUpgradableNops |
		ScriptVerifyCleanStack |
		ScriptVerifyCheckLockTimeVerify |
		ScriptVerifyCheckSequenceVerify |
		ScriptVerifyLowS |
		ScriptVerifyNullFail |
		ScriptVerifyWitness |
		ScriptVerifyMinimalIf |
		ScriptVerifyWitnessPubKeyType
)

// Segwit v0 program lengths.
const (
	payToWitnessPubKeyHashDataSize = 20
	payToWitnessScriptHashDataSize = 32
)

// ExecState describes where an engine is in its lifecycle.
type ExecState uint8

const (
	// Running is the state of an engine that has not finished executing.
	Running ExecState = iota

	// HaltedOk is the state of an engine whose scripts all ran and left a
	// true value on the stack.
	HaltedOk

	// HaltedFail is the state of an engine that stopped on an error.
	HaltedFail
)

// String returns the name of the state.
func (s ExecState) String() string {
	switch s {
	case Running:
		return "running"
	case HaltedOk:
		return "halted-ok"
	case HaltedFail:
		return "halted-fail"
	default:
		return fmt.Sprintf("ExecState(%d)", uint8(s))
	}
}

// Engine executes the scripts of one transaction input.
type Engine struct {
	// Fixed at construction.
	flags     ScriptFlags
	tx        wire.MsgTx
	txIdx     int
	version   uint16
	bip16     bool
	sigCache  *txscript.SigCache
	hashCache *sighash.TxSigHashes

	// scripts holds the signature script and public key script, followed
	// by the redeem or witness script once they are revealed.
	scripts         [][]byte
	scriptIdx       int
	opcodeIdx       int
	lastCodeSep     int
	tokenizer       txscript.ScriptTokenizer
	savedFirstStack [][]byte // p2sh: stack after the signature script
	dstack          stack
	astack          stack
	condStack       []int
	numOps          int
	witnessVersion  int
	witnessProgram  []byte
	inputAmount     int64
	state           ExecState

	// stepCallback is for debugging only.
	stepCallback func(*StepInfo) error
}

// StepInfo is the engine state handed to a debug callback after each step.
type StepInfo struct {
	ScriptIndex int

	// OpcodeIndex is the next opcode to run.  After the final step it is
	// one past the last opcode of the last script.
	OpcodeIndex int

	Stack    [][]byte
	AltStack [][]byte
}

// hasFlag returns whether the script engine instance has the passed flag set.
func (vm *Engine) hasFlag(flag ScriptFlags) bool {
	return vm.flags&flag == flag
}

// State returns the execution state of the engine.
func (vm *Engine) State() ExecState {
	return vm.state
}

// isBranchExecuting reports whether the innermost conditional branch runs.
func (vm *Engine) isBranchExecuting() bool {
	if len(vm.condStack) == 0 {
		return true
	}
	return vm.condStack[len(vm.condStack)-1] == txscript.OpCondTrue
}

// isOpcodeDisabled reports opcodes that fail even in an unexecuted branch.
func isOpcodeDisabled(opcode byte) bool {
	switch opcode {
	case txscript.OP_CAT, txscript.OP_SUBSTR, txscript.OP_LEFT,
		txscript.OP_RIGHT, txscript.OP_INVERT, txscript.OP_AND,
		txscript.OP_OR, txscript.OP_XOR, txscript.OP_2MUL,
		txscript.OP_2DIV, txscript.OP_MUL, txscript.OP_DIV,
		txscript.OP_MOD, txscript.OP_LSHIFT, txscript.OP_RSHIFT:

		return true
	default:
		return false
	}
}

func isOpcodeAlwaysIllegal(opcode byte) bool {
	return opcode == txscript.OP_VERIF || opcode == txscript.OP_VERNOTIF
}

func isOpcodeConditional(opcode byte) bool {
	switch opcode {
	case txscript.OP_IF, txscript.OP_NOTIF, txscript.OP_ELSE, txscript.OP_ENDIF:
		return true
	}
	return false
}

// checkMinimalDataPush fails unless op is the shortest encoding of data.
func checkMinimalDataPush(op *opcode, data []byte) error {
	opcodeVal := op.value
	dataLen := len(data)
	switch {
	case dataLen == 0 && opcodeVal != txscript.OP_0:
		str := fmt.Sprintf("zero length data push is encoded with opcode %s "+
			"instead of OP_0", op.name)
		return scriptError(txscript.ErrMinimalData, str)
	case dataLen == 1 && data[0] >= 1 && data[0] <= 16:
		if opcodeVal != txscript.OP_1+data[0]-1 {
			str := fmt.Sprintf("data push of the value %d encoded with opcode "+
				"%s instead of OP_%d", data[0], op.name, data[0])
			return scriptError(txscript.ErrMinimalData, str)
		}
	case dataLen == 1 && data[0] == 0x81:
		if opcodeVal != txscript.OP_1NEGATE {
			str := fmt.Sprintf("data push of the value -1 encoded with opcode "+
				"%s instead of OP_1NEGATE", op.name)
			return scriptError(txscript.ErrMinimalData, str)
		}
	case dataLen <= 75:
		if int(opcodeVal) != dataLen {
			str := fmt.Sprintf("data push of %d bytes encoded with opcode %s "+
				"instead of OP_DATA_%d", dataLen, op.name, dataLen)
			return scriptError(txscript.ErrMinimalData, str)
		}
	case dataLen <= 255:
		if opcodeVal != txscript.OP_PUSHDATA1 {
			str := fmt.Sprintf("data push of %d bytes encoded with opcode %s "+
				"instead of OP_PUSHDATA1", dataLen, op.name)
			return scriptError(txscript.ErrMinimalData, str)
		}
	case dataLen <= 65535:
		if opcodeVal != txscript.OP_PUSHDATA2 {
			str := fmt.Sprintf("data push of %d bytes encoded with opcode %s "+
				"instead of OP_PUSHDATA2", dataLen, op.name)
			return scriptError(txscript.ErrMinimalData, str)
		}
	}
	return nil
}

// executeOpcode runs op.  Opcode limits apply even inside unexecuted
// branches.
func (vm *Engine) executeOpcode(op *opcode, data []byte) error {
	if isOpcodeDisabled(op.value) {
		str := fmt.Sprintf("attempt to execute disabled opcode %s", op.name)
		return scriptError(txscript.ErrDisabledOpcode, str)
	}

	if isOpcodeAlwaysIllegal(op.value) {
		str := fmt.Sprintf("attempt to execute reserved opcode %s", op.name)
		return scriptError(txscript.ErrReservedOpcode, str)
	}

	// Note that this includes OP_RESERVED which counts as a push operation.
	if op.value > txscript.OP_16 {
		vm.numOps++
		if vm.numOps > txscript.MaxOpsPerScript {
			str := fmt.Sprintf("exceeded max operation limit of %d",
				txscript.MaxOpsPerScript)
			return scriptError(txscript.ErrTooManyOperations, str)
		}

	} else if len(data) > txscript.MaxScriptElementSize {
		str := fmt.Sprintf("element size %d exceeds max allowed size %d",
			len(data), txscript.MaxScriptElementSize)
		return scriptError(txscript.ErrElementTooBig, str)
	}

	if !vm.isBranchExecuting() && !isOpcodeConditional(op.value) {
		return nil
	}

	if vm.dstack.verifyMinimalData && vm.isBranchExecuting() &&
		op.value <= txscript.OP_PUSHDATA4 {

		if err := checkMinimalDataPush(op, data); err != nil {
			return err
		}
	}

	log.Tracef("%v", newLogClosure(func() string {
		var buf strings.Builder
		disasmOpcode(&buf, op, data, false)
		return fmt.Sprintf("%02x:%04x: %s", vm.scriptIdx, vm.opcodeIdx,
			buf.String())
	}))

	return op.opfunc(op, data, vm)
}

func (vm *Engine) checkValidPC() error {
	if vm.scriptIdx >= len(vm.scripts) {
		str := fmt.Sprintf("script index %d beyond total scripts %d",
			vm.scriptIdx, len(vm.scripts))
		return scriptError(txscript.ErrInvalidProgramCounter, str)
	}
	return nil
}

func (vm *Engine) isWitnessVersionActive(version uint) bool {
	return vm.witnessProgram != nil && uint(vm.witnessVersion) == version
}

// verifyWitnessProgram validates the stored witness program using the passed
// witness as input.  On success the script implied by the program is queued
// for execution with the witness items as its initial stack.
func (vm *Engine) verifyWitnessProgram(witness wire.TxWitness) error {
	if !vm.isWitnessVersionActive(txscript.BaseSegwitWitnessVersion) {
		str := fmt.Sprintf("witness version %d is not supported",
			vm.witnessVersion)
		return scriptError(txscript.ErrDiscourageUpgradableWitnessProgram, str)
	}

	switch len(vm.witnessProgram) {
	case payToWitnessPubKeyHashDataSize:
		// The witness stack must be exactly a signature and a public key.
		if len(witness) != 2 {
			str := fmt.Sprintf("should have exactly two items in "+
				"witness, instead have %d", len(witness))
			return scriptError(txscript.ErrWitnessProgramMismatch, str)
		}

		// The program is executed as the equivalent pay-to-pubkey-hash
		// script.
		pkScript := sighash.PayToPubKeyHashScript(vm.witnessProgram)
		vm.scripts = append(vm.scripts, pkScript)
		vm.SetStack(witness)

	case payToWitnessScriptHashDataSize:
		if len(witness) == 0 {
			return scriptError(txscript.ErrWitnessProgramEmpty,
				"witness program empty passed empty witness")
		}

		// The witness script is the last item and must hash to the
		// program.
		witnessScript := witness[len(witness)-1]
		if len(witnessScript) > txscript.MaxScriptSize {
			str := fmt.Sprintf("witnessScript size %d is larger "+
				"than max allowed size %d", len(witnessScript),
				txscript.MaxScriptSize)
			return scriptError(txscript.ErrScriptTooBig, str)
		}
		witnessHash := sha256.Sum256(witnessScript)
		if !bytes.Equal(witnessHash[:], vm.witnessProgram) {
			return scriptError(txscript.ErrWitnessProgramMismatch,
				"witness program hash mismatch")
		}

		if err := checkScriptParses(vm.version, witnessScript); err != nil {
			return err
		}
		vm.scripts = append(vm.scripts, witnessScript)
		vm.SetStack(witness[:len(witness)-1])

	default:
		str := fmt.Sprintf("length of witness program must either be "+
			"%v or %v bytes, instead is %v bytes",
			payToWitnessPubKeyHashDataSize,
			payToWitnessScriptHashDataSize, len(vm.witnessProgram))
		return scriptError(txscript.ErrWitnessProgramWrongLength, str)
	}

	for _, witElement := range vm.GetStack() {
		if len(witElement) > txscript.MaxScriptElementSize {
			str := fmt.Sprintf("element size %d exceeds "+
				"max allowed size %d", len(witElement),
				txscript.MaxScriptElementSize)
			return scriptError(txscript.ErrElementTooBig, str)
		}
	}

	return nil
}

// DisasmPC returns the string for the disassembly of the opcode that will be
// next to execute when Step is called.
func (vm *Engine) DisasmPC() (string, error) {
	if err := vm.checkValidPC(); err != nil {
		return "", err
	}

	peekTokenizer := vm.tokenizer
	if !peekTokenizer.Next() {
		if err := peekTokenizer.Err(); err != nil {
			return "", err
		}

		str := fmt.Sprintf("program counter beyond script index %d (bytes %x)",
			vm.scriptIdx, vm.scripts[vm.scriptIdx])
		return "", scriptError(txscript.ErrInvalidProgramCounter, str)
	}

	var buf strings.Builder
	op := &opcodeArray[peekTokenizer.Opcode()]
	disasmOpcode(&buf, op, peekTokenizer.Data(), false)
	return fmt.Sprintf("%02x:%04x: %s", vm.scriptIdx, vm.opcodeIdx,
		buf.String()), nil
}

// DisasmScript disassembles script idx, one opcode per line.  Index 0 is the
// signature script and 1 the public key script.
func (vm *Engine) DisasmScript(idx int) (string, error) {
	if idx >= len(vm.scripts) {
		str := fmt.Sprintf("script index %d >= total scripts %d", idx,
			len(vm.scripts))
		return "", scriptError(txscript.ErrInvalidIndex, str)
	}

	var disbuf strings.Builder
	script := vm.scripts[idx]
	tokenizer := txscript.MakeScriptTokenizer(vm.version, script)
	var opcodeIdx int
	for tokenizer.Next() {
		disbuf.WriteString(fmt.Sprintf("%02x:%04x: ", idx, opcodeIdx))
		disasmOpcode(&disbuf, &opcodeArray[tokenizer.Opcode()],
			tokenizer.Data(), false)
		disbuf.WriteByte('\n')
		opcodeIdx++
	}
	return disbuf.String(), tokenizer.Err()
}

// CheckErrorCondition returns nil once every script has run and left a true
// value on the stack.
func (vm *Engine) CheckErrorCondition(finalScript bool) error {
	if vm.scriptIdx < len(vm.scripts) {
		return scriptError(txscript.ErrScriptUnfinished,
			"error check when script unfinished")
	}

	// Witness scripts always require a clean stack.
	cleanStack := vm.hasFlag(ScriptVerifyCleanStack) || vm.witnessProgram != nil
	if finalScript && cleanStack && vm.dstack.Depth() != 1 {
		str := fmt.Sprintf("stack must contain exactly one item (contains %d)",
			vm.dstack.Depth())
		return scriptError(txscript.ErrCleanStack, str)
	} else if vm.dstack.Depth() < 1 {
		return scriptError(txscript.ErrEmptyStack,
			"stack empty at end of script execution")
	}

	v, err := vm.dstack.PopBool()
	if err != nil {
		return err
	}
	if !v {
		log.Tracef("%v", newLogClosure(func() string {
			var buf strings.Builder
			buf.WriteString("scripts failed:\n")
			for i := range vm.scripts {
				dis, _ := vm.DisasmScript(i)
				buf.WriteString(fmt.Sprintf("script%d:\n", i))
				buf.WriteString(dis)
			}
			return buf.String()
		}))
		return scriptError(txscript.ErrEvalFalse,
			"false stack entry at end of script execution")
	}
	return nil
}

// Step executes the next opcode and reports whether execution is done.
//
// Errors are *ScriptError values locating the failure.  The result of calling
// Step or any other method is undefined if an error is returned.
func (vm *Engine) Step() (done bool, err error) {
	if err := vm.checkValidPC(); err != nil {
		return true, err
	}

	if !vm.tokenizer.Next() {
		if err := vm.tokenizer.Err(); err != nil {
			return false, positionError(err, vm.scriptIdx, vm.opcodeIdx)
		}

		str := fmt.Sprintf("attempt to step beyond script index %d (bytes %x)",
			vm.scriptIdx, vm.scripts[vm.scriptIdx])
		return true, scriptError(txscript.ErrInvalidProgramCounter, str)
	}

	op := &opcodeArray[vm.tokenizer.Opcode()]
	err = vm.executeOpcode(op, vm.tokenizer.Data())
	if err != nil {
		return true, positionError(err, vm.scriptIdx, vm.opcodeIdx)
	}

	combinedStackSize := vm.dstack.Depth() + vm.astack.Depth()
	if combinedStackSize > txscript.MaxStackSize {
		str := fmt.Sprintf("combined stack size %d > max allowed %d",
			combinedStackSize, txscript.MaxStackSize)
		return false, positionError(
			scriptError(txscript.ErrStackOverflow, str),
			vm.scriptIdx, vm.opcodeIdx,
		)
	}

	vm.opcodeIdx++
	if vm.tokenizer.Done() {
		finished := vm.scriptIdx

		// Conditionals cannot straddle scripts.
		if len(vm.condStack) != 0 {
			return false, positionError(
				scriptError(txscript.ErrUnbalancedConditional,
					"end of script reached in conditional execution"),
				finished, -1,
			)
		}

		// The alt stack and the op count are per script.
		_ = vm.astack.DropN(vm.astack.Depth())
		vm.numOps = 0
		vm.opcodeIdx = 0

		switch {
		case vm.scriptIdx == 0 && vm.bip16:
			vm.scriptIdx++
			vm.savedFirstStack = vm.GetStack()

		case vm.scriptIdx == 1 && vm.bip16:
			vm.scriptIdx++
			if err := vm.CheckErrorCondition(false); err != nil {
				return false, positionError(err, finished, -1)
			}

			script := vm.savedFirstStack[len(vm.savedFirstStack)-1]
			if err := checkScriptParses(vm.version, script); err != nil {
				return false, positionError(err, finished, -1)
			}
			vm.scripts = append(vm.scripts, script)

			vm.SetStack(vm.savedFirstStack[:len(vm.savedFirstStack)-1])

		case vm.scriptIdx == 1 && vm.witnessProgram != nil,
			vm.scriptIdx == 2 && vm.witnessProgram != nil && vm.bip16:

			vm.scriptIdx++

			witness := vm.tx.TxIn[vm.txIdx].Witness
			if err := vm.verifyWitnessProgram(witness); err != nil {
				return false, positionError(err, finished, -1)
			}

		default:
			vm.scriptIdx++
		}

		if vm.scriptIdx < len(vm.scripts) && len(vm.scripts[vm.scriptIdx]) == 0 {
			vm.scriptIdx++
		}

		vm.lastCodeSep = 0
		if vm.scriptIdx >= len(vm.scripts) {
			return true, nil
		}

		vm.tokenizer = txscript.MakeScriptTokenizer(vm.version, vm.scripts[vm.scriptIdx])
	}

	return false, nil
}

func copyStack(stk [][]byte) [][]byte {
	c := make([][]byte, len(stk))
	for i := range stk {
		c[i] = append([]byte{}, stk[i]...)
	}
	return c
}

// Execute runs every script and returns nil or a *ScriptError.
func (vm *Engine) Execute() (err error) {
	defer func() {
		if err != nil {
			vm.state = HaltedFail
		} else {
			vm.state = HaltedOk
		}
	}()

	var stepInfo *StepInfo
	if vm.stepCallback != nil {
		stepInfo = &StepInfo{
			ScriptIndex: vm.scriptIdx,
			OpcodeIndex: vm.opcodeIdx,
			Stack:       copyStack(vm.dstack.stk),
			AltStack:    copyStack(vm.astack.stk),
		}
		err := vm.stepCallback(stepInfo)
		if err != nil {
			return err
		}
	}

	done := false
	for !done {
		log.Tracef("%v", newLogClosure(func() string {
			dis, err := vm.DisasmPC()
			if err != nil {
				return fmt.Sprintf("stepping - failed to disasm pc: %v", err)
			}
			return fmt.Sprintf("stepping %v", dis)
		}))

		done, err = vm.Step()
		if err != nil {
			return positionError(err, vm.scriptIdx, vm.opcodeIdx)
		}

		log.Tracef("%v", newLogClosure(func() string {
			var dstr, astr string
			if vm.dstack.Depth() != 0 {
				dstr = "Stack:\n" + vm.dstack.String()
			}
			if vm.astack.Depth() != 0 {
				astr = "AltStack:\n" + vm.astack.String()
			}

			return dstr + astr
		}))

		if vm.stepCallback != nil {
			scriptIdx := vm.scriptIdx
			opcodeIdx := vm.opcodeIdx

			if done {
				scriptIdx = stepInfo.ScriptIndex
				opcodeIdx = stepInfo.OpcodeIndex + 1
			}

			stepInfo = &StepInfo{
				ScriptIndex: scriptIdx,
				OpcodeIndex: opcodeIdx,
				Stack:       copyStack(vm.dstack.stk),
				AltStack:    copyStack(vm.astack.stk),
			}
			err := vm.stepCallback(stepInfo)
			if err != nil {
				return err
			}
		}
	}

	return positionError(vm.CheckErrorCondition(true), -1, -1)
}

// subScript returns the script since the last OP_CODESEPARATOR.
func (vm *Engine) subScript() []byte {
	return vm.scripts[vm.scriptIdx][vm.lastCodeSep:]
}

// GetStack returns the data stack, top item last.
func (vm *Engine) GetStack() [][]byte {
	array := make([][]byte, vm.dstack.Depth())
	for i := range array {
		array[len(array)-i-1], _ = vm.dstack.PeekByteArray(int32(i))
	}
	return array
}

// SetStack replaces the data stack with data, top item last.
func (vm *Engine) SetStack(data [][]byte) {
	_ = vm.dstack.DropN(vm.dstack.Depth())
	for i := range data {
		vm.dstack.PushByteArray(data[i])
	}
}

// NewEngine returns an engine spending scriptPubKey with input txIdx of tx.
// A nil hashCache is computed from tx when a segwit input needs it.
func NewEngine(scriptPubKey []byte, tx *wire.MsgTx, txIdx int,
	flags ScriptFlags, sigCache *txscript.SigCache,
	hashCache *sighash.TxSigHashes, inputAmount int64) (*Engine, error) {

	const scriptVersion = 0

	if txIdx < 0 || txIdx >= len(tx.TxIn) {
		str := fmt.Sprintf("transaction input index %d is negative or "+
			">= %d", txIdx, len(tx.TxIn))
		return nil, scriptError(txscript.ErrInvalidIndex, str)
	}
	scriptSig := tx.TxIn[txIdx].SignatureScript

	if len(scriptSig) == 0 && len(scriptPubKey) == 0 {
		return nil, scriptError(txscript.ErrEvalFalse,
			"false stack entry at end of script execution")
	}

	// Clean stack needs p2sh or witness evaluation.
	if flags&ScriptVerifyCleanStack != 0 &&
		flags&(ScriptBip16|ScriptVerifyWitness) == 0 {

		return nil, scriptError(txscript.ErrInvalidFlags,
			"invalid flags combination")
	}

	vm := Engine{
		flags:       flags,
		sigCache:    sigCache,
		hashCache:   hashCache,
		inputAmount: inputAmount,
		state:       Running,
	}

	if !txscript.IsPushOnlyScript(scriptSig) {
		return nil, scriptError(txscript.ErrNotPushOnly,
			"signature script is not push only")
	}

	scripts := [][]byte{scriptSig, scriptPubKey}
	for _, scr := range scripts {
		if len(scr) > txscript.MaxScriptSize {
			str := fmt.Sprintf("script size %d is larger than max allowed "+
				"size %d", len(scr), txscript.MaxScriptSize)
			return nil, scriptError(txscript.ErrScriptTooBig, str)
		}

		if err := checkScriptParses(scriptVersion, scr); err != nil {
			return nil, err
		}
	}
	vm.scripts = scripts

	if len(scriptSig) == 0 {
		vm.scriptIdx++
	}

	if vm.hasFlag(ScriptBip16) && txscript.IsPayToScriptHash(scriptPubKey) {
		vm.bip16 = true
	}
	if vm.hasFlag(ScriptVerifyMinimalData) {
		vm.dstack.verifyMinimalData = true
		vm.astack.verifyMinimalData = true
	}

	// Extract the witness program, either from the public key script or
	// from the redeem script of a P2SH-nested output.
	if vm.hasFlag(ScriptVerifyWitness) {
		var witProgram []byte
		switch {
		case txscript.IsWitnessProgram(scriptPubKey):
			if len(scriptSig) != 0 {
				errStr := "native witness program cannot " +
					"also have a signature script"
				return nil, scriptError(txscript.ErrWitnessMalleated, errStr)
			}
			witProgram = scriptPubKey

		case vm.bip16 && len(tx.TxIn[txIdx].Witness) != 0:
			program, ok := singleWitnessProgramPush(scriptSig)
			if !ok {
				errStr := "signature script for witness " +
					"nested p2sh is not canonical"
				return nil, scriptError(txscript.ErrWitnessMalleatedP2SH, errStr)
			}
			witProgram = program
		}

		if witProgram != nil {
			var err error
			vm.witnessVersion, vm.witnessProgram, err =
				txscript.ExtractWitnessProgramInfo(witProgram)
			if err != nil {
				return nil, err
			}
		} else if len(tx.TxIn[txIdx].Witness) != 0 {
			errStr := "non-witness inputs cannot have a witness"
			return nil, scriptError(txscript.ErrWitnessUnexpected, errStr)
		}
	}

	if vm.witnessProgram != nil && vm.hashCache == nil {
		vm.hashCache = sighash.NewTxSigHashes(tx)
	}

	vm.tokenizer = txscript.MakeScriptTokenizer(scriptVersion, scripts[vm.scriptIdx])

	vm.tx = *tx
	vm.txIdx = txIdx

	return &vm, nil
}

// NewDebugEngine is NewEngine with a callback invoked after every step.
func NewDebugEngine(scriptPubKey []byte, tx *wire.MsgTx, txIdx int,
	flags ScriptFlags, sigCache *txscript.SigCache,
	hashCache *sighash.TxSigHashes, inputAmount int64,
	stepCallback func(*StepInfo) error) (*Engine, error) {

	vm, err := NewEngine(
		scriptPubKey, tx, txIdx, flags, sigCache, hashCache, inputAmount,
	)
	if err != nil {
		return nil, err
	}

	vm.stepCallback = stepCallback
	return vm, nil
}
