package engine

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// scriptError creates a txscript.Error given a set of arguments.
func scriptError(c txscript.ErrorCode, desc string) txscript.Error {
	return txscript.Error{ErrorCode: c, Description: desc}
}

// ScriptError is returned by Execute when a script fails.  It carries the
// failure reason together with the position of the opcode that caused it, so
// that a caller can point at the offending instruction.
//
// ScriptIndex is 0 for the signature script, 1 for the public key script and
// 2 or 3 for redeem and witness scripts.  OpcodeIndex counts opcodes, not
// bytes, within that script.  Both are -1 when the failure happened outside
// of opcode execution, such as the final stack check.
type ScriptError struct {
	Err         txscript.Error
	ScriptIndex int
	OpcodeIndex int
}

// Error satisfies the error interface.
func (e *ScriptError) Error() string {
	if e.ScriptIndex < 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("script %d opcode %d: %v", e.ScriptIndex,
		e.OpcodeIndex, e.Err)
}

// Unwrap returns the underlying txscript.Error so that errors.As and
// txscript.IsErrorCode keep working on positioned errors.
func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Code returns the error code of the failure.
func (e *ScriptError) Code() txscript.ErrorCode {
	return e.Err.ErrorCode
}

// IsErrorCode returns whether err is, or wraps, a script error with the
// given code.
func IsErrorCode(err error, c txscript.ErrorCode) bool {
	var serr txscript.Error
	return errors.As(err, &serr) && serr.ErrorCode == c
}

// positionError attaches a position to err.  Errors that are not script
// errors are returned untouched.
func positionError(err error, scriptIdx, opcodeIdx int) error {
	var serr txscript.Error
	if !errors.As(err, &serr) {
		return err
	}
	var positioned *ScriptError
	if errors.As(err, &positioned) {
		return err
	}
	return &ScriptError{
		Err:         serr,
		ScriptIndex: scriptIdx,
		OpcodeIndex: opcodeIdx,
	}
}

// isScriptError reports whether err is a consensus script failure, as opposed
// to a key or signature that merely failed to parse.
func isScriptError(err error) bool {
	var serr txscript.Error
	return err != nil && errors.As(err, &serr)
}
