package solver

import (
	"github.com/pkg/errors"
)

var (
	// ErrTemplateMismatch is returned when a locking script does not match
	// any supported template, or nests templates in a way consensus does
	// not allow.  Such outputs can still be spent with a solution built by
	// hand.
	ErrTemplateMismatch = errors.New("script does not match a known template")

	// ErrUnknownScriptHash is returned when the script behind a script hash
	// or witness script hash is not available from the ScriptDB.
	ErrUnknownScriptHash = errors.New("unknown script hash")

	// ErrSolving is returned when a constraint other than a multisig one
	// cannot be satisfied with the keys and items at hand.
	ErrSolving = errors.New("unable to solve constraint")
)
