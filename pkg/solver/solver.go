// Package solver derives what it takes to spend an output and assembles the
// unlocking data from the keys and scripts a caller has access to.
//
// Locking scripts are matched against the standard templates by
// DetermineConstraints, which follows script hash and witness script hash
// wrappers through a ScriptDB.  SolveForConstraints then fills the resulting
// constraints using a KeyDB, optionally extending a partial solution from an
// earlier round.  The result is meant to be checked with engine.CheckSolution.
package solver

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/ArkLabsHQ/scriptsolver/pkg/sighash"
)

// Solver solves the inputs of one transaction.  Signature digests are
// memoized across calls, so the transaction must not be modified while the
// Solver is in use, other than writing solutions into its inputs.
type Solver struct {
	tx       *wire.MsgTx
	prevOuts txscript.PrevOutputFetcher
	hashes   *sighash.Cache
}

// New returns a Solver for tx.  prevOuts provides the outputs spent by the
// inputs of tx.
func New(tx *wire.MsgTx, prevOuts txscript.PrevOutputFetcher) *Solver {
	return &Solver{
		tx:       tx,
		prevOuts: prevOuts,
		hashes:   sighash.NewCache(tx),
	}
}

// Option configures a call to SolveForConstraints.
type Option func(*options)

type options struct {
	existing    *Solution
	sigHashType txscript.SigHashType
	sdb         ScriptDB
	manualItems [][]byte
}

// WithExistingSolution provides the result of an earlier round.  Every
// signature in it that is still valid is kept.
func WithExistingSolution(sol *Solution) Option {
	return func(o *options) {
		o.existing = sol
	}
}

// WithSigHashType sets the hash type of new signatures, overriding the one
// carried by the constraints.
func WithSigHashType(hashType txscript.SigHashType) Option {
	return func(o *options) {
		o.sigHashType = hashType
	}
}

// WithScriptLookup resolves script hash constraints that were built without
// their script.
func WithScriptLookup(sdb ScriptDB) Option {
	return func(o *options) {
		o.sdb = sdb
	}
}

// WithManualItems supplies the items satisfying an opaque script, bottom of
// the stack first.
func WithManualItems(items ...[]byte) Option {
	return func(o *options) {
		o.manualItems = items
	}
}

func (o *options) hashType(fallback txscript.SigHashType) txscript.SigHashType {
	switch {
	case o.sigHashType != 0:
		return o.sigHashType
	case fallback != 0:
		return fallback
	default:
		return txscript.SigHashAll
	}
}

// prevOut returns the output spent by input idx.
func (s *Solver) prevOut(idx int) (*wire.TxOut, error) {
	if idx < 0 || idx >= len(s.tx.TxIn) {
		return nil, errors.Errorf("input index %d out of range for "+
			"transaction with %d inputs", idx, len(s.tx.TxIn))
	}

	outPoint := s.tx.TxIn[idx].PreviousOutPoint
	prevOut := s.prevOuts.FetchPrevOutput(outPoint)
	if prevOut == nil {
		return nil, errors.Errorf("previous output %v of input %d is "+
			"unknown", outPoint, idx)
	}
	return prevOut, nil
}

// DetermineConstraints derives the constraints for spending input idx.
func (s *Solver) DetermineConstraints(idx int,
	sdb ScriptDB) (*ConstraintSet, error) {

	prevOut, err := s.prevOut(idx)
	if err != nil {
		return nil, err
	}

	cs, err := MatchScript(prevOut.PkScript, prevOut.Value, sdb)
	if err != nil {
		return nil, errors.Wrapf(err, "input %d", idx)
	}
	cs.InputIndex = idx
	return cs, nil
}

// SolveForConstraints assembles a solution for cs with the keys available
// from kdb.
//
// A multisig constraint short of keys yields a partial solution with
// Complete unset rather than an error, so that it can be extended in a
// later round through WithExistingSolution.  Any other constraint that
// cannot be met fails with ErrSolving.
func (s *Solver) SolveForConstraints(cs *ConstraintSet, kdb KeyDB,
	opts ...Option) (*Solution, error) {

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if cs.InputIndex < 0 || cs.InputIndex >= len(s.tx.TxIn) {
		return nil, errors.Errorf("input index %d out of range for "+
			"transaction with %d inputs", cs.InputIndex, len(s.tx.TxIn))
	}

	candidates := o.existing.items()
	sol := &Solution{Complete: true}

	// Inner constraints provide the bottom of the stacks and each wrapper
	// appends its script on top.
	for i := len(cs.Constraints) - 1; i >= 0; i-- {
		switch c := cs.Constraints[i].(type) {
		case *SignatureConstraint:
			items, sig, err := s.solveSignature(
				cs, c, kdb, candidates, o.hashType(c.SigHashType),
			)
			if err != nil {
				return nil, err
			}
			sol.push(c.Witness, items...)
			sol.Sigs = append(sol.Sigs, sig)

		case *MultisigConstraint:
			items, sigs, complete, err := s.solveMultisig(
				cs, c, kdb, candidates, o.hashType(c.SigHashType),
			)
			if err != nil {
				return nil, err
			}
			sol.push(c.Witness, items...)
			sol.Sigs = append(sol.Sigs, sigs...)
			sol.Complete = sol.Complete && complete

		case *ScriptHashPreimageConstraint:
			script := c.Script
			if script == nil {
				hashFn := btcutil.Hash160
				if c.Witness {
					hashFn = sha256Hash
				}

				var err error
				script, err = resolve(o.sdb, c.Hash, hashFn)
				if err != nil {
					return nil, err
				}
			}
			sol.push(c.Witness, script)

		case *WitnessProgramConstraint:
			// The program is revealed by the enclosing script hash
			// constraint when nested and is the output script
			// otherwise.

		case *OpaqueScriptConstraint:
			if len(o.manualItems) == 0 {
				return nil, errors.Wrapf(ErrSolving,
					"script %x matches no template and no "+
						"items were supplied", c.Script)
			}
			sol.push(c.Witness, o.manualItems...)

		default:
			return nil, errors.Errorf("unknown constraint %T", c)
		}
	}

	return sol, nil
}

// solveSignature satisfies a single signature constraint, reusing a valid
// signature from candidates when there is one.
func (s *Solver) solveSignature(cs *ConstraintSet, c *SignatureConstraint,
	kdb KeyDB, candidates [][]byte,
	hashType txscript.SigHashType) ([][]byte, SigInfo, error) {

	pubKey := c.PubKey
	if pubKey == nil {
		pubKey = findPubKey(candidates, c.PubKeyHash)
	}

	var sig []byte
	if pubKey != nil {
		for _, candidate := range candidates {
			if s.verifySignature(cs, c.ScriptCode, c.Witness, pubKey,
				candidate) {

				sig = candidate
			}
		}
	}

	if sig == nil {
		signer := lookupKey(kdb, c.PubKeyHash)
		if signer == nil {
			return nil, SigInfo{}, errors.Wrapf(ErrSolving,
				"no key for public key hash %x", c.PubKeyHash)
		}
		if pubKey == nil {
			pubKey = signer.PubKey()
		}

		var err error
		sig, err = s.sign(cs, c.ScriptCode, c.Witness, signer, hashType)
		if err != nil {
			return nil, SigInfo{}, errors.Wrapf(ErrSolving, "%v", err)
		}
	}

	info := SigInfo{PubKey: pubKey, Signature: sig}
	if c.Class == PubKeyTy {
		return [][]byte{sig}, info, nil
	}
	return [][]byte{sig, pubKey}, info, nil
}

// SignScript signs input idx committing to scriptCode and returns the
// signature with its hash type appended.  It serves callers that assemble
// the solution of a script the matcher does not recognize.
func (s *Solver) SignScript(idx int, scriptCode []byte, witness bool,
	signer Signer, hashType txscript.SigHashType) ([]byte, error) {

	prevOut, err := s.prevOut(idx)
	if err != nil {
		return nil, err
	}

	cs := &ConstraintSet{InputIndex: idx, Amount: prevOut.Value}
	return s.sign(cs, scriptCode, witness, signer, hashType)
}

// digest returns the signature hash for the input of cs.
func (s *Solver) digest(cs *ConstraintSet, scriptCode []byte, witness bool,
	hashType txscript.SigHashType) ([]byte, error) {

	if witness {
		return s.hashes.Witness(scriptCode, hashType, cs.InputIndex,
			cs.Amount)
	}
	return s.hashes.Legacy(scriptCode, hashType, cs.InputIndex)
}

func (s *Solver) sign(cs *ConstraintSet, scriptCode []byte, witness bool,
	signer Signer, hashType txscript.SigHashType) ([]byte, error) {

	digest, err := s.digest(cs, scriptCode, witness, hashType)
	if err != nil {
		return nil, err
	}

	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to sign input %d",
			cs.InputIndex)
	}
	return append(sig, byte(hashType)), nil
}

// verifySignature reports whether sig, with its trailing hash type, is a
// valid signature by pubKey for the input of cs.
func (s *Solver) verifySignature(cs *ConstraintSet, scriptCode []byte,
	witness bool, pubKey, sig []byte) bool {

	if len(sig) < 2 {
		return false
	}

	hashType := txscript.SigHashType(sig[len(sig)-1])
	parsed, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return false
	}
	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}

	digest, err := s.digest(cs, scriptCode, witness, hashType)
	if err != nil {
		return false
	}
	return parsed.Verify(digest, key)
}

// findPubKey returns the item of candidates hashing to pubKeyHash.
func findPubKey(candidates [][]byte, pubKeyHash []byte) []byte {
	for _, candidate := range candidates {
		if len(candidate) != 33 && len(candidate) != 65 {
			continue
		}
		if string(btcutil.Hash160(candidate)) == string(pubKeyHash) {
			return candidate
		}
	}
	return nil
}

// lookupKey returns the signer for pubKeyHash, or nil when it is not
// available.
func lookupKey(kdb KeyDB, pubKeyHash []byte) Signer {
	if kdb == nil {
		return nil
	}

	signer, err := kdb.GetKey(pubKeyHash)
	if err != nil {
		log.Debugf("key lookup for %x failed: %v", pubKeyHash, err)
		return nil
	}
	return signer
}
