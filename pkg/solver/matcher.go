package solver

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ArkLabsHQ/scriptsolver/pkg/sighash"
)

const (
	// maxNestingDepth is the deepest a script may sit below the output
	// script: pay to script hash wrapping a witness script hash wrapping
	// the script that is finally run.
	maxNestingDepth = 2

	// maxMultiSigKeys is the largest key count accepted in a multisig
	// template.
	maxMultiSigKeys = 15
)

// template is the result of matching a script against the known forms.
type template struct {
	class    ScriptClass
	hash     []byte
	pubKey   []byte
	pubKeys  [][]byte
	required int
}

// isStrictPubKeyEncoding returns whether or not the passed public key adheres
// to the strict encoding requirements.
func isStrictPubKeyEncoding(pubKey []byte) bool {
	if len(pubKey) == 33 && (pubKey[0] == 0x02 || pubKey[0] == 0x03) {
		// Compressed
		return true
	}
	if len(pubKey) == 65 && pubKey[0] == 0x04 {
		// Uncompressed
		return true
	}
	return false
}

// extractPubKey returns the key pushed by a pay-to-pubkey script:
//
//	<pubkey> OP_CHECKSIG
func extractPubKey(script []byte) []byte {
	switch {
	case len(script) == 35 && script[0] == txscript.OP_DATA_33 &&
		script[34] == txscript.OP_CHECKSIG:

		if isStrictPubKeyEncoding(script[1:34]) {
			return script[1:34]
		}

	case len(script) == 67 && script[0] == txscript.OP_DATA_65 &&
		script[66] == txscript.OP_CHECKSIG:

		if isStrictPubKeyEncoding(script[1:66]) {
			return script[1:66]
		}
	}
	return nil
}

// extractPubKeyHash returns the hash of a pay-to-pubkey-hash script:
//
//	OP_DUP OP_HASH160 <20-byte hash> OP_EQUALVERIFY OP_CHECKSIG
func extractPubKeyHash(script []byte) []byte {
	if len(script) == 25 &&
		script[0] == txscript.OP_DUP &&
		script[1] == txscript.OP_HASH160 &&
		script[2] == txscript.OP_DATA_20 &&
		script[23] == txscript.OP_EQUALVERIFY &&
		script[24] == txscript.OP_CHECKSIG {

		return script[3:23]
	}
	return nil
}

// extractScriptHash returns the hash of a pay-to-script-hash script:
//
//	OP_HASH160 <20-byte hash> OP_EQUAL
func extractScriptHash(script []byte) []byte {
	if len(script) == 23 &&
		script[0] == txscript.OP_HASH160 &&
		script[1] == txscript.OP_DATA_20 &&
		script[22] == txscript.OP_EQUAL {

		return script[2:22]
	}
	return nil
}

// extractWitnessV0Program returns the program of a version 0 witness script
// of the given program size:
//
//	OP_0 <program>
func extractWitnessV0Program(script []byte, size int) []byte {
	if len(script) == size+2 &&
		script[0] == txscript.OP_0 &&
		int(script[1]) == size {

		return script[2:]
	}
	return nil
}

// extractMultisig matches a bare multisig script:
//
//	OP_m <pubkey>... OP_n OP_CHECKMULTISIG
//
// with 1 <= m <= n <= 15 and every key strictly encoded.
func extractMultisig(script []byte) ([][]byte, int, bool) {
	if len(script) < 3 || script[len(script)-1] != txscript.OP_CHECKMULTISIG {
		return nil, 0, false
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() || !txscript.IsSmallInt(tokenizer.Opcode()) {
		return nil, 0, false
	}
	required := txscript.AsSmallInt(tokenizer.Opcode())

	var pubKeys [][]byte
	for tokenizer.Next() {
		if txscript.IsSmallInt(tokenizer.Opcode()) {
			break
		}

		data := tokenizer.Data()
		if !isStrictPubKeyEncoding(data) {
			return nil, 0, false
		}
		pubKeys = append(pubKeys, data)
	}
	if tokenizer.Done() {
		return nil, 0, false
	}

	op := tokenizer.Opcode()
	if !txscript.IsSmallInt(op) || txscript.AsSmallInt(op) != len(pubKeys) {
		return nil, 0, false
	}

	// Only OP_CHECKMULTISIG may follow.
	if int32(len(tokenizer.Script()))-tokenizer.ByteIndex() != 1 {
		return nil, 0, false
	}

	if required < 1 || required > len(pubKeys) ||
		len(pubKeys) > maxMultiSigKeys {

		return nil, 0, false
	}
	return pubKeys, required, true
}

// classify matches script against every known template.
func classify(script []byte) template {
	if pubKey := extractPubKey(script); pubKey != nil {
		return template{class: PubKeyTy, pubKey: pubKey}
	}
	if hash := extractPubKeyHash(script); hash != nil {
		return template{class: PubKeyHashTy, hash: hash}
	}
	if hash := extractScriptHash(script); hash != nil {
		return template{class: ScriptHashTy, hash: hash}
	}
	if hash := extractWitnessV0Program(script, 20); hash != nil {
		return template{class: WitnessV0PubKeyHashTy, hash: hash}
	}
	if hash := extractWitnessV0Program(script, 32); hash != nil {
		return template{class: WitnessV0ScriptHashTy, hash: hash}
	}
	if pubKeys, required, ok := extractMultisig(script); ok {
		return template{
			class:    MultiSigTy,
			pubKeys:  pubKeys,
			required: required,
		}
	}
	return template{class: NonStandardTy}
}

// GetScriptClass returns the class of the script passed.
func GetScriptClass(script []byte) ScriptClass {
	return classify(script).class
}

// matchState tracks the layers of wrapping above the script being matched.
type matchState struct {
	depth     int
	inP2SH    bool
	inWitness bool
}

// MatchScript derives the constraints for spending an output of the given
// amount locked with pkScript.  Scripts behind script hashes are resolved
// through sdb, which may be nil when pkScript is known not to need it.
func MatchScript(pkScript []byte, amount int64,
	sdb ScriptDB) (*ConstraintSet, error) {

	constraints, class, err := match(pkScript, matchState{}, sdb)
	if err != nil {
		return nil, err
	}

	cs := &ConstraintSet{
		Amount:      amount,
		PkScript:    pkScript,
		Class:       class,
		Constraints: constraints,
	}

	if log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		log.Tracef("constraints for %x: %s", pkScript, spew.Sdump(cs))
	}
	return cs, nil
}

// DetermineConstraints derives the constraints for spending input idx of tx.
func DetermineConstraints(tx *wire.MsgTx, idx int,
	prevOuts txscript.PrevOutputFetcher, sdb ScriptDB) (*ConstraintSet, error) {

	return New(tx, prevOuts).DetermineConstraints(idx, sdb)
}

func match(script []byte, state matchState,
	sdb ScriptDB) ([]Constraint, ScriptClass, error) {

	// The layering rules below already stop at two levels; this bounds the
	// recursion should a new wrapping template be added.
	if state.depth > maxNestingDepth {
		return nil, NonStandardTy, errors.Wrapf(ErrTemplateMismatch,
			"nesting deeper than %d levels", maxNestingDepth)
	}

	tmpl := classify(script)
	switch tmpl.class {
	case PubKeyTy:
		return []Constraint{&SignatureConstraint{
			Class:       PubKeyTy,
			PubKeyHash:  btcutil.Hash160(tmpl.pubKey),
			PubKey:      tmpl.pubKey,
			ScriptCode:  script,
			SigHashType: txscript.SigHashAll,
			Witness:     state.inWitness,
		}}, tmpl.class, nil

	case PubKeyHashTy:
		return []Constraint{&SignatureConstraint{
			Class:       PubKeyHashTy,
			PubKeyHash:  tmpl.hash,
			ScriptCode:  script,
			SigHashType: txscript.SigHashAll,
			Witness:     state.inWitness,
		}}, tmpl.class, nil

	case MultiSigTy:
		return []Constraint{&MultisigConstraint{
			PubKeys:     tmpl.pubKeys,
			Threshold:   tmpl.required,
			ScriptCode:  script,
			SigHashType: txscript.SigHashAll,
			Witness:     state.inWitness,
		}}, tmpl.class, nil

	case ScriptHashTy:
		if state.inP2SH || state.inWitness {
			return nil, tmpl.class, errors.Wrap(ErrTemplateMismatch,
				"script hash nested in a wrapped script")
		}

		redeem, err := resolve(sdb, tmpl.hash, btcutil.Hash160)
		if err != nil {
			return nil, tmpl.class, err
		}

		inner, err := matchWrapped(redeem, matchState{
			depth:  state.depth + 1,
			inP2SH: true,
		}, sdb)
		if err != nil {
			return nil, tmpl.class, err
		}

		constraints := []Constraint{&ScriptHashPreimageConstraint{
			Hash:   tmpl.hash,
			Script: redeem,
		}}
		return append(constraints, inner...), tmpl.class, nil

	case WitnessV0PubKeyHashTy:
		if state.inWitness {
			return nil, tmpl.class, errors.Wrap(ErrTemplateMismatch,
				"witness program nested in a witness script")
		}

		return []Constraint{
			&WitnessProgramConstraint{
				Program: tmpl.hash,
				Nested:  state.inP2SH,
			},
			&SignatureConstraint{
				Class:       WitnessV0PubKeyHashTy,
				PubKeyHash:  tmpl.hash,
				ScriptCode:  sighash.PayToPubKeyHashScript(tmpl.hash),
				SigHashType: txscript.SigHashAll,
				Witness:     true,
			},
		}, tmpl.class, nil

	case WitnessV0ScriptHashTy:
		if state.inWitness {
			return nil, tmpl.class, errors.Wrap(ErrTemplateMismatch,
				"witness program nested in a witness script")
		}

		witnessScript, err := resolve(sdb, tmpl.hash, sha256Hash)
		if err != nil {
			return nil, tmpl.class, err
		}

		inner, err := matchWrapped(witnessScript, matchState{
			depth:     state.depth + 1,
			inP2SH:    state.inP2SH,
			inWitness: true,
		}, sdb)
		if err != nil {
			return nil, tmpl.class, err
		}

		constraints := []Constraint{
			&WitnessProgramConstraint{
				Program: tmpl.hash,
				Nested:  state.inP2SH,
			},
			&ScriptHashPreimageConstraint{
				Hash:    tmpl.hash,
				Script:  witnessScript,
				Witness: true,
			},
		}
		return append(constraints, inner...), tmpl.class, nil

	default:
		return nil, NonStandardTy, errors.Wrapf(ErrTemplateMismatch,
			"script %x", script)
	}
}

// matchWrapped matches a script revealed from behind a hash.  Scripts that
// fit no template become an opaque constraint for the caller to fill.
func matchWrapped(script []byte, state matchState,
	sdb ScriptDB) ([]Constraint, error) {

	if classify(script).class == NonStandardTy &&
		state.depth <= maxNestingDepth {

		return []Constraint{&OpaqueScriptConstraint{
			Script:  script,
			Witness: state.inWitness,
		}}, nil
	}

	constraints, _, err := match(script, state, sdb)
	return constraints, err
}

// resolve looks up the preimage of hash and checks that it hashes back.
func resolve(sdb ScriptDB, hash []byte,
	hashFn func([]byte) []byte) ([]byte, error) {

	if sdb == nil {
		return nil, errors.Wrapf(ErrUnknownScriptHash,
			"no script lookup for %x", hash)
	}

	script, err := sdb.GetScript(hash)
	if err != nil {
		log.Debugf("script lookup for %x failed: %v", hash, err)
		return nil, errors.Wrapf(ErrUnknownScriptHash, "%x", hash)
	}
	if script == nil {
		return nil, errors.Wrapf(ErrUnknownScriptHash, "%x", hash)
	}
	if !bytes.Equal(hashFn(script), hash) {
		return nil, errors.Wrapf(ErrUnknownScriptHash,
			"script returned for %x does not match the hash", hash)
	}
	return script, nil
}

func sha256Hash(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}
