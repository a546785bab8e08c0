package engine

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/ArkLabsHQ/scriptsolver/pkg/sighash"
)

const testAmount = 50000

func testKey(seed byte) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return priv
}

func compressed(k *btcec.PrivateKey) []byte {
	return k.PubKey().SerializeCompressed()
}

func mustScript(t *testing.T, b *txscript.ScriptBuilder) []byte {
	t.Helper()

	script, err := b.Script()
	if err != nil {
		t.Fatalf("unable to build script: %v", err)
	}
	return script
}

func legacySig(t *testing.T, tx *wire.MsgTx, script []byte,
	hashType txscript.SigHashType, k *btcec.PrivateKey) []byte {

	t.Helper()

	hash, err := sighash.CalcSignatureHash(script, hashType, tx, 0)
	if err != nil {
		t.Fatalf("unable to compute sighash: %v", err)
	}
	return append(ecdsa.Sign(k, hash).Serialize(), byte(hashType))
}

func witnessSig(t *testing.T, tx *wire.MsgTx, scriptCode []byte,
	hashType txscript.SigHashType, k *btcec.PrivateKey) []byte {

	t.Helper()

	hash, err := sighash.CalcWitnessSignatureHash(
		scriptCode, nil, hashType, tx, 0, testAmount,
	)
	if err != nil {
		t.Fatalf("unable to compute witness sighash: %v", err)
	}
	return append(ecdsa.Sign(k, hash).Serialize(), byte(hashType))
}

func multisigScript(t *testing.T, required int, keys ...[]byte) []byte {
	b := txscript.NewScriptBuilder().AddInt64(int64(required))
	for _, k := range keys {
		b.AddData(k)
	}
	b.AddInt64(int64(len(keys))).AddOp(txscript.OP_CHECKMULTISIG)
	return mustScript(t, b)
}

func p2shScript(t *testing.T, redeem []byte) []byte {
	return mustScript(t, txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).AddData(btcutil.Hash160(redeem)).
		AddOp(txscript.OP_EQUAL))
}

func p2wshScript(t *testing.T, witnessScript []byte) []byte {
	h := sha256.Sum256(witnessScript)
	return mustScript(t, txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(h[:]))
}

func checkInput(tx *wire.MsgTx, pkScript []byte) error {
	return CheckSolution(
		tx, 0, txscript.NewCannedPrevOutputFetcher(pkScript, testAmount),
	)
}

func TestCheckSolutionLegacy(t *testing.T) {
	t.Parallel()

	k1, k2, k3 := testKey(1), testKey(2), testKey(3)
	p2pkh := sighash.PayToPubKeyHashScript(btcutil.Hash160(compressed(k1)))
	p2pk := mustScript(t, txscript.NewScriptBuilder().
		AddData(k1.PubKey().SerializeUncompressed()).
		AddOp(txscript.OP_CHECKSIG))
	multisig := multisigScript(t, 2, compressed(k1), compressed(k2),
		compressed(k3))
	p2sh := p2shScript(t, multisig)

	tests := []struct {
		name     string
		pkScript []byte
		sigs     func(tx *wire.MsgTx) *txscript.ScriptBuilder
		code     txscript.ErrorCode
		valid    bool
	}{
		{
			name:     "p2pkh",
			pkScript: p2pkh,
			sigs: func(tx *wire.MsgTx) *txscript.ScriptBuilder {
				sig := legacySig(t, tx, p2pkh, txscript.SigHashAll, k1)
				return txscript.NewScriptBuilder().AddData(sig).
					AddData(compressed(k1))
			},
			valid: true,
		},
		{
			name:     "p2pkh single anyonecanpay",
			pkScript: p2pkh,
			sigs: func(tx *wire.MsgTx) *txscript.ScriptBuilder {
				sig := legacySig(t, tx, p2pkh,
					txscript.SigHashSingle|txscript.SigHashAnyOneCanPay, k1)
				return txscript.NewScriptBuilder().AddData(sig).
					AddData(compressed(k1))
			},
			valid: true,
		},
		{
			name:     "p2pkh signed by another key",
			pkScript: p2pkh,
			sigs: func(tx *wire.MsgTx) *txscript.ScriptBuilder {
				sig := legacySig(t, tx, p2pkh, txscript.SigHashAll, k2)
				return txscript.NewScriptBuilder().AddData(sig).
					AddData(compressed(k1))
			},
			code: txscript.ErrNullFail,
		},
		{
			name:     "p2pkh wrong public key",
			pkScript: p2pkh,
			sigs: func(tx *wire.MsgTx) *txscript.ScriptBuilder {
				sig := legacySig(t, tx, p2pkh, txscript.SigHashAll, k2)
				return txscript.NewScriptBuilder().AddData(sig).
					AddData(compressed(k2))
			},
			code: txscript.ErrEqualVerify,
		},
		{
			name:     "p2pk uncompressed",
			pkScript: p2pk,
			sigs: func(tx *wire.MsgTx) *txscript.ScriptBuilder {
				sig := legacySig(t, tx, p2pk, txscript.SigHashNone, k1)
				return txscript.NewScriptBuilder().AddData(sig)
			},
			valid: true,
		},
		{
			name:     "bare multisig in key order",
			pkScript: multisig,
			sigs: func(tx *wire.MsgTx) *txscript.ScriptBuilder {
				return txscript.NewScriptBuilder().AddOp(txscript.OP_0).
					AddData(legacySig(t, tx, multisig, txscript.SigHashAll, k2)).
					AddData(legacySig(t, tx, multisig, txscript.SigHashAll, k3))
			},
			valid: true,
		},
		{
			name:     "bare multisig out of key order",
			pkScript: multisig,
			sigs: func(tx *wire.MsgTx) *txscript.ScriptBuilder {
				return txscript.NewScriptBuilder().AddOp(txscript.OP_0).
					AddData(legacySig(t, tx, multisig, txscript.SigHashAll, k3)).
					AddData(legacySig(t, tx, multisig, txscript.SigHashAll, k2))
			},
			code: txscript.ErrNullFail,
		},
		{
			name:     "bare multisig non null dummy",
			pkScript: multisig,
			sigs: func(tx *wire.MsgTx) *txscript.ScriptBuilder {
				return txscript.NewScriptBuilder().AddOp(txscript.OP_1).
					AddData(legacySig(t, tx, multisig, txscript.SigHashAll, k1)).
					AddData(legacySig(t, tx, multisig, txscript.SigHashAll, k2))
			},
			code: txscript.ErrSigNullDummy,
		},
		{
			name:     "bare multisig below threshold",
			pkScript: multisig,
			sigs: func(tx *wire.MsgTx) *txscript.ScriptBuilder {
				return txscript.NewScriptBuilder().AddOp(txscript.OP_0).
					AddData(legacySig(t, tx, multisig, txscript.SigHashAll, k1)).
					AddOp(txscript.OP_0)
			},
			code: txscript.ErrNullFail,
		},
		{
			name:     "p2sh multisig",
			pkScript: p2sh,
			sigs: func(tx *wire.MsgTx) *txscript.ScriptBuilder {
				return txscript.NewScriptBuilder().AddOp(txscript.OP_0).
					AddData(legacySig(t, tx, multisig, txscript.SigHashAll, k1)).
					AddData(legacySig(t, tx, multisig, txscript.SigHashAll, k3)).
					AddData(multisig)
			},
			valid: true,
		},
		{
			name:     "p2sh wrong redeem script",
			pkScript: p2sh,
			sigs: func(tx *wire.MsgTx) *txscript.ScriptBuilder {
				return txscript.NewScriptBuilder().AddOp(txscript.OP_1).
					AddData(p2pkh)
			},
			code: txscript.ErrEvalFalse,
		},
	}

	for _, test := range tests {
		tx := spendTx(0, 0)
		tx.TxIn[0].SignatureScript = mustScript(t, test.sigs(tx))

		err := checkInput(tx, test.pkScript)
		if test.valid && err != nil {
			t.Errorf("%s: CheckSolution failed: %v", test.name, err)
		}
		if !test.valid && !IsErrorCode(err, test.code) {
			t.Errorf("%s: unexpected error: got %v, want %v",
				test.name, err, test.code)
		}
	}
}

func TestCheckSolutionWitness(t *testing.T) {
	t.Parallel()

	k1, k2 := testKey(1), testKey(2)
	pkHash := btcutil.Hash160(compressed(k1))
	p2wpkh := mustScript(t, txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(pkHash))
	uncompressedHash := btcutil.Hash160(k1.PubKey().SerializeUncompressed())
	p2wpkhUncompressed := mustScript(t, txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(uncompressedHash))
	witnessScript := multisigScript(t, 1, compressed(k1), compressed(k2))
	p2wsh := p2wshScript(t, witnessScript)
	nested := p2shScript(t, p2wsh)
	taproot := append([]byte{txscript.OP_1, txscript.OP_DATA_32},
		bytes.Repeat([]byte{0x02}, 32)...)

	tests := []struct {
		name      string
		pkScript  []byte
		sigScript []byte
		witness   func(tx *wire.MsgTx) wire.TxWitness
		code      txscript.ErrorCode
		valid     bool
	}{
		{
			name:     "p2wpkh",
			pkScript: p2wpkh,
			witness: func(tx *wire.MsgTx) wire.TxWitness {
				sig := witnessSig(t, tx, p2wpkh, txscript.SigHashAll, k1)
				return wire.TxWitness{sig, compressed(k1)}
			},
			valid: true,
		},
		{
			name:      "p2wpkh with signature script",
			pkScript:  p2wpkh,
			sigScript: []byte{txscript.OP_1},
			witness: func(tx *wire.MsgTx) wire.TxWitness {
				sig := witnessSig(t, tx, p2wpkh, txscript.SigHashAll, k1)
				return wire.TxWitness{sig, compressed(k1)}
			},
			code: txscript.ErrWitnessMalleated,
		},
		{
			name:     "p2wpkh three witness items",
			pkScript: p2wpkh,
			witness: func(tx *wire.MsgTx) wire.TxWitness {
				sig := witnessSig(t, tx, p2wpkh, txscript.SigHashAll, k1)
				return wire.TxWitness{nil, sig, compressed(k1)}
			},
			code: txscript.ErrWitnessProgramMismatch,
		},
		{
			name:     "p2wpkh uncompressed key",
			pkScript: p2wpkhUncompressed,
			witness: func(tx *wire.MsgTx) wire.TxWitness {
				sig := witnessSig(t, tx, p2wpkhUncompressed,
					txscript.SigHashAll, k1)
				return wire.TxWitness{
					sig, k1.PubKey().SerializeUncompressed(),
				}
			},
			code: txscript.ErrWitnessPubKeyType,
		},
		{
			name:     "p2wpkh signed with legacy digest",
			pkScript: p2wpkh,
			witness: func(tx *wire.MsgTx) wire.TxWitness {
				script := sighash.PayToPubKeyHashScript(pkHash)
				sig := legacySig(t, tx, script, txscript.SigHashAll, k1)
				return wire.TxWitness{sig, compressed(k1)}
			},
			code: txscript.ErrNullFail,
		},
		{
			name:     "p2wsh multisig",
			pkScript: p2wsh,
			witness: func(tx *wire.MsgTx) wire.TxWitness {
				sig := witnessSig(t, tx, witnessScript,
					txscript.SigHashAll, k2)
				return wire.TxWitness{nil, sig, witnessScript}
			},
			valid: true,
		},
		{
			name:     "p2wsh script hash mismatch",
			pkScript: p2wsh,
			witness: func(tx *wire.MsgTx) wire.TxWitness {
				return wire.TxWitness{{0x01}}
			},
			code: txscript.ErrWitnessProgramMismatch,
		},
		{
			name:     "p2wsh empty witness",
			pkScript: p2wsh,
			witness: func(tx *wire.MsgTx) wire.TxWitness {
				return nil
			},
			code: txscript.ErrWitnessProgramEmpty,
		},
		{
			name:      "p2sh-p2wsh multisig",
			pkScript:  nested,
			sigScript: mustScript(t, txscript.NewScriptBuilder().AddData(p2wsh)),
			witness: func(tx *wire.MsgTx) wire.TxWitness {
				sig := witnessSig(t, tx, witnessScript,
					txscript.SigHashAll|txscript.SigHashAnyOneCanPay, k1)
				return wire.TxWitness{nil, sig, witnessScript}
			},
			valid: true,
		},
		{
			name:     "p2sh-p2wsh without push",
			pkScript: nested,
			sigScript: mustScript(t, txscript.NewScriptBuilder().
				AddOp(txscript.OP_1).AddData(p2wsh)),
			witness: func(tx *wire.MsgTx) wire.TxWitness {
				return wire.TxWitness{nil, witnessScript}
			},
			code: txscript.ErrWitnessMalleatedP2SH,
		},
		{
			name:     "taproot",
			pkScript: taproot,
			witness: func(tx *wire.MsgTx) wire.TxWitness {
				return wire.TxWitness{bytes.Repeat([]byte{0x01}, 64)}
			},
			code: txscript.ErrDiscourageUpgradableWitnessProgram,
		},
	}

	for _, test := range tests {
		tx := spendTx(0, 0)
		tx.TxIn[0].SignatureScript = test.sigScript
		tx.TxIn[0].Witness = test.witness(tx)

		err := checkInput(tx, test.pkScript)
		if test.valid && err != nil {
			t.Errorf("%s: CheckSolution failed: %v", test.name, err)
		}
		if !test.valid && !IsErrorCode(err, test.code) {
			t.Errorf("%s: unexpected error: got %v, want %v",
				test.name, err, test.code)
		}
	}
}

func TestCheckSolutionUnknownPrevOut(t *testing.T) {
	t.Parallel()

	tx := spendTx(0, 0)
	fetcher := txscript.NewMultiPrevOutFetcher(nil)

	err := CheckSolution(tx, 0, fetcher)
	if !IsErrorCode(err, txscript.ErrInvalidIndex) {
		t.Fatalf("unexpected error: %v", err)
	}

	err = CheckSolution(tx, 3, fetcher)
	if !IsErrorCode(err, txscript.ErrInvalidIndex) {
		t.Fatalf("unexpected error: %v", err)
	}
}
