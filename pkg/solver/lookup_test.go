package solver

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestNewKeyLookup(t *testing.T) {
	t.Parallel()

	k1 := testKey(1)
	kdb := NewKeyLookup(k1)

	signer, err := kdb.GetKey(btcutil.Hash160(pub(k1)))
	require.NoError(t, err)
	require.Equal(t, pub(k1), signer.PubKey())

	uncompressed := k1.PubKey().SerializeUncompressed()
	signer, err = kdb.GetKey(btcutil.Hash160(uncompressed))
	require.NoError(t, err)
	require.Equal(t, uncompressed, signer.PubKey())

	digest := sha256.Sum256([]byte("digest"))
	der, err := signer.Sign(digest[:])
	require.NoError(t, err)
	sig, err := ecdsa.ParseDERSignature(der)
	require.NoError(t, err)
	require.True(t, sig.Verify(digest[:], k1.PubKey()))

	_, err = kdb.GetKey(btcutil.Hash160(pub(testKey(2))))
	require.Error(t, err)
}

func TestNewScriptLookup(t *testing.T) {
	t.Parallel()

	script := p2pkhScript(pub(testKey(1)))
	sdb := NewScriptLookup(script)

	got, err := sdb.GetScript(btcutil.Hash160(script))
	require.NoError(t, err)
	require.Equal(t, script, got)

	got, err = sdb.GetScript(sha256Hash(script))
	require.NoError(t, err)
	require.Equal(t, script, got)

	_, err = sdb.GetScript(make([]byte, 20))
	require.Error(t, err)
}

func TestGetScriptClass(t *testing.T) {
	t.Parallel()

	k1 := testKey(1)
	tests := []struct {
		script []byte
		class  ScriptClass
	}{
		{p2pkScript(t, pub(k1)), PubKeyTy},
		{p2pkScript(t, pub(k1)[:32]), NonStandardTy},
		{p2pkhScript(pub(k1)), PubKeyHashTy},
		{multisigScript(t, 1, pub(k1)), MultiSigTy},
		{p2shScript(t, []byte{txscript.OP_TRUE}), ScriptHashTy},
		{p2wpkhScript(t, pub(k1)), WitnessV0PubKeyHashTy},
		{p2wshScript(t, []byte{txscript.OP_TRUE}), WitnessV0ScriptHashTy},
		{[]byte{txscript.OP_1, txscript.OP_DATA_32, 0}, NonStandardTy},
		{nil, NonStandardTy},
	}

	for _, test := range tests {
		require.Equal(t, test.class, GetScriptClass(test.script),
			"script %x", test.script)
	}

	require.Equal(t, "multisig", MultiSigTy.String())
	require.Equal(t, "Invalid", ScriptClass(200).String())
}

func TestSolutionFromTxIn(t *testing.T) {
	t.Parallel()

	data := []byte{0xde, 0xad, 0xbe, 0xef}
	sigScript := mustScript(t, txscript.NewScriptBuilder().
		AddData(nil).AddInt64(1).AddInt64(16).AddInt64(-1).AddData(data))

	txIn := wire.NewTxIn(&wire.OutPoint{}, sigScript,
		wire.TxWitness{{0x01}, data})
	sol, err := SolutionFromTxIn(txIn)
	require.NoError(t, err)

	require.Len(t, sol.Stack, 5)
	require.Empty(t, sol.Stack[0])
	require.Equal(t, []byte{1}, sol.Stack[1])
	require.Equal(t, []byte{16}, sol.Stack[2])
	require.Equal(t, []byte{0x81}, sol.Stack[3])
	require.Equal(t, data, sol.Stack[4])
	require.Equal(t, txIn.Witness, sol.Witness)

	// The witness is copied, not shared.
	sol.Witness[0] = nil
	require.Equal(t, []byte{0x01}, txIn.Witness[0])

	txIn.SignatureScript = []byte{txscript.OP_DUP}
	_, err = SolutionFromTxIn(txIn)
	require.Error(t, err)

	txIn.SignatureScript = []byte{txscript.OP_DATA_2, 0x01}
	_, err = SolutionFromTxIn(txIn)
	require.Error(t, err)
}

func TestSolutionApply(t *testing.T) {
	t.Parallel()

	sol := &Solution{
		Stack:   [][]byte{nil, {0x01, 0x02}},
		Witness: wire.TxWitness{{0x03}},
	}

	txIn := wire.NewTxIn(&wire.OutPoint{}, []byte{txscript.OP_TRUE},
		wire.TxWitness{{0x04}, {0x05}})
	require.NoError(t, sol.Apply(txIn))
	require.Equal(t, []byte{txscript.OP_0, txscript.OP_DATA_2, 0x01, 0x02},
		txIn.SignatureScript)
	require.Equal(t, sol.Witness, txIn.Witness)

	back, err := SolutionFromTxIn(txIn)
	require.NoError(t, err)
	require.Empty(t, back.Stack[0])
	require.Equal(t, sol.Stack[1], back.Stack[1])

	require.NoError(t, (&Solution{}).Apply(txIn))
	require.Empty(t, txIn.SignatureScript)
	require.Nil(t, txIn.Witness)
}
