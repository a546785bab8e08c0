package psbtsolve

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/ArkLabsHQ/scriptsolver/pkg/solver"
)

const testAmount = 75000

func testKey(seed byte) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return priv
}

func pub(k *btcec.PrivateKey) []byte {
	return k.PubKey().SerializeCompressed()
}

func mustScript(t *testing.T, b *txscript.ScriptBuilder) []byte {
	t.Helper()

	script, err := b.Script()
	require.NoError(t, err)
	return script
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

func p2wpkhScript(t *testing.T, pubKey []byte) []byte {
	return mustScript(t, txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(btcutil.Hash160(pubKey)))
}

func prevTx(pkScripts ...[]byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: chainhash.Hash{0x09}}, nil, nil,
	))
	for _, pkScript := range pkScripts {
		tx.AddTxOut(wire.NewTxOut(testAmount, pkScript))
	}
	return tx
}

// newPacket spends every output of prev, attaching the full previous
// transaction when legacy is set and only the spent output otherwise.
func newPacket(t *testing.T, prev *wire.MsgTx, legacy bool) *psbt.Packet {
	t.Helper()

	var (
		outPoints []*wire.OutPoint
		sequences []uint32
	)
	for i := range prev.TxOut {
		outPoints = append(outPoints, &wire.OutPoint{
			Hash:  prev.TxHash(),
			Index: uint32(i),
		})
		sequences = append(sequences, wire.MaxTxInSequenceNum)
	}

	packet, err := psbt.New(outPoints, []*wire.TxOut{
		wire.NewTxOut(testAmount-500, []byte{txscript.OP_TRUE}),
	}, 2, 0, sequences)
	require.NoError(t, err)

	updater, err := psbt.NewUpdater(packet)
	require.NoError(t, err)
	for i, out := range prev.TxOut {
		if legacy {
			require.NoError(t, updater.AddInNonWitnessUtxo(prev, i))
			continue
		}
		require.NoError(t, updater.AddInWitnessUtxo(out, i))
	}
	return packet
}

func TestSolveInputWitnessKeyHash(t *testing.T) {
	t.Parallel()

	k1 := testKey(1)
	packet := newPacket(t, prevTx(p2wpkhScript(t, pub(k1))), false)

	signer, err := NewSigner(packet)
	require.NoError(t, err)

	sol, err := signer.SolveInput(0, solver.NewKeyLookup(k1), nil)
	require.NoError(t, err)
	require.True(t, sol.Complete)
	require.Nil(t, packet.Inputs[0].FinalScriptSig)
	require.NotEmpty(t, packet.Inputs[0].FinalScriptWitness)
	require.True(t, packet.IsComplete())

	tx, err := Extract(packet)
	require.NoError(t, err)
	require.Len(t, tx.TxIn[0].Witness, 2)
	require.Equal(t, pub(k1), []byte(tx.TxIn[0].Witness[1]))

	_, err = signer.SolveInput(0, solver.NewKeyLookup(k1), nil)
	require.ErrorIs(t, err, ErrInputFinalized)
}

// TestSolveInputMultisigRounds signs a p2sh 2-of-3 in two rounds, passing
// the packet between them in serialized form.
func TestSolveInputMultisigRounds(t *testing.T) {
	t.Parallel()

	k1, k2, k3 := testKey(1), testKey(2), testKey(3)
	redeem := multisigScript(t, 2, pub(k1), pub(k2), pub(k3))
	packet := newPacket(t, prevTx(p2shScript(t, redeem)), true)

	updater, err := psbt.NewUpdater(packet)
	require.NoError(t, err)
	require.NoError(t, updater.AddInRedeemScript(redeem, 0))

	signer, err := NewSigner(packet)
	require.NoError(t, err)

	sol, err := signer.SolveInput(0, solver.NewKeyLookup(k3), nil)
	require.NoError(t, err)
	require.False(t, sol.Complete)
	require.Len(t, packet.Inputs[0].PartialSigs, 1)
	require.Equal(t, pub(k3), packet.Inputs[0].PartialSigs[0].PubKey)
	require.False(t, packet.IsComplete())

	_, err = Extract(packet)
	require.Error(t, err)

	encoded, err := Encode(packet)
	require.NoError(t, err)
	packet, err = Decode(encoded)
	require.NoError(t, err)
	require.Len(t, packet.Inputs[0].PartialSigs, 1)

	signer, err = NewSigner(packet)
	require.NoError(t, err)

	sol, err = signer.SolveInput(0, solver.NewKeyLookup(k1), nil)
	require.NoError(t, err)
	require.True(t, sol.Complete)
	require.Equal(t, pub(k1), sol.Sigs[0].PubKey)
	require.Equal(t, pub(k3), sol.Sigs[1].PubKey)
	require.Empty(t, packet.Inputs[0].PartialSigs)
	require.Nil(t, packet.Inputs[0].RedeemScript)

	tx, err := Extract(packet)
	require.NoError(t, err)
	require.Empty(t, tx.TxIn[0].Witness)
	require.NotEmpty(t, tx.TxIn[0].SignatureScript)
}

func TestSolveInputNestedWitnessScript(t *testing.T) {
	t.Parallel()

	k1, k2 := testKey(1), testKey(2)
	witnessScript := multisigScript(t, 1, pub(k1), pub(k2))
	redeem := p2wshScript(t, witnessScript)
	packet := newPacket(t, prevTx(p2shScript(t, redeem)), false)
	packet.Inputs[0].RedeemScript = redeem
	packet.Inputs[0].WitnessScript = witnessScript
	packet.Inputs[0].SighashType = txscript.SigHashSingle

	signer, err := NewSigner(packet)
	require.NoError(t, err)

	cs, err := signer.Constraints(0, nil)
	require.NoError(t, err)
	require.Equal(t, solver.ScriptHashTy, cs.Class)
	require.True(t, cs.Witness())

	sol, err := signer.SolveInput(0, solver.NewKeyLookup(k2), nil)
	require.NoError(t, err)
	require.True(t, sol.Complete)

	sig := sol.Sigs[0].Signature
	require.Equal(t, byte(txscript.SigHashSingle), sig[len(sig)-1])

	tx, err := Extract(packet)
	require.NoError(t, err)
	require.Equal(t, redeem, tx.TxIn[0].SignatureScript[1:])
}

func TestSolveInputExternalScripts(t *testing.T) {
	t.Parallel()

	k1 := testKey(1)
	witnessScript := multisigScript(t, 1, pub(k1))
	packet := newPacket(t, prevTx(p2wshScript(t, witnessScript)), false)

	signer, err := NewSigner(packet)
	require.NoError(t, err)

	_, err = signer.SolveInput(0, solver.NewKeyLookup(k1), nil)
	require.ErrorIs(t, err, solver.ErrUnknownScriptHash)

	_, err = signer.SolveInput(0, solver.NewKeyLookup(k1),
		solver.NewScriptLookup(witnessScript))
	require.NoError(t, err)

	_, err = Extract(packet)
	require.NoError(t, err)
}

// TestSolveInputRecordsScripts checks that a partial round leaves the
// scripts it resolved in the packet for the next signer.
func TestSolveInputRecordsScripts(t *testing.T) {
	t.Parallel()

	k1, k2 := testKey(1), testKey(2)
	witnessScript := multisigScript(t, 2, pub(k1), pub(k2))
	redeem := p2wshScript(t, witnessScript)
	packet := newPacket(t, prevTx(p2shScript(t, redeem)), false)

	signer, err := NewSigner(packet)
	require.NoError(t, err)

	sol, err := signer.SolveInput(0, solver.NewKeyLookup(k1),
		solver.NewScriptLookup(redeem, witnessScript))
	require.NoError(t, err)
	require.False(t, sol.Complete)
	require.Equal(t, redeem, packet.Inputs[0].RedeemScript)
	require.Equal(t, witnessScript, packet.Inputs[0].WitnessScript)

	encoded, err := Encode(packet)
	require.NoError(t, err)
	packet, err = Decode(encoded)
	require.NoError(t, err)

	signer, err = NewSigner(packet)
	require.NoError(t, err)

	sol, err = signer.SolveInput(0, solver.NewKeyLookup(k2), nil)
	require.NoError(t, err)
	require.True(t, sol.Complete)

	_, err = Extract(packet)
	require.NoError(t, err)
}

func TestSolveInputManualItems(t *testing.T) {
	t.Parallel()

	k1 := testKey(1)
	script := append([]byte{txscript.OP_SWAP}, mustScript(t,
		txscript.NewScriptBuilder().AddOp(txscript.OP_DUP).
			AddOp(txscript.OP_HASH160).
			AddData(btcutil.Hash160(pub(k1))).
			AddOp(txscript.OP_EQUALVERIFY).
			AddOp(txscript.OP_CHECKSIG))...)
	packet := newPacket(t, prevTx(p2shScript(t, script)), true)
	packet.Inputs[0].RedeemScript = script

	signer, err := NewSigner(packet)
	require.NoError(t, err)

	sig, err := signer.Solver().SignScript(0, script, false,
		&solver.PrivKeySigner{Key: k1, Compressed: true},
		txscript.SigHashAll)
	require.NoError(t, err)

	_, err = signer.SolveInput(0, nil, nil,
		solver.WithManualItems(sig, pub(k1)))
	require.ErrorIs(t, err, ErrVerification)
	require.Nil(t, packet.Inputs[0].FinalScriptSig)

	_, err = signer.SolveInput(0, nil, nil,
		solver.WithManualItems(pub(k1), sig))
	require.NoError(t, err)

	_, err = Extract(packet)
	require.NoError(t, err)
}

func TestPrevOutputFetcher(t *testing.T) {
	t.Parallel()

	k1 := testKey(1)
	prev := prevTx(p2wpkhScript(t, pub(k1)), p2wpkhScript(t, pub(k1)))
	packet := newPacket(t, prev, true)
	packet.Inputs[1].NonWitnessUtxo = nil

	fetcher, err := PrevOutputFetcher(packet)
	require.NoError(t, err)

	out := fetcher.FetchPrevOutput(packet.UnsignedTx.TxIn[0].PreviousOutPoint)
	require.NotNil(t, out)
	require.Equal(t, prev.TxOut[0].PkScript, out.PkScript)
	require.Nil(t, fetcher.FetchPrevOutput(
		packet.UnsignedTx.TxIn[1].PreviousOutPoint,
	))

	packet.Inputs[0].NonWitnessUtxo = prevTx()
	_, err = PrevOutputFetcher(packet)
	require.Error(t, err)

	_, err = NewSigner(packet)
	require.Error(t, err)
}

func TestDecode(t *testing.T) {
	t.Parallel()

	packet := newPacket(t, prevTx(p2wpkhScript(t, pub(testKey(1)))), false)

	var buf bytes.Buffer
	require.NoError(t, packet.Serialize(&buf))

	fromHex, err := Decode(hex.EncodeToString(buf.Bytes()) + "\n")
	require.NoError(t, err)
	require.Equal(t, packet.UnsignedTx.TxHash(), fromHex.UnsignedTx.TxHash())

	encoded, err := Encode(packet)
	require.NoError(t, err)
	fromB64, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, packet.UnsignedTx.TxHash(), fromB64.UnsignedTx.TxHash())

	_, err = Decode("not a packet")
	require.Error(t, err)
}
