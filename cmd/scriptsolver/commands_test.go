package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/ArkLabsHQ/scriptsolver/pkg/psbtsolve"
)

func testKey(seed byte) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	return priv
}

func testWIF(t *testing.T, key *btcec.PrivateKey) string {
	wif, err := btcutil.NewWIF(key, &chaincfg.MainNetParams, true)
	require.NoError(t, err)
	return wif.String()
}

// testPacket spends a 2-of-2 p2wsh output and a p2pkh output.
func testPacket(t *testing.T, k1, k2 *btcec.PrivateKey) (string, []byte) {
	t.Helper()

	witnessScript, err := txscript.NewScriptBuilder().AddOp(txscript.OP_2).
		AddData(k1.PubKey().SerializeCompressed()).
		AddData(k2.PubKey().SerializeCompressed()).
		AddOp(txscript.OP_2).AddOp(txscript.OP_CHECKMULTISIG).Script()
	require.NoError(t, err)

	p2wsh, err := txscript.NewScriptBuilder().AddOp(txscript.OP_0).
		AddData(chainhash.HashB(witnessScript)).Script()
	require.NoError(t, err)

	p2pkh, err := txscript.NewScriptBuilder().AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(k1.PubKey().SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).Script()
	require.NoError(t, err)

	prev := wire.NewMsgTx(2)
	prev.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{7}}, nil,
		nil))
	prev.AddTxOut(wire.NewTxOut(20000, p2wsh))
	prev.AddTxOut(wire.NewTxOut(30000, p2pkh))

	packet, err := psbt.New([]*wire.OutPoint{
		{Hash: prev.TxHash(), Index: 0},
		{Hash: prev.TxHash(), Index: 1},
	}, []*wire.TxOut{
		wire.NewTxOut(49000, []byte{txscript.OP_TRUE}),
	}, 2, 0, []uint32{wire.MaxTxInSequenceNum, wire.MaxTxInSequenceNum})
	require.NoError(t, err)

	packet.Inputs[0].WitnessUtxo = prev.TxOut[0]
	packet.Inputs[1].NonWitnessUtxo = prev

	encoded, err := psbtsolve.Encode(packet)
	require.NoError(t, err)
	return encoded, witnessScript
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cfg, err := loadConfig(args)
	require.NoError(t, err)

	var out bytes.Buffer
	err = run(cfg, strings.NewReader(""), &out)
	return strings.TrimSpace(out.String()), err
}

func TestSignAndCheck(t *testing.T) {
	k1, k2 := testKey(1), testKey(2)
	encoded, witnessScript := testPacket(t, k1, k2)
	scripts := hex.EncodeToString(witnessScript)

	out, err := runCommand(t, cmdConstraints, "--psbt", encoded)
	require.NoError(t, err)
	require.Contains(t, out, "input 0: ")
	require.Contains(t, out, "input 1: pubkeyhash")

	out, err = runCommand(t, cmdConstraints, "--psbt", encoded,
		"--scripts", scripts, "--input", "0")
	require.NoError(t, err)
	require.Contains(t, out, "input 0: witness_v0_scripthash")
	require.Contains(t, out, "multisig(2-of-2")

	// The first round completes the p2pkh input only.
	partial, err := runCommand(t, cmdSign, "--psbt", encoded,
		"--keys", testWIF(t, k1), "--scripts", scripts)
	require.NoError(t, err)

	packet, err := psbtsolve.Decode(partial)
	require.NoError(t, err)
	require.Len(t, packet.Inputs[0].PartialSigs, 1)
	require.NotNil(t, packet.Inputs[1].FinalScriptSig)

	_, err = runCommand(t, cmdCheck, "--psbt", partial)
	require.Error(t, err)

	final, err := runCommand(t, cmdSign, "--psbt", partial,
		"--keys", testWIF(t, k2), "--scripts", scripts)
	require.NoError(t, err)

	txHex, err := runCommand(t, cmdCheck, "--psbt", final)
	require.NoError(t, err)

	raw, err := hex.DecodeString(txHex)
	require.NoError(t, err)
	var tx wire.MsgTx
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	require.Len(t, tx.TxIn[0].Witness, 4)
}

func TestSignFromStdin(t *testing.T) {
	k1, k2 := testKey(1), testKey(2)
	encoded, _ := testPacket(t, k1, k2)

	cfg, err := loadConfig([]string{cmdSign, "--psbt", "-", "--input", "1",
		"--keys", testWIF(t, k1)})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run(cfg, strings.NewReader(encoded+"\n"), &out))

	packet, err := psbtsolve.Decode(out.String())
	require.NoError(t, err)
	require.NotNil(t, packet.Inputs[1].FinalScriptSig)
	require.Nil(t, packet.Inputs[0].FinalScriptWitness)
}

func TestSignErrors(t *testing.T) {
	k1, k2 := testKey(1), testKey(2)
	encoded, _ := testPacket(t, k1, k2)

	_, err := runCommand(t, cmdSign, "--psbt", encoded, "--keys", "bogus")
	require.Error(t, err)

	_, err = runCommand(t, cmdSign, "--psbt", encoded, "--scripts", "zz")
	require.Error(t, err)

	_, err = runCommand(t, cmdSign, "--psbt", encoded, "--input", "5")
	require.Error(t, err)

	// Without the witness script the p2wsh input cannot be solved.
	_, err = runCommand(t, cmdSign, "--psbt", encoded,
		"--keys", testWIF(t, k1))
	require.Error(t, err)
}
