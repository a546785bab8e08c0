// Package psbtsolve drives the solver over partially signed transactions.
// Partial signatures recorded in a packet are carried between solving
// rounds, and an input is finalized only once its solution verifies.
package psbtsolve

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/ArkLabsHQ/scriptsolver/pkg/engine"
	"github.com/ArkLabsHQ/scriptsolver/pkg/solver"
)

var (
	// ErrInputFinalized is returned when solving an input that already
	// carries its final scripts.
	ErrInputFinalized = errors.New("input already finalized")

	// ErrVerification is returned when a complete solution is rejected
	// by the script engine.
	ErrVerification = errors.New("solution failed verification")
)

// Decode parses a packet encoded in base64 or hex.
func Decode(encoded string) (*psbt.Packet, error) {
	encoded = strings.TrimSpace(encoded)

	raw, err := hex.DecodeString(encoded)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.New("packet is neither hex nor base64")
		}
	}

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse packet")
	}
	return packet, nil
}

// PrevOutputFetcher returns a fetcher for the outputs spent by packet.
// Inputs without utxo information are left out.
func PrevOutputFetcher(packet *psbt.Packet) (*txscript.MultiPrevOutFetcher,
	error) {

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range packet.UnsignedTx.TxIn {
		in := packet.Inputs[i]
		outPoint := txIn.PreviousOutPoint

		switch {
		case in.WitnessUtxo != nil:
			fetcher.AddPrevOut(outPoint, in.WitnessUtxo)

		case in.NonWitnessUtxo != nil:
			if in.NonWitnessUtxo.TxHash() != outPoint.Hash {
				return nil, errors.Errorf("input %d: utxo "+
					"transaction %v does not match outpoint %v",
					i, in.NonWitnessUtxo.TxHash(), outPoint)
			}
			if int(outPoint.Index) >= len(in.NonWitnessUtxo.TxOut) {
				return nil, errors.Errorf("input %d: outpoint %v "+
					"out of range", i, outPoint)
			}
			fetcher.AddPrevOut(
				outPoint, in.NonWitnessUtxo.TxOut[outPoint.Index],
			)

		default:
			log.Debugf("input %d has no utxo information", i)
		}
	}

	return fetcher, nil
}

// Signer solves the inputs of a packet in place.
type Signer struct {
	packet   *psbt.Packet
	prevOuts *txscript.MultiPrevOutFetcher
	solver   *solver.Solver
}

// NewSigner returns a Signer for packet.  The unsigned transaction of the
// packet must not change while the Signer is in use.
func NewSigner(packet *psbt.Packet) (*Signer, error) {
	if err := packet.SanityCheck(); err != nil {
		return nil, errors.Wrap(err, "invalid packet")
	}

	prevOuts, err := PrevOutputFetcher(packet)
	if err != nil {
		return nil, err
	}

	return &Signer{
		packet:   packet,
		prevOuts: prevOuts,
		solver:   solver.New(packet.UnsignedTx, prevOuts),
	}, nil
}

// Solver exposes the underlying solver, for callers signing scripts that
// fit no template.
func (s *Signer) Solver() *solver.Solver {
	return s.solver
}

func (s *Signer) input(idx int) (*psbt.PInput, error) {
	if idx < 0 || idx >= len(s.packet.Inputs) {
		return nil, errors.Errorf("input index %d out of range for "+
			"packet with %d inputs", idx, len(s.packet.Inputs))
	}
	return &s.packet.Inputs[idx], nil
}

// scriptLookup resolves script hashes through the scripts recorded in the
// input first and through sdb after that.
func scriptLookup(in *psbt.PInput, sdb solver.ScriptDB) solver.ScriptDB {
	var known [][]byte
	for _, script := range [][]byte{in.RedeemScript, in.WitnessScript} {
		if len(script) > 0 {
			known = append(known, script)
		}
	}
	local := solver.NewScriptLookup(known...)

	return solver.ScriptClosure(func(hash []byte) ([]byte, error) {
		script, err := local(hash)
		if err == nil || sdb == nil {
			return script, err
		}
		return sdb.GetScript(hash)
	})
}

// Constraints derives the constraints for spending input idx.
func (s *Signer) Constraints(idx int,
	sdb solver.ScriptDB) (*solver.ConstraintSet, error) {

	in, err := s.input(idx)
	if err != nil {
		return nil, err
	}
	return s.solver.DetermineConstraints(idx, scriptLookup(in, sdb))
}

// SolveInput solves input idx, extending the partial signatures already in
// the packet.
//
// New signatures are recorded as partial signatures, along with any redeem
// or witness script resolved through sdb.  Once the solution is
// complete and verifies, the final scripts are set and the fields only
// needed for signing are cleared.  A solution that is complete but fails
// verification leaves the input untouched and returns ErrVerification.
func (s *Signer) SolveInput(idx int, kdb solver.KeyDB, sdb solver.ScriptDB,
	opts ...solver.Option) (*solver.Solution, error) {

	in, err := s.input(idx)
	if err != nil {
		return nil, err
	}
	if in.FinalScriptSig != nil || in.FinalScriptWitness != nil {
		return nil, errors.Wrapf(ErrInputFinalized, "input %d", idx)
	}

	cs, err := s.solver.DetermineConstraints(idx, scriptLookup(in, sdb))
	if err != nil {
		return nil, err
	}

	existing := &solver.Solution{}
	for _, partial := range in.PartialSigs {
		existing.Stack = append(existing.Stack, partial.Signature,
			partial.PubKey)
	}

	var base []solver.Option
	base = append(base, solver.WithExistingSolution(existing))
	if in.SighashType != 0 {
		base = append(base, solver.WithSigHashType(in.SighashType))
	}

	sol, err := s.solver.SolveForConstraints(cs, kdb, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	if !sol.Complete {
		recordPartialSigs(in, sol.Sigs)
		recordScripts(in, cs)
		log.Debugf("input %d holds %d partial signatures", idx,
			len(in.PartialSigs))
		return sol, nil
	}

	if err := s.verify(idx, sol); err != nil {
		return nil, err
	}
	if err := finalize(in, sol); err != nil {
		return nil, err
	}

	log.Debugf("input %d finalized", idx)
	return sol, nil
}

// verify runs sol against the output spent by input idx on a copy of the
// unsigned transaction.
func (s *Signer) verify(idx int, sol *solver.Solution) error {
	tx := s.packet.UnsignedTx.Copy()
	if err := sol.Apply(tx.TxIn[idx]); err != nil {
		return err
	}

	if err := engine.CheckSolution(tx, idx, s.prevOuts); err != nil {
		return errors.Wrapf(ErrVerification, "input %d: %v", idx, err)
	}
	return nil
}

// recordPartialSigs merges sigs into the partial signatures of in.  A new
// signature for a key replaces the recorded one.
func recordPartialSigs(in *psbt.PInput, sigs []solver.SigInfo) {
	for _, sig := range sigs {
		replaced := false
		for _, partial := range in.PartialSigs {
			if bytes.Equal(partial.PubKey, sig.PubKey) {
				partial.Signature = sig.Signature
				replaced = true
				break
			}
		}
		if !replaced {
			in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
				PubKey:    sig.PubKey,
				Signature: sig.Signature,
			})
		}
	}
	sort.Sort(psbt.PartialSigSorter(in.PartialSigs))
}

// recordScripts stores the scripts revealed behind the hashes of cs, so a
// later round can resolve them without the lookup used by this one.
func recordScripts(in *psbt.PInput, cs *solver.ConstraintSet) {
	for _, c := range cs.Constraints {
		preimage, ok := c.(*solver.ScriptHashPreimageConstraint)
		if !ok || preimage.Script == nil {
			continue
		}

		switch {
		case preimage.Witness && in.WitnessScript == nil:
			in.WitnessScript = preimage.Script
		case !preimage.Witness && in.RedeemScript == nil:
			in.RedeemScript = preimage.Script
		}
	}
}

// finalize sets the final scripts of in from sol and clears the fields
// that only serve signing.
func finalize(in *psbt.PInput, sol *solver.Solution) error {
	if len(sol.Stack) > 0 {
		sigScript, err := sol.SignatureScript()
		if err != nil {
			return err
		}
		in.FinalScriptSig = sigScript
	}

	if len(sol.Witness) > 0 {
		var buf bytes.Buffer
		if err := psbt.WriteTxWitness(&buf, sol.Witness); err != nil {
			return errors.Wrap(err, "unable to serialize witness")
		}
		in.FinalScriptWitness = buf.Bytes()
	}

	// An empty signature script still marks a legacy input as final.
	if in.FinalScriptSig == nil && in.FinalScriptWitness == nil {
		in.FinalScriptSig = []byte{}
	}

	in.PartialSigs = nil
	in.SighashType = 0
	in.RedeemScript = nil
	in.WitnessScript = nil
	in.Bip32Derivation = nil
	return nil
}

// Extract returns the network transaction of a fully finalized packet after
// checking every input against the output it spends.
func Extract(packet *psbt.Packet) (*wire.MsgTx, error) {
	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, errors.Wrap(err, "unable to extract transaction")
	}

	prevOuts, err := PrevOutputFetcher(packet)
	if err != nil {
		return nil, err
	}

	for idx := range tx.TxIn {
		if err := engine.CheckSolution(tx, idx, prevOuts); err != nil {
			return nil, errors.Wrapf(ErrVerification, "input %d: %v",
				idx, err)
		}
	}
	return tx, nil
}

// Encode serializes packet to base64.
func Encode(packet *psbt.Packet) (string, error) {
	return packet.B64Encode()
}
