package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ArkLabsHQ/scriptsolver/pkg/psbtsolve"
	"github.com/ArkLabsHQ/scriptsolver/pkg/solver"
)

func run(cfg *config, stdin io.Reader, out io.Writer) error {
	packet, err := readPacket(cfg.PSBT, stdin)
	if err != nil {
		return err
	}

	switch cfg.Command {
	case cmdConstraints:
		return runConstraints(cfg, packet, out)
	case cmdSign:
		return runSign(cfg, packet, out)
	case cmdCheck:
		return runCheck(packet, out)
	default:
		return errors.Errorf("unknown command %q", cfg.Command)
	}
}

func readPacket(encoded string, stdin io.Reader) (*psbt.Packet, error) {
	if encoded == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read stdin")
		}
		encoded = string(raw)
	}
	return psbtsolve.Decode(encoded)
}

// inputs returns the indexes selected by cfg.
func inputs(cfg *config, packet *psbt.Packet) ([]int, error) {
	if cfg.Input >= len(packet.Inputs) {
		return nil, errors.Errorf("input %d out of range for packet with "+
			"%d inputs", cfg.Input, len(packet.Inputs))
	}
	if cfg.Input >= 0 {
		return []int{cfg.Input}, nil
	}

	idxs := make([]int, len(packet.Inputs))
	for i := range idxs {
		idxs[i] = i
	}
	return idxs, nil
}

func keyLookup(wifs []string) (solver.KeyDB, error) {
	keys := make([]*btcec.PrivateKey, 0, len(wifs))
	for _, encoded := range wifs {
		wif, err := btcutil.DecodeWIF(encoded)
		if err != nil {
			return nil, errors.Wrap(err, "invalid private key")
		}
		keys = append(keys, wif.PrivKey)
	}
	return solver.NewKeyLookup(keys...), nil
}

func scriptLookup(hexScripts []string) (solver.ScriptDB, error) {
	scripts := make([][]byte, 0, len(hexScripts))
	for _, s := range hexScripts {
		script, err := hex.DecodeString(s)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid script %q", s)
		}
		scripts = append(scripts, script)
	}
	return solver.NewScriptLookup(scripts...), nil
}

func runConstraints(cfg *config, packet *psbt.Packet, out io.Writer) error {
	sdb, err := scriptLookup(cfg.Scripts)
	if err != nil {
		return err
	}
	signer, err := psbtsolve.NewSigner(packet)
	if err != nil {
		return err
	}
	idxs, err := inputs(cfg, packet)
	if err != nil {
		return err
	}

	for _, idx := range idxs {
		cs, err := signer.Constraints(idx, sdb)
		if err != nil {
			fmt.Fprintf(out, "input %d: %v\n", idx, err)
			continue
		}

		fmt.Fprintf(out, "input %d: %v\n", idx, cs.Class)
		for _, c := range cs.Constraints {
			fmt.Fprintf(out, "  %v\n", c)
		}
	}
	return nil
}

func runSign(cfg *config, packet *psbt.Packet, out io.Writer) error {
	kdb, err := keyLookup(cfg.Keys)
	if err != nil {
		return err
	}
	sdb, err := scriptLookup(cfg.Scripts)
	if err != nil {
		return err
	}
	signer, err := psbtsolve.NewSigner(packet)
	if err != nil {
		return err
	}
	idxs, err := inputs(cfg, packet)
	if err != nil {
		return err
	}

	var opts []solver.Option
	if cfg.SigHash != 0 {
		opts = append(opts, solver.WithSigHashType(cfg.SigHash))
	}

	for _, idx := range idxs {
		sol, err := signer.SolveInput(idx, kdb, sdb, opts...)
		switch {
		case errors.Is(err, psbtsolve.ErrInputFinalized):
			log.Debugf("input %d already finalized", idx)
			continue
		case err != nil:
			return errors.Wrapf(err, "input %d", idx)
		}

		log.WithFields(log.Fields{
			"input":    idx,
			"sigs":     len(sol.Sigs),
			"complete": sol.Complete,
		}).Info("solved input")
	}

	encoded, err := psbtsolve.Encode(packet)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, encoded)
	return err
}

func runCheck(packet *psbt.Packet, out io.Writer) error {
	tx, err := psbtsolve.Extract(packet)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return errors.Wrap(err, "unable to serialize transaction")
	}
	_, err = fmt.Fprintln(out, hex.EncodeToString(buf.Bytes()))
	return err
}
