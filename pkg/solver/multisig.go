package solver

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// solveMultisig merges the valid signatures found among candidates with new
// ones from kdb.
//
// Signatures are matched to keys by verification, so their position in
// candidates is irrelevant and every valid one survives the merge.  When
// two candidates verify under the same key the last one is kept.  New
// signatures are only produced for keys without one, and only until the
// threshold is met.
//
// The returned items always hold the dummy element consumed by
// OP_CHECKMULTISIG followed by exactly Threshold entries, ordered like
// the keys and padded with empty items when signatures are missing.
func (s *Solver) solveMultisig(cs *ConstraintSet, c *MultisigConstraint,
	kdb KeyDB, candidates [][]byte,
	hashType txscript.SigHashType) ([][]byte, []SigInfo, bool, error) {

	slots := make([][]byte, len(c.PubKeys))
	filled := 0
	for _, candidate := range candidates {
		if len(candidate) == 0 {
			continue
		}

		for i, pubKey := range c.PubKeys {
			if !s.verifySignature(cs, c.ScriptCode, c.Witness, pubKey,
				candidate) {

				continue
			}

			switch {
			case slots[i] == nil:
				filled++
			case !bytes.Equal(slots[i], candidate):
				log.Debugf("replacing signature for key %x", pubKey)
			}
			slots[i] = candidate
			break
		}
	}

	for i, pubKey := range c.PubKeys {
		if filled >= c.Threshold {
			break
		}
		if slots[i] != nil {
			continue
		}

		signer := lookupKey(kdb, btcutil.Hash160(pubKey))
		if signer == nil {
			continue
		}

		sig, err := s.sign(cs, c.ScriptCode, c.Witness, signer, hashType)
		if err != nil {
			return nil, nil, false, err
		}
		slots[i] = sig
		filled++
	}

	items := make([][]byte, 1, c.Threshold+1)
	var sigs []SigInfo
	for i, sig := range slots {
		if sig == nil {
			continue
		}
		if len(sigs) == c.Threshold {
			break
		}
		items = append(items, sig)
		sigs = append(sigs, SigInfo{PubKey: c.PubKeys[i], Signature: sig})
	}

	complete := len(sigs) == c.Threshold
	if !complete {
		log.Debugf("multisig input %d has %d of %d signatures",
			cs.InputIndex, len(sigs), c.Threshold)
	}
	for len(items) < c.Threshold+1 {
		items = append(items, nil)
	}

	return items, sigs, complete, nil
}
