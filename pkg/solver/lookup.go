package solver

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"
)

// Signer is a signing capability for a single public key.  Implementations
// may be backed by an in-memory key, a hardware device or a remote service.
type Signer interface {
	// PubKey returns the serialized public key, in the encoding used by
	// the scripts the signer is able to satisfy.
	PubKey() []byte

	// Sign returns a DER encoded ECDSA signature over digest.
	Sign(digest []byte) ([]byte, error)
}

// PrivKeySigner signs with an in-memory private key.
type PrivKeySigner struct {
	Key        *btcec.PrivateKey
	Compressed bool
}

// PubKey returns the public key serialized according to Compressed.
func (s *PrivKeySigner) PubKey() []byte {
	if s.Compressed {
		return s.Key.PubKey().SerializeCompressed()
	}
	return s.Key.PubKey().SerializeUncompressed()
}

// Sign returns a low-S DER signature over digest.
func (s *PrivKeySigner) Sign(digest []byte) ([]byte, error) {
	return ecdsa.Sign(s.Key, digest).Serialize(), nil
}

// KeyDB gives access to the signing capability of a public key given the
// hash160 of its serialization.
type KeyDB interface {
	GetKey(pubKeyHash []byte) (Signer, error)
}

// KeyClosure implements KeyDB with a closure.
type KeyClosure func(pubKeyHash []byte) (Signer, error)

// GetKey implements KeyDB by returning the result of calling the closure.
func (kc KeyClosure) GetKey(pubKeyHash []byte) (Signer, error) {
	return kc(pubKeyHash)
}

// ScriptDB resolves a script hash to the script it commits to.  The hash is
// either the 20-byte hash160 of a pay-to-script-hash output or the 32-byte
// sha256 of a pay-to-witness-script-hash output.
type ScriptDB interface {
	GetScript(hash []byte) ([]byte, error)
}

// ScriptClosure implements ScriptDB with a closure.
type ScriptClosure func(hash []byte) ([]byte, error)

// GetScript implements ScriptDB by returning the result of calling the
// closure.
func (sc ScriptClosure) GetScript(hash []byte) ([]byte, error) {
	return sc(hash)
}

// NewKeyLookup returns a KeyDB over keys.  Every key is reachable through the
// hash160 of both its compressed and its uncompressed serialization, and the
// returned Signer reports the matching encoding.
func NewKeyLookup(keys ...*btcec.PrivateKey) KeyClosure {
	signers := make(map[string]Signer, 2*len(keys))
	for _, key := range keys {
		for _, compressed := range []bool{true, false} {
			signer := &PrivKeySigner{Key: key, Compressed: compressed}
			signers[string(btcutil.Hash160(signer.PubKey()))] = signer
		}
	}

	return func(pubKeyHash []byte) (Signer, error) {
		signer, ok := signers[string(pubKeyHash)]
		if !ok {
			return nil, errors.Errorf("no key for hash %x", pubKeyHash)
		}
		return signer, nil
	}
}

// NewScriptLookup returns a ScriptDB over scripts.  Every script is reachable
// through its hash160 and its sha256, so the same lookup serves both
// pay-to-script-hash and pay-to-witness-script-hash outputs.
func NewScriptLookup(scripts ...[]byte) ScriptClosure {
	byHash := make(map[string][]byte, 2*len(scripts))
	for _, script := range scripts {
		byHash[string(btcutil.Hash160(script))] = script
		h := sha256.Sum256(script)
		byHash[string(h[:])] = script
	}

	return func(hash []byte) ([]byte, error) {
		script, ok := byHash[string(hash)]
		if !ok {
			return nil, errors.Errorf("no script for hash %x", hash)
		}
		return script, nil
	}
}
