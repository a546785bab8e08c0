package sighash

import (
	"sync"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

type cacheKey struct {
	witness  bool
	idx      int
	hashType txscript.SigHashType
	amount   int64
	script   string
}

// Cache memoizes signature digests of a single transaction.  A solving
// session computes the digest of the same script code many times, once per
// candidate signature and key, and this keeps that linear.  It is safe for
// concurrent use.
type Cache struct {
	tx *wire.MsgTx

	mu      sync.Mutex
	hashes  *TxSigHashes
	digests map[cacheKey][]byte
}

// NewCache returns an empty digest cache for tx.  The transaction must not
// be modified while the cache is in use.
func NewCache(tx *wire.MsgTx) *Cache {
	return &Cache{
		tx:      tx,
		digests: make(map[cacheKey][]byte),
	}
}

// SigHashes returns the BIP 143 midstate of the cached transaction,
// computing it on first use.
func (c *Cache) SigHashes() *TxSigHashes {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hashes == nil {
		c.hashes = NewTxSigHashes(c.tx)
	}
	return c.hashes
}

// Legacy returns the memoized result of CalcSignatureHash.
func (c *Cache) Legacy(script []byte, hashType txscript.SigHashType,
	idx int) ([]byte, error) {

	key := cacheKey{idx: idx, hashType: hashType, script: string(script)}
	return c.lookup(key, func() ([]byte, error) {
		return CalcSignatureHash(script, hashType, c.tx, idx)
	})
}

// Witness returns the memoized result of CalcWitnessSignatureHash.
func (c *Cache) Witness(script []byte, hashType txscript.SigHashType,
	idx int, amount int64) ([]byte, error) {

	key := cacheKey{
		witness:  true,
		idx:      idx,
		hashType: hashType,
		amount:   amount,
		script:   string(script),
	}
	return c.lookup(key, func() ([]byte, error) {
		return CalcWitnessSignatureHash(
			script, c.SigHashes(), hashType, c.tx, idx, amount,
		)
	})
}

// Len returns the number of memoized digests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.digests)
}

func (c *Cache) lookup(key cacheKey,
	compute func() ([]byte, error)) ([]byte, error) {

	c.mu.Lock()
	digest, ok := c.digests[key]
	c.mu.Unlock()
	if ok {
		return digest, nil
	}

	digest, err := compute()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.digests[key] = digest
	c.mu.Unlock()

	return digest, nil
}
