package engine

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/ArkLabsHQ/scriptsolver/pkg/sighash"
)

// signatureVerifier is an abstract interface that allows the op code execution
// to abstract over the _type_ of signature validation being executed.
type signatureVerifier interface {
	// Verify returns whether or not the signature verifier context deems the
	// signature to be valid for the given context.
	Verify() verifyResult
}

type verifyResult struct {
	sigValid bool
}

// ecdsaSigVerifier verifies an ECDSA signature against the script code of
// the engine's current script.  Legacy inputs commit to the script code with
// the signature removed, while segwit v0 inputs use the BIP 143 digest.
type ecdsaSigVerifier struct {
	pubKey  *btcec.PublicKey
	pkBytes []byte

	fullSigBytes []byte
	sig          *ecdsa.Signature

	hashType txscript.SigHashType

	// subScript is the script code the signature commits to.
	subScript []byte

	vm *Engine
}

// newECDSASigVerifier parses the public key and signature of a
// CHECKSIG-family opcode.  Encoding violations under the active flags are
// returned as script errors and abort execution, while keys and signatures
// that merely fail to parse are returned as plain errors so the caller can
// treat them as an invalid signature.
func newECDSASigVerifier(pkBytes, fullSigBytes []byte,
	vm *Engine) (*ecdsaSigVerifier, error) {

	hashType := txscript.SigHashType(fullSigBytes[len(fullSigBytes)-1])
	sigBytes := fullSigBytes[:len(fullSigBytes)-1]

	if err := vm.checkHashTypeEncoding(hashType); err != nil {
		return nil, err
	}
	if err := vm.checkSignatureEncoding(sigBytes); err != nil {
		return nil, err
	}
	if err := vm.checkPubKeyEncoding(pkBytes); err != nil {
		return nil, err
	}

	pubKey, err := btcec.ParsePubKey(pkBytes)
	if err != nil {
		return nil, err
	}

	var sig *ecdsa.Signature
	if vm.hasFlag(ScriptVerifyStrictEncoding) ||
		vm.hasFlag(ScriptVerifyDERSignatures) {

		sig, err = ecdsa.ParseDERSignature(sigBytes)
	} else {
		sig, err = ecdsa.ParseSignature(sigBytes)
	}
	if err != nil {
		return nil, err
	}

	return &ecdsaSigVerifier{
		pubKey:       pubKey,
		pkBytes:      pkBytes,
		fullSigBytes: fullSigBytes,
		sig:          sig,
		hashType:     hashType,
		subScript:    vm.subScript(),
		vm:           vm,
	}, nil
}

// sigHash computes the digest the signature must commit to.
func (e *ecdsaSigVerifier) sigHash() ([]byte, error) {
	vm := e.vm
	if vm.isWitnessVersionActive(txscript.BaseSegwitWitnessVersion) {
		return sighash.CalcWitnessSignatureHash(
			e.subScript, vm.hashCache, e.hashType, &vm.tx,
			vm.txIdx, vm.inputAmount,
		)
	}

	// There is no way for a signature to sign itself, so it is removed
	// from the legacy script code.
	script := removeOpcodeByData(e.subScript, e.fullSigBytes)
	return sighash.CalcSignatureHash(script, e.hashType, &vm.tx, vm.txIdx)
}

// Verify returns whether or not the signature verifier context deems the
// signature to be valid for the given context.
//
// NOTE: This is part of the signatureVerifier interface.
func (e *ecdsaSigVerifier) Verify() verifyResult {
	hash, err := e.sigHash()
	if err != nil {
		log.Debugf("unable to compute signature hash: %v", err)
		return verifyResult{}
	}

	cacheKey, _ := chainhash.NewHash(hash)
	if e.vm.sigCache != nil &&
		e.vm.sigCache.Exists(*cacheKey, e.fullSigBytes, e.pkBytes) {

		return verifyResult{sigValid: true}
	}

	valid := e.sig.Verify(hash, e.pubKey)
	if valid && e.vm.sigCache != nil {
		e.vm.sigCache.Add(*cacheKey, e.fullSigBytes, e.pkBytes)
	}

	log.Tracef("%v", newLogClosure(func() string {
		return fmt.Sprintf("ecdsa verify pubkey %x hash type %v "+
			"digest %x: %v", e.pkBytes, e.hashType, hash, valid)
	}))

	return verifyResult{sigValid: valid}
}

// A compile-time assertion to ensure ecdsaSigVerifier implements the
// signatureVerifier interface.
var _ signatureVerifier = (*ecdsaSigVerifier)(nil)

// checkHashTypeEncoding returns whether or not the passed hashtype adheres to
// the strict encoding requirements if enabled.
func (vm *Engine) checkHashTypeEncoding(hashType txscript.SigHashType) error {
	if !vm.hasFlag(ScriptVerifyStrictEncoding) {
		return nil
	}

	sigHashType := hashType & ^txscript.SigHashAnyOneCanPay
	if sigHashType < txscript.SigHashAll || sigHashType > txscript.SigHashSingle {
		str := fmt.Sprintf("invalid hash type 0x%x", hashType)
		return scriptError(txscript.ErrInvalidSigHashType, str)
	}
	return nil
}

// checkPubKeyEncoding returns whether or not the passed public key adheres to
// the strict encoding requirements if enabled.
func (vm *Engine) checkPubKeyEncoding(pubKey []byte) error {
	if vm.hasFlag(ScriptVerifyWitnessPubKeyType) &&
		vm.isWitnessVersionActive(txscript.BaseSegwitWitnessVersion) &&
		!btcec.IsCompressedPubKey(pubKey) {

		str := "only compressed keys are accepted post-segwit"
		return scriptError(txscript.ErrWitnessPubKeyType, str)
	}

	if !vm.hasFlag(ScriptVerifyStrictEncoding) {
		return nil
	}

	if len(pubKey) == 33 && (pubKey[0] == 0x02 || pubKey[0] == 0x03) {
		// Compressed
		return nil
	}
	if len(pubKey) == 65 && pubKey[0] == 0x04 {
		// Uncompressed
		return nil
	}

	return scriptError(txscript.ErrPubKeyType, "unsupported public key type")
}

// checkSignatureEncoding returns whether or not the passed signature adheres
// to the strict DER rules of BIP 66 and, when requested, has a low S value.
func (vm *Engine) checkSignatureEncoding(sig []byte) error {
	if !vm.hasFlag(ScriptVerifyDERSignatures) &&
		!vm.hasFlag(ScriptVerifyLowS) &&
		!vm.hasFlag(ScriptVerifyStrictEncoding) {

		return nil
	}

	sBytes, err := parseStrictDER(sig)
	if err != nil {
		return err
	}

	if vm.hasFlag(ScriptVerifyLowS) {
		for len(sBytes) > 0 && sBytes[0] == 0x00 {
			sBytes = sBytes[1:]
		}
		var s secp256k1.ModNScalar
		if len(sBytes) > 32 || s.SetByteSlice(sBytes) || s.IsOverHalfOrder() {
			str := "signature is not canonical due to unnecessarily " +
				"high S value"
			return scriptError(txscript.ErrSigHighS, str)
		}
	}

	return nil
}

// parseStrictDER checks the layout
//
//	0x30 <total len> 0x02 <R len> <R> 0x02 <S len> <S>
//
// with minimally encoded positive integers and returns the S bytes.
func parseStrictDER(sig []byte) ([]byte, error) {
	const (
		minSigLen      = 8
		maxSigLen      = 72
		asn1SequenceID = 0x30
		asn1IntegerID  = 0x02
		rTypeOffset    = 2
		rLenOffset     = 3
		rOffset        = 4
	)

	sigLen := len(sig)
	switch {
	case sigLen < minSigLen:
		str := fmt.Sprintf("malformed signature: too short: %d < %d",
			sigLen, minSigLen)
		return nil, scriptError(txscript.ErrSigTooShort, str)
	case sigLen > maxSigLen:
		str := fmt.Sprintf("malformed signature: too long: %d > %d",
			sigLen, maxSigLen)
		return nil, scriptError(txscript.ErrSigTooLong, str)
	case sig[0] != asn1SequenceID:
		str := fmt.Sprintf("malformed signature: format has wrong "+
			"type: %#x", sig[0])
		return nil, scriptError(txscript.ErrSigInvalidSeqID, str)
	case int(sig[1]) != sigLen-2:
		str := fmt.Sprintf("malformed signature: bad length: %d != %d",
			sig[1], sigLen-2)
		return nil, scriptError(txscript.ErrSigInvalidDataLen, str)
	case sig[rTypeOffset] != asn1IntegerID:
		str := fmt.Sprintf("malformed signature: R integer marker: "+
			"%#x != %#x", sig[rTypeOffset], asn1IntegerID)
		return nil, scriptError(txscript.ErrSigInvalidRIntID, str)
	}

	rLen := int(sig[rLenOffset])
	sTypeOffset := rOffset + rLen
	sLenOffset := sTypeOffset + 1
	switch {
	case rLen == 0:
		return nil, scriptError(txscript.ErrSigZeroRLen,
			"malformed signature: R length is zero")
	case sTypeOffset >= sigLen:
		return nil, scriptError(txscript.ErrSigMissingSTypeID,
			"malformed signature: S type indicator missing")
	case sLenOffset >= sigLen:
		return nil, scriptError(txscript.ErrSigMissingSLen,
			"malformed signature: S length missing")
	}

	sOffset := sLenOffset + 1
	sLen := int(sig[sLenOffset])
	switch {
	case sOffset+sLen != sigLen:
		return nil, scriptError(txscript.ErrSigInvalidSLen,
			"malformed signature: invalid S length")
	case sig[sTypeOffset] != asn1IntegerID:
		str := fmt.Sprintf("malformed signature: S integer marker: "+
			"%#x != %#x", sig[sTypeOffset], asn1IntegerID)
		return nil, scriptError(txscript.ErrSigInvalidSIntID, str)
	case sLen == 0:
		return nil, scriptError(txscript.ErrSigZeroSLen,
			"malformed signature: S length is zero")
	}

	r := sig[rOffset : rOffset+rLen]
	s := sig[sOffset : sOffset+sLen]
	switch {
	case r[0]&0x80 != 0:
		return nil, scriptError(txscript.ErrSigNegativeR,
			"malformed signature: R is negative")
	case rLen > 1 && r[0] == 0x00 && r[1]&0x80 == 0:
		return nil, scriptError(txscript.ErrSigTooMuchRPadding,
			"malformed signature: R value has too much padding")
	case s[0]&0x80 != 0:
		return nil, scriptError(txscript.ErrSigNegativeS,
			"malformed signature: S is negative")
	case sLen > 1 && s[0] == 0x00 && s[1]&0x80 == 0:
		return nil, scriptError(txscript.ErrSigTooMuchSPadding,
			"malformed signature: S value has too much padding")
	}

	return s, nil
}
