package solver

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// ScriptClass is the template a script was recognized as.
type ScriptClass byte

// Classes of script recognized by the matcher.
const (
	NonStandardTy         ScriptClass = iota // None of the recognized forms.
	PubKeyTy                                 // Pay pubkey.
	PubKeyHashTy                             // Pay pubkey hash.
	MultiSigTy                               // Multi signature.
	ScriptHashTy                             // Pay to script hash.
	WitnessV0PubKeyHashTy                    // Pay to witness pubkey hash.
	WitnessV0ScriptHashTy                    // Pay to witness script hash.
)

var scriptClassToName = []string{
	NonStandardTy:         "nonstandard",
	PubKeyTy:              "pubkey",
	PubKeyHashTy:          "pubkeyhash",
	MultiSigTy:            "multisig",
	ScriptHashTy:          "scripthash",
	WitnessV0PubKeyHashTy: "witness_v0_keyhash",
	WitnessV0ScriptHashTy: "witness_v0_scripthash",
}

// String implements the Stringer interface by returning the name of
// the enum script class. If the enum is invalid then "Invalid" will be
// returned.
func (t ScriptClass) String() string {
	if int(t) >= len(scriptClassToName) {
		return "Invalid"
	}
	return scriptClassToName[t]
}

// Constraint is one requirement a solution must meet.  The set of
// implementations is closed: *SignatureConstraint, *MultisigConstraint,
// *ScriptHashPreimageConstraint, *WitnessProgramConstraint and
// *OpaqueScriptConstraint.
type Constraint interface {
	fmt.Stringer

	// OnWitness reports whether the items satisfying the constraint go to
	// the witness stack rather than the signature script.
	OnWitness() bool

	isConstraint()
}

// SignatureConstraint requires one signature by the key hashing to
// PubKeyHash.  PubKey is set when the script names the key itself, as pay
// to pubkey does.
type SignatureConstraint struct {
	Class       ScriptClass
	PubKeyHash  []byte
	PubKey      []byte
	ScriptCode  []byte
	SigHashType txscript.SigHashType
	Witness     bool
}

// MultisigConstraint requires Threshold signatures by distinct keys out of
// PubKeys, ordered like the keys.
type MultisigConstraint struct {
	PubKeys     [][]byte
	Threshold   int
	ScriptCode  []byte
	SigHashType txscript.SigHashType
	Witness     bool
}

// ScriptHashPreimageConstraint requires revealing Script, the preimage of
// Hash, as the last item of the signature script (pay to script hash) or of
// the witness (pay to witness script hash).
type ScriptHashPreimageConstraint struct {
	Hash    []byte
	Script  []byte
	Witness bool
}

// WitnessProgramConstraint marks the spend of a witness program.  Every
// constraint after it in a ConstraintSet is satisfied on the witness stack.
// Nested is set when the program is wrapped in pay to script hash.
type WitnessProgramConstraint struct {
	Version int
	Program []byte
	Nested  bool
}

// OpaqueScriptConstraint stands for a revealed script that matches no
// template.  Its items must be supplied by the caller.
type OpaqueScriptConstraint struct {
	Script  []byte
	Witness bool
}

func (c *SignatureConstraint) OnWitness() bool          { return c.Witness }
func (c *MultisigConstraint) OnWitness() bool           { return c.Witness }
func (c *ScriptHashPreimageConstraint) OnWitness() bool { return c.Witness }
func (c *WitnessProgramConstraint) OnWitness() bool     { return true }
func (c *OpaqueScriptConstraint) OnWitness() bool       { return c.Witness }

func (*SignatureConstraint) isConstraint()          {}
func (*MultisigConstraint) isConstraint()           {}
func (*ScriptHashPreimageConstraint) isConstraint() {}
func (*WitnessProgramConstraint) isConstraint()     {}
func (*OpaqueScriptConstraint) isConstraint()       {}

func (c *SignatureConstraint) String() string {
	return fmt.Sprintf("signature(%v, %x, %v, witness=%v)", c.Class,
		c.PubKeyHash, c.SigHashType, c.Witness)
}

func (c *MultisigConstraint) String() string {
	return fmt.Sprintf("multisig(%d-of-%d, %v, witness=%v)", c.Threshold,
		len(c.PubKeys), c.SigHashType, c.Witness)
}

func (c *ScriptHashPreimageConstraint) String() string {
	return fmt.Sprintf("preimage(%x, witness=%v)", c.Hash, c.Witness)
}

func (c *WitnessProgramConstraint) String() string {
	return fmt.Sprintf("witness_v%d(%x, nested=%v)", c.Version, c.Program,
		c.Nested)
}

func (c *OpaqueScriptConstraint) String() string {
	return fmt.Sprintf("opaque(%x, witness=%v)", c.Script, c.Witness)
}

// ConstraintSet is the full list of requirements to spend one input,
// ordered from the outermost wrapper to the innermost script.
type ConstraintSet struct {
	InputIndex  int
	Amount      int64
	PkScript    []byte
	Class       ScriptClass
	Constraints []Constraint
}

// Witness reports whether the set describes a segwit spend.
func (cs *ConstraintSet) Witness() bool {
	for _, c := range cs.Constraints {
		if _, ok := c.(*WitnessProgramConstraint); ok {
			return true
		}
	}
	return false
}
