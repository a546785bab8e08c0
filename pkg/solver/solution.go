package solver

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// SigInfo is a signature placed in a solution together with the public key
// it verifies under.
type SigInfo struct {
	PubKey    []byte
	Signature []byte
}

// Solution holds the items that unlock an input.  Stack becomes the
// signature script and Witness the input witness; the two never mix.
// Complete is false when a multisig constraint is still short of its
// threshold.
type Solution struct {
	Stack    [][]byte
	Witness  wire.TxWitness
	Sigs     []SigInfo
	Complete bool
}

func (s *Solution) push(witness bool, items ...[]byte) {
	if witness {
		s.Witness = append(s.Witness, items...)
		return
	}
	s.Stack = append(s.Stack, items...)
}

// items returns every item of both stacks.
func (s *Solution) items() [][]byte {
	if s == nil {
		return nil
	}

	all := make([][]byte, 0, len(s.Stack)+len(s.Witness))
	all = append(all, s.Stack...)
	return append(all, s.Witness...)
}

// SignatureScript returns the legacy stack as a push only script using
// minimal pushes.
func (s *Solution) SignatureScript() ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	for _, item := range s.Stack {
		builder.AddData(item)
	}

	script, err := builder.Script()
	if err != nil {
		return nil, errors.Wrap(err, "unable to build signature script")
	}
	return script, nil
}

// Apply writes the solution into txIn, replacing its signature script and
// witness.
func (s *Solution) Apply(txIn *wire.TxIn) error {
	sigScript, err := s.SignatureScript()
	if err != nil {
		return err
	}

	txIn.SignatureScript = sigScript
	txIn.Witness = nil
	if len(s.Witness) > 0 {
		txIn.Witness = make(wire.TxWitness, len(s.Witness))
		copy(txIn.Witness, s.Witness)
	}
	return nil
}

// SolutionFromTxIn reads back the solution carried by txIn, typically to
// feed a partially signed input to a later solving round.
func SolutionFromTxIn(txIn *wire.TxIn) (*Solution, error) {
	sol := &Solution{}

	tokenizer := txscript.MakeScriptTokenizer(0, txIn.SignatureScript)
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		switch {
		case op == txscript.OP_0:
			sol.Stack = append(sol.Stack, nil)

		case op == txscript.OP_1NEGATE:
			sol.Stack = append(sol.Stack, []byte{0x81})

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			sol.Stack = append(sol.Stack,
				[]byte{byte(txscript.AsSmallInt(op))})

		case op <= txscript.OP_PUSHDATA4:
			sol.Stack = append(sol.Stack, tokenizer.Data())

		default:
			return nil, errors.Errorf("signature script is not push "+
				"only: found opcode %#x", op)
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to parse signature script")
	}

	if len(txIn.Witness) > 0 {
		sol.Witness = make(wire.TxWitness, len(txIn.Witness))
		copy(sol.Witness, txIn.Witness)
	}
	return sol, nil
}
