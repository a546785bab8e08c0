package engine

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// FuzzCheckSolution runs arbitrary script pairs through the engine.  Any
// outcome is acceptable as long as the engine neither panics nor reports a
// failure that is not a positioned script error.
func FuzzCheckSolution(f *testing.F) {
	f.Add([]byte{txscript.OP_1, txscript.OP_1, txscript.OP_EQUAL})
	f.Add([]byte{0x02, txscript.OP_IF, txscript.OP_ENDIF})

	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)

		sigScript, err := c.GetBytes()
		if err != nil {
			return
		}
		pkScript, err := c.GetBytes()
		if err != nil {
			return
		}
		witness, _ := c.GetBytes()

		tx := spendTx(0, 0)
		tx.TxIn[0].SignatureScript = sigScript
		if len(witness) > 0 {
			tx.TxIn[0].Witness = wire.TxWitness{witness}
		}

		err = CheckSolution(
			tx, 0, txscript.NewCannedPrevOutputFetcher(pkScript, 0),
		)
		if err == nil {
			return
		}
		if _, ok := err.(*ScriptError); !ok {
			t.Fatalf("unexpected error type %T: %v", err, err)
		}
	})
}
