// Copyright (c) 2015-2017 The btcsuite developers
// Copyright (c) 2015-2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/txscript"
)

// TestScriptNumBytes ensures that converting from integral script numbers to
// byte representations works as expected.
func TestScriptNumBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		num        scriptNum
		serialized []byte
	}{
		{0, nil},
		{1, hexToBytes("01")},
		{-1, hexToBytes("81")},
		{127, hexToBytes("7f")},
		{-127, hexToBytes("ff")},
		{128, hexToBytes("8000")},
		{-128, hexToBytes("8080")},
		{255, hexToBytes("ff00")},
		{-255, hexToBytes("ff80")},
		{256, hexToBytes("0001")},
		{32767, hexToBytes("ff7f")},
		{32768, hexToBytes("008000")},
		{2147483647, hexToBytes("ffffff7f")},
		{-2147483648, hexToBytes("0000008080")},
	}

	for _, test := range tests {
		gotBytes := test.num.Bytes()
		if !bytes.Equal(gotBytes, test.serialized) {
			t.Errorf("Bytes: did not get expected bytes for %d - "+
				"got %x, want %x", test.num, gotBytes,
				test.serialized)
		}
	}
}

// TestMakeScriptNum ensures that converting from byte representations to
// integral script numbers works as expected.
func TestMakeScriptNum(t *testing.T) {
	t.Parallel()

	tests := []struct {
		serialized      []byte
		num             scriptNum
		numLen          int
		minimalEncoding bool
		code            txscript.ErrorCode
		fails           bool
	}{
		{nil, 0, maxScriptNumLen, true, 0, false},
		{hexToBytes("01"), 1, maxScriptNumLen, true, 0, false},
		{hexToBytes("81"), -1, maxScriptNumLen, true, 0, false},
		{hexToBytes("8000"), 128, maxScriptNumLen, true, 0, false},
		{hexToBytes("8080"), -128, maxScriptNumLen, true, 0, false},
		{hexToBytes("ffffff7f"), 2147483647, maxScriptNumLen, true, 0, false},
		{hexToBytes("ffffffff7f"), 549755813887, cltvMaxScriptNumLen, true, 0, false},

		// Non-minimal encodings.
		{hexToBytes("00"), 0, maxScriptNumLen, true, txscript.ErrMinimalData, true},
		{hexToBytes("0100"), 0, maxScriptNumLen, true, txscript.ErrMinimalData, true},
		{hexToBytes("0180"), 0, maxScriptNumLen, true, txscript.ErrMinimalData, true},
		{hexToBytes("0100"), 1, maxScriptNumLen, false, 0, false},
		{hexToBytes("80"), 0, maxScriptNumLen, false, 0, false},

		// Too long.
		{hexToBytes("0000008000"), 0, maxScriptNumLen, true, txscript.ErrNumberTooBig, true},
		{hexToBytes("0000008000"), 0, maxScriptNumLen, false, txscript.ErrNumberTooBig, true},
	}

	for _, test := range tests {
		gotNum, err := makeScriptNum(test.serialized,
			test.minimalEncoding, test.numLen)
		if test.fails {
			if !IsErrorCode(err, test.code) {
				t.Errorf("makeScriptNum(%#x): unexpected error "+
					"got %v, want %v", test.serialized, err,
					test.code)
			}
			continue
		}
		if err != nil {
			t.Errorf("makeScriptNum(%#x): unexpected error %v",
				test.serialized, err)
			continue
		}

		if gotNum != test.num {
			t.Errorf("makeScriptNum(%#x): did not get expected "+
				"number - got %d, want %d", test.serialized,
				gotNum, test.num)
		}
	}
}

// TestScriptNumInt32 ensures that the Int32 function on script number behaves
// as expected.
func TestScriptNumInt32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   scriptNum
		want int32
	}{
		{0, 0},
		{-1, -1},
		{2147483647, 2147483647},
		{2147483648, 2147483647},
		{-2147483649, -2147483648},
		{9223372036854775807, 2147483647},
	}

	for _, test := range tests {
		got := test.in.Int32()
		if got != test.want {
			t.Errorf("Int32: did not get expected value for %d - "+
				"got %d, want %d", test.in, got, test.want)
		}
	}
}
