/*
NAME
  fec_test.go

DESCRIPTION
  fec_test.go contains tests for the fec package.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package fec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/ausocean/acoustic/modem"
)

// hardLLRs converts code bits to confident soft bits.
func hardLLRs(bits []byte, confidence modem.LLR) []modem.LLR {
	out := make([]modem.LLR, len(bits))
	for i, b := range bits {
		if b == 0 {
			out[i] = confidence
		} else {
			out[i] = -confidence
		}
	}
	return out
}

func TestBCHRoundTrip(t *testing.T) {
	data := []byte{1, 0, 1, 1, 0, 0, 1}
	cw := bchEncode(data)
	if len(cw) != 15 {
		t.Fatalf("unexpected codeword length: got %d, want 15", len(cw))
	}

	got, ok := bchDecode(hardLLRs(cw, 100))
	if !ok {
		t.Fatal("clean codeword failed to decode")
	}
	if !bytes.Equal(got, data) {
		t.Errorf("unexpected decode: got %v, want %v", got, data)
	}
}

// TestBCHCorrection checks every error pattern of weight one and two is
// corrected, the code's guaranteed capacity.
func TestBCHCorrection(t *testing.T) {
	data := []byte{0, 1, 1, 0, 1, 0, 1}
	cw := bchEncode(data)

	flip := func(llrs []modem.LLR, i int) {
		llrs[i] = -llrs[i]
	}

	for i := 0; i < 15; i++ {
		llrs := hardLLRs(cw, 100)
		flip(llrs, i)
		got, ok := bchDecode(llrs)
		if !ok || !bytes.Equal(got, data) {
			t.Errorf("single error at %d not corrected", i)
		}

		for j := i + 1; j < 15; j++ {
			llrs := hardLLRs(cw, 100)
			flip(llrs, i)
			flip(llrs, j)
			got, ok := bchDecode(llrs)
			if !ok || !bytes.Equal(got, data) {
				t.Errorf("double error at %d,%d not corrected", i, j)
			}
		}
	}
}

// TestLDPCNullSpace checks H·c = 0 for codewords built from the systematic
// reduction, for both codes.
func TestLDPCNullSpace(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, code := range []*ldpcCode{ldpc128, ldpc256} {
		k := code.n - code.m
		for trial := 0; trial < 20; trial++ {
			data := make([]byte, k)
			for i := range data {
				data[i] = byte(rng.Intn(2))
			}
			cw := code.encode(data)
			if !code.parityOK(cw) {
				t.Fatalf("codeword violates parity checks (n=%d trial=%d)", code.n, trial)
			}
		}
	}
}

// TestSystematizePermutation checks the reduction returns a true column
// permutation.
func TestSystematizePermutation(t *testing.T) {
	for _, code := range []*ldpcCode{ldpc128, ldpc256} {
		seen := make([]bool, code.n)
		for _, j := range code.perm {
			if j < 0 || j >= code.n || seen[j] {
				t.Fatalf("perm is not a permutation (n=%d)", code.n)
			}
			seen[j] = true
		}
	}
}

func TestLDPCCleanDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, code := range []*ldpcCode{ldpc128, ldpc256} {
		k := code.n - code.m
		data := make([]byte, k)
		for i := range data {
			data[i] = byte(rng.Intn(2))
		}
		cw := code.encode(data)
		got, ok := code.decode(hardLLRs(cw, 100))
		if !ok {
			t.Fatalf("clean decode failed (n=%d)", code.n)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("unexpected decode (n=%d)", code.n)
		}
	}
}

// TestLDPCErrorCorrection flips a few bits with weak confidence and expects
// belief propagation to recover the data.
func TestLDPCErrorCorrection(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, test := range []struct {
		code  *ldpcCode
		flips int
	}{
		{ldpc128, 3},
		{ldpc256, 5},
	} {
		k := test.code.n - test.code.m
		data := make([]byte, k)
		for i := range data {
			data[i] = byte(rng.Intn(2))
		}
		cw := test.code.encode(data)
		llrs := hardLLRs(cw, 60)

		for _, i := range rng.Perm(test.code.n)[:test.flips] {
			llrs[i] = -llrs[i] / 8 // Flipped, and weak.
		}

		got, ok := test.code.decode(llrs)
		if !ok {
			t.Fatalf("decode with %d weak flips failed (n=%d)", test.flips, test.code.n)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("unexpected decode with %d weak flips (n=%d)", test.flips, test.code.n)
		}
	}
}

// TestLDPCErasures zeroes a run of soft bits and expects recovery.
func TestLDPCErasures(t *testing.T) {
	code := ldpc128
	k := code.n - code.m
	data := make([]byte, k)
	for i := range data {
		data[i] = byte(i % 2)
	}
	cw := code.encode(data)
	llrs := hardLLRs(cw, 60)
	for i := 20; i < 30; i++ {
		llrs[i] = 0
	}

	got, ok := code.decode(llrs)
	if !ok {
		t.Fatal("decode with erasures failed")
	}
	if !bytes.Equal(got, data) {
		t.Error("unexpected decode with erasures")
	}
}

func TestEncodeDecodePadding(t *testing.T) {
	// 10 data bits do not fill a BCH block; the final block is padded and
	// the original length recovered on decode.
	bits := []byte{1, 1, 0, 1, 0, 0, 1, 0, 1, 1}
	coded, err := Encode(bits, BCH15)
	if err != nil {
		t.Fatalf("unexpected error from Encode: %v", err)
	}
	if len(coded) != BCH15.CodedBits(len(bits)) {
		t.Fatalf("unexpected coded length: got %d, want %d", len(coded), BCH15.CodedBits(len(bits)))
	}

	got, ok := Decode(hardLLRs(coded, 100), BCH15, len(bits))
	if !ok {
		t.Fatal("padded decode failed")
	}
	if !bytes.Equal(got, bits) {
		t.Errorf("unexpected decode: got %v, want %v", got, bits)
	}
}

func TestCodeParams(t *testing.T) {
	tests := []struct {
		code  Code
		block int
		data  int
	}{
		{BCH15, 15, 7},
		{LDPC128, 128, 64},
		{LDPC256, 256, 128},
	}
	for _, test := range tests {
		if got := test.code.BlockBits(); got != test.block {
			t.Errorf("%v BlockBits: got %d, want %d", test.code, got, test.block)
		}
		if got := test.code.DataBits(); got != test.data {
			t.Errorf("%v DataBits: got %d, want %d", test.code, got, test.data)
		}
	}
	if Code(9).Valid() {
		t.Error("Code(9) should be invalid")
	}
}
