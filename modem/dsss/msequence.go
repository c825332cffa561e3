/*
NAME
  msequence.go

DESCRIPTION
  msequence.go generates the maximum-length spreading sequences used by
  the direct-sequence physical layer, via a Fibonacci LFSR with primitive
  feedback taps.

AUTHOR
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package dsss

import "fmt"

// Primitive feedback tap masks for the supported register widths, indexed
// by width. The register shifts right; feedback is the parity of the
// masked register, inserted at the top.
var lfsrTaps = map[int]uint32{
	4: 0b1001,   // x^4 + x^3 + 1
	5: 0b01001,  // x^5 + x^3 + 1
	6: 0b100001, // x^6 + x^5 + 1
}

// mSequence returns the length 2^n−1 maximum-length sequence as chips in
// {+1,−1}, with +1 for a 0 bit. length must be 15, 31 or 63 and seed
// non-zero within the register width.
func mSequence(length int, seed uint32) ([]int8, error) {
	var n int
	switch length {
	case 15:
		n = 4
	case 31:
		n = 5
	case 63:
		n = 6
	default:
		return nil, fmt.Errorf("dsss: unsupported sequence length %d", length)
	}

	mask := uint32(1)<<n - 1
	r := seed & mask
	if r == 0 {
		return nil, fmt.Errorf("dsss: seed %#b is zero in a %d bit register", seed, n)
	}

	chips := make([]int8, length)
	for i := range chips {
		if r&1 == 0 {
			chips[i] = 1
		} else {
			chips[i] = -1
		}
		fb := parity(r & lfsrTaps[n])
		r = r>>1 | fb<<(n-1)
	}
	return chips, nil
}

func parity(x uint32) uint32 {
	var p uint32
	for x != 0 {
		p ^= x & 1
		x >>= 1
	}
	return p
}
