/*
NAME
  ldpc_tables.go

DESCRIPTION
  ldpc_tables.go constructs the fixed parity-check matrices for the LDPC
  codes. Each matrix is H = [A | B]: A pseudo-random with column weight
  three from a fixed seed, B a dual-diagonal staircase, so H has full rank
  and both ends of a link derive identical codes.

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

// Seeds for the pseudo-random data region of each matrix. Changing these
// changes the code on the wire.
const (
	ldpc128Seed = 0x5EED0128
	ldpc256Seed = 0x5EED0256
)

var (
	ldpc128 = newLDPCCode(buildParityCheck(128, 64, ldpc128Seed))
	ldpc256 = newLDPCCode(buildParityCheck(256, 128, ldpc256Seed))
)

// lcg is a small deterministic generator for matrix construction; matrix
// identity across builds matters, math/rand's stream does not.
type lcg uint64

func (l *lcg) next(bound int) int {
	*l = *l*6364136223846793005 + 1442695040888963407
	return int(uint64(*l)>>33) % bound
}

// buildParityCheck returns an m×n matrix [A | B] with k = n−m data
// columns of weight three and a dual-diagonal parity region.
func buildParityCheck(n, m int, seed uint64) [][]byte {
	h := make([][]byte, m)
	for i := range h {
		h[i] = make([]byte, n)
	}

	k := n - m
	rng := lcg(seed)
	for j := 0; j < k; j++ {
		for placed := 0; placed < 3; {
			i := rng.next(m)
			if h[i][j] != 0 {
				continue
			}
			h[i][j] = 1
			placed++
		}
	}

	for i := 0; i < m; i++ {
		h[i][k+i] = 1
		if i > 0 {
			h[i][k+i-1] = 1
		}
	}
	return h
}
