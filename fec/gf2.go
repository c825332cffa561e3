/*
NAME
  gf2.go

DESCRIPTION
  gf2.go provides GF(2) matrix reduction: conversion of a parity-check
  matrix to systematic form by Gaussian elimination with partial column
  pivoting, preserving the column permutation so encoder and decoder agree
  on bit positions.

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

import "errors"

var errSingular = errors.New("fec: parity-check matrix is rank deficient")

// systematize reduces an m×n parity-check matrix H (one bit per byte) to
// the form [P | I_m] by row operations and column swaps. It returns the
// m×(n−m) matrix P and the column permutation perm, where perm[j] gives
// the original column now at position j. H is not modified.
func systematize(h [][]byte) (p [][]byte, perm []int, err error) {
	m := len(h)
	if m == 0 {
		return nil, nil, errors.New("fec: empty parity-check matrix")
	}
	n := len(h[0])

	// Work on a copy.
	w := make([][]byte, m)
	for i := range h {
		w[i] = append([]byte(nil), h[i]...)
	}
	perm = make([]int, n)
	for j := range perm {
		perm[j] = j
	}

	// Eliminate into the last m columns so the identity lands on the
	// parity positions.
	for r := 0; r < m; r++ {
		col := n - m + r

		// Find a pivot row at or below r in the pivot column; if the
		// column is all zero from r down, swap in a column from the data
		// region that is not.
		pr := -1
		for i := r; i < m; i++ {
			if w[i][col] != 0 {
				pr = i
				break
			}
		}
		if pr < 0 {
			swapped := false
			for j := n - m - 1; j >= 0; j-- {
				for i := r; i < m; i++ {
					if w[i][j] != 0 {
						for k := 0; k < m; k++ {
							w[k][j], w[k][col] = w[k][col], w[k][j]
						}
						perm[j], perm[col] = perm[col], perm[j]
						pr = i
						swapped = true
						break
					}
				}
				if swapped {
					break
				}
			}
			if !swapped {
				return nil, nil, errSingular
			}
		}

		w[r], w[pr] = w[pr], w[r]

		// Clear the pivot column in every other row.
		for i := 0; i < m; i++ {
			if i == r || w[i][col] == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				w[i][j] ^= w[r][j]
			}
		}
	}

	p = make([][]byte, m)
	for i := range p {
		p[i] = append([]byte(nil), w[i][:n-m]...)
	}
	return p, perm, nil
}
