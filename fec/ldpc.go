/*
NAME
  ldpc.go

DESCRIPTION
  ldpc.go provides soft-decision decoding of the LDPC codes by belief
  propagation over bit log-likelihood ratios, and systematic encoding via
  the reduced parity matrix produced by gf2.go.

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

import "github.com/ausocean/acoustic/modem"

// ldpcIters bounds belief propagation; decoding stops early once every
// parity check is satisfied.
const ldpcIters = 25

// ldpcCode is one LDPC code instance: the parity-check matrix, its
// systematic reduction, and adjacency lists for message passing.
type ldpcCode struct {
	n, m int // Codeword bits and parity checks; k = n-m data bits.

	h    [][]byte
	p    [][]byte // m×k parity generator from systematize.
	perm []int    // perm[j] is the original column at reduced position j.

	checkAdj [][]int // Variable indices participating in each check.
	varAdj   [][]int // Check indices each variable participates in.
}

func newLDPCCode(h [][]byte) *ldpcCode {
	c := &ldpcCode{n: len(h[0]), m: len(h), h: h}

	p, perm, err := systematize(h)
	if err != nil {
		panic(err)
	}
	c.p, c.perm = p, perm

	c.checkAdj = make([][]int, c.m)
	c.varAdj = make([][]int, c.n)
	for i := 0; i < c.m; i++ {
		for j := 0; j < c.n; j++ {
			if h[i][j] != 0 {
				c.checkAdj[i] = append(c.checkAdj[i], j)
				c.varAdj[j] = append(c.varAdj[j], i)
			}
		}
	}
	return c
}

// encode produces the n-bit codeword for k data bits (one bit per byte).
// Data bits land on the columns the reduction left in the data region, so
// the parity relations of h hold on the result.
func (c *ldpcCode) encode(data []byte) []byte {
	k := c.n - c.m
	cw := make([]byte, c.n)
	for j := 0; j < k; j++ {
		cw[c.perm[j]] = data[j] & 1
	}
	for i := 0; i < c.m; i++ {
		var par byte
		for j := 0; j < k; j++ {
			par ^= c.p[i][j] & data[j]
		}
		cw[c.perm[k+i]] = par & 1
	}
	return cw
}

// decode runs belief propagation over the soft codeword and returns the
// data bits. ok is false if the parity checks are still violated after the
// iteration budget.
func (c *ldpcCode) decode(llrs []modem.LLR) ([]byte, bool) {
	ch := make([]float64, c.n)
	for i := range ch {
		ch[i] = float64(llrs[i])
	}

	// toV[i][e] is the message from check i to its e-th variable.
	toV := make([][]float64, c.m)
	for i := range toV {
		toV[i] = make([]float64, len(c.checkAdj[i]))
	}

	total := make([]float64, c.n)
	hard := make([]byte, c.n)

	for iter := 0; iter < ldpcIters; iter++ {
		for v := 0; v < c.n; v++ {
			t := ch[v]
			for _, i := range c.varAdj[v] {
				for e, vv := range c.checkAdj[i] {
					if vv == v {
						t += toV[i][e]
						break
					}
				}
			}
			total[v] = t
			if t < 0 {
				hard[v] = 1
			} else {
				hard[v] = 0
			}
		}

		if c.parityOK(hard) {
			return c.extract(hard), true
		}

		for i := 0; i < c.m; i++ {
			adj := c.checkAdj[i]
			for e := range adj {
				prod := 1.0
				for e2, v2 := range adj {
					if e2 == e {
						continue
					}
					prod *= fastTanh((total[v2] - toV[i][e2]) / 2)
				}
				toV[i][e] = 2 * fastAtanh(prod)
			}
		}
	}

	return c.extract(hard), false
}

func (c *ldpcCode) parityOK(bits []byte) bool {
	for _, adj := range c.checkAdj {
		var x byte
		for _, v := range adj {
			x ^= bits[v]
		}
		if x != 0 {
			return false
		}
	}
	return true
}

func (c *ldpcCode) extract(bits []byte) []byte {
	k := c.n - c.m
	data := make([]byte, k)
	for j := 0; j < k; j++ {
		data[j] = bits[c.perm[j]]
	}
	return data
}

// fastTanh is a rational approximation of tanh, accurate to a few parts in
// ten thousand over the active range and clamped beyond it.
func fastTanh(x float64) float64 {
	if x < -4.97 {
		return -1
	}
	if x > 4.97 {
		return 1
	}
	x2 := x * x
	a := x * (945 + x2*(105+x2))
	b := 945 + x2*(420+x2*15)
	return a / b
}

// fastAtanh is the matching rational approximation of atanh on (-1,1).
func fastAtanh(x float64) float64 {
	x2 := x * x
	a := x * (945 + x2*(-735+x2*64))
	b := 945 + x2*(-1050+x2*225)
	return a / b
}
