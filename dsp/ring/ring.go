/*
NAME
  ring.go

DESCRIPTION
  ring.go provides a bounded circular buffer for audio samples and decoded
  bytes used on the modem sample path.

AUTHOR
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package ring provides a bounded single-producer single-consumer circular
// buffer. Writes to a full buffer evict the oldest element rather than fail,
// which is the behaviour wanted of a jitter buffer sitting between an audio
// callback and the demodulator. The buffer is not safe for concurrent use;
// it is intended to live on one side of the audio boundary with ownership
// transferred by ordered message passing.
package ring

import "errors"

// Errors returned by buffer operations.
var (
	ErrEmpty      = errors.New("ring: buffer empty")
	ErrOutOfRange = errors.New("ring: index out of range")
)

// Elem constrains the element types a Buffer may hold; float32 for audio
// samples, byte for decoded data and int8 for soft bits.
type Elem interface {
	~float32 | ~uint8 | ~int8
}

// Buffer is a bounded circular buffer of length at most cap(b.data).
// When full, a further Put advances the read cursor by one, discarding
// the oldest element.
type Buffer[T Elem] struct {
	data []T
	head int // Index of the oldest element.
	len  int
}

// NewBuffer returns a Buffer with the given capacity. Capacity must be
// greater than zero; NewBuffer panics otherwise since this is a programming
// error rather than a runtime condition.
func NewBuffer[T Elem](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic("ring: non-positive capacity")
	}
	return &Buffer[T]{data: make([]T, capacity)}
}

// Put appends the given elements to the buffer. If the buffer fills, the
// oldest elements are overwritten and the read cursor advanced; Put never
// fails.
func (b *Buffer[T]) Put(xs ...T) {
	for _, x := range xs {
		tail := (b.head + b.len) % len(b.data)
		b.data[tail] = x
		if b.len == len(b.data) {
			// Full; evict the oldest element.
			b.head = (b.head + 1) % len(b.data)
		} else {
			b.len++
		}
	}
}

// Remove pops and returns the oldest element.
func (b *Buffer[T]) Remove() (T, error) {
	var zero T
	if b.len == 0 {
		return zero, ErrEmpty
	}
	x := b.data[b.head]
	b.head = (b.head + 1) % len(b.data)
	b.len--
	return x, nil
}

// Get reads the element at logical index i without removing it. Negative
// indices count back from the newest element, i.e. Get(-1) returns the most
// recently written element.
func (b *Buffer[T]) Get(i int) (T, error) {
	var zero T
	if i < 0 {
		i += b.len
	}
	if i < 0 || i >= b.len {
		return zero, ErrOutOfRange
	}
	return b.data[(b.head+i)%len(b.data)], nil
}

// Len returns the number of elements buffered.
func (b *Buffer[T]) Len() int { return b.len }

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int { return len(b.data) }

// AvailableRead returns the number of elements that may be read.
func (b *Buffer[T]) AvailableRead() int { return b.len }

// AvailableWrite returns the number of elements that may be written before
// eviction begins.
func (b *Buffer[T]) AvailableWrite() int { return len(b.data) - b.len }

// Clear resets the buffer to empty without reallocating.
func (b *Buffer[T]) Clear() {
	b.head = 0
	b.len = 0
}

// Slice returns the buffered elements oldest first as a newly allocated
// slice. It is intended for tests and diagnostics, not the sample path.
func (b *Buffer[T]) Slice() []T {
	out := make([]T, b.len)
	for i := 0; i < b.len; i++ {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}
	return out
}
