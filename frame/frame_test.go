/*
NAME
  frame_test.go

DESCRIPTION
  frame_test.go contains tests for the frame package.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package frame

import (
	"bytes"
	"testing"

	"github.com/ausocean/acoustic/modem"
)

// feed drives wire bits into the deframer as confident soft bits.
func feed(f *Framer, bits []byte) {
	for _, b := range bits {
		if b == 0 {
			f.In(100)
		} else {
			f.In(-100)
		}
	}
}

func TestCRC8Vector(t *testing.T) {
	if got := CRC8([]byte("123456789")); got != 0xF4 {
		t.Errorf("unexpected CRC8 check value: got %#x, want 0xf4", got)
	}
}

func TestCRC16Vector(t *testing.T) {
	// CRC-16/X-25 style parameters differ; this pins our exact variant:
	// init 0xFFFF, poly 0x1021, MSB first, complemented.
	got := CRC16([]byte("123456789"))
	want := ^crcRef([]byte("123456789"))
	if got != want {
		t.Errorf("unexpected CRC16: got %#x, want %#x", got, want)
	}
}

// crcRef is an independent bit-serial CCITT implementation.
func crcRef(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			bit := (b >> i) & 1
			top := byte(crc >> 15)
			crc <<= 1
			if top^bit != 0 {
				crc ^= 0x1021
			}
		}
	}
	return crc
}

func TestRoundTrip(t *testing.T) {
	var cfg Config
	fr, err := NewFramer(cfg)
	if err != nil {
		t.Fatalf("unexpected error from NewFramer: %v", err)
	}

	want := Frame{Seq: 7, Type: TypeData, Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	bits, err := Encode(want, cfg)
	if err != nil {
		t.Fatalf("unexpected error from Encode: %v", err)
	}

	feed(fr, bits)

	got, ok := fr.Next()
	if !ok {
		t.Fatal("no frame decoded")
	}
	if got.Seq != want.Seq || got.Type != want.Type {
		t.Errorf("unexpected header: got seq %d type %d", got.Seq, got.Type)
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("unexpected payload: got %#v, want %#v", got.Payload, want.Payload)
	}
	if !fr.Healthy() {
		t.Error("deframer unhealthy after clean decode")
	}
}

func TestEmptyPayload(t *testing.T) {
	var cfg Config
	fr, err := NewFramer(cfg)
	if err != nil {
		t.Fatalf("unexpected error from NewFramer: %v", err)
	}

	bits, err := Encode(Frame{Seq: 1, Type: TypeControl}, cfg)
	if err != nil {
		t.Fatalf("unexpected error from Encode: %v", err)
	}
	feed(fr, bits)

	got, ok := fr.Next()
	if !ok {
		t.Fatal("no frame decoded")
	}
	if len(got.Payload) != 0 {
		t.Errorf("unexpected payload length: got %d, want 0", len(got.Payload))
	}
}

// TestMultiFrame streams three frames separated by silent gaps and expects
// all three in order.
func TestMultiFrame(t *testing.T) {
	var cfg Config
	fr, err := NewFramer(cfg)
	if err != nil {
		t.Fatalf("unexpected error from NewFramer: %v", err)
	}

	payloads := [][]byte{{0x01, 0x02}, {0x03, 0x04, 0x05}, {0x06}}
	for i, p := range payloads {
		bits, err := Encode(Frame{Seq: uint8(i), Type: TypeData, Payload: p}, cfg)
		if err != nil {
			t.Fatalf("unexpected error from Encode: %v", err)
		}
		feed(fr, bits)
		// A gap of weak idle bits between frames.
		for j := 0; j < 500; j++ {
			fr.In(1)
		}
	}

	for i, p := range payloads {
		got, ok := fr.Next()
		if !ok {
			t.Fatalf("frame %d missing", i)
		}
		if got.Seq != uint8(i) {
			t.Errorf("frame %d: unexpected seq %d", i, got.Seq)
		}
		if !bytes.Equal(got.Payload, p) {
			t.Errorf("frame %d: unexpected payload %#v, want %#v", i, got.Payload, p)
		}
	}
	if fr.Decoded() != 3 {
		t.Errorf("unexpected decode count: got %d, want 3", fr.Decoded())
	}
}

// TestFECRecovery corrupts coded payload bits and expects the LDPC code to
// carry the frame through.
func TestFECRecovery(t *testing.T) {
	var cfg Config
	fr, err := NewFramer(cfg)
	if err != nil {
		t.Fatalf("unexpected error from NewFramer: %v", err)
	}

	want := Frame{Seq: 3, Type: TypeData, Payload: []byte{0x55, 0xAA}}
	bits, err := Encode(want, cfg)
	if err != nil {
		t.Fatalf("unexpected error from Encode: %v", err)
	}

	// Flip two bits inside the coded payload region, weakly.
	hdrLen := preambleBits + len(syncWord)*8 + headerCode.CodedBits(headerBytes*8)
	for i, b := range bits {
		var l modem.LLR = 100
		if b != 0 {
			l = -100
		}
		if i == hdrLen+5 || i == hdrLen+40 {
			l = -l / 10
		}
		fr.In(l)
	}

	got, ok := fr.Next()
	if !ok {
		t.Fatal("no frame decoded despite FEC margin")
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("unexpected payload: got %#v, want %#v", got.Payload, want.Payload)
	}
}

// TestCRCFailure corrupts the payload beyond the code's reach and expects
// no frame plus eventual unhealthiness.
func TestCRCFailure(t *testing.T) {
	var cfg Config
	_ = cfg.Validate()
	fr, err := NewFramer(cfg)
	if err != nil {
		t.Fatalf("unexpected error from NewFramer: %v", err)
	}

	bits, err := Encode(Frame{Seq: 1, Type: TypeData, Payload: []byte{0x11}}, cfg)
	if err != nil {
		t.Fatalf("unexpected error from Encode: %v", err)
	}

	// Flip the CRC bits hard so verification must fail.
	corrupted := append([]byte(nil), bits...)
	for i := len(corrupted) - 16; i < len(corrupted); i++ {
		corrupted[i] ^= 1
	}

	for i := 0; i < cfg.HealthLimit; i++ {
		feed(fr, corrupted)
	}

	if _, ok := fr.Next(); ok {
		t.Error("frame emitted despite CRC corruption")
	}
	if fr.Healthy() {
		t.Error("deframer still healthy after repeated CRC failures")
	}
}

func TestOversizePayloadRejected(t *testing.T) {
	var cfg Config
	_ = cfg.Validate()
	big := make([]byte, cfg.MaxPayload+1)
	if _, err := Encode(Frame{Payload: big}, cfg); err == nil {
		t.Error("expected error for oversize payload")
	}
}
