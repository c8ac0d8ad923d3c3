// Package checksum computes CRC-32/ISO-HDLC checksums over byte streams.
// The variant uses the reflected polynomial 0xEDB88320 with initial and
// final XOR 0xFFFFFFFF, which is exactly what hash/crc32's IEEE table
// implements. Hex rendering is lowercase, zero-padded to 8 digits.
package checksum

import (
	"fmt"
	"hash"
	"hash/crc32"
)

// Sum computes the checksum of data in one shot.
func Sum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// SumHex computes the checksum of data and renders it as hex.
func SumHex(data []byte) string {
	return FormatHex(Sum(data))
}

// FormatHex renders a checksum as 8 lowercase hex digits.
func FormatHex(sum uint32) string {
	return fmt.Sprintf("%08x", sum)
}

// Accumulator computes a checksum incrementally. Feeding the input in
// arbitrary contiguous pieces yields the same value as a single Sum call
// over the concatenation.
type Accumulator struct {
	h hash.Hash32
}

// NewAccumulator returns an Accumulator in its initial state.
func NewAccumulator() *Accumulator {
	return &Accumulator{h: crc32.NewIEEE()}
}

// Update folds buf into the running checksum.
func (a *Accumulator) Update(buf []byte) {
	// hash.Hash32 writes never fail.
	_, _ = a.h.Write(buf)
}

// Value returns the checksum over everything fed so far.
func (a *Accumulator) Value() uint32 {
	return a.h.Sum32()
}

// Hex returns Value rendered as 8 lowercase hex digits.
func (a *Accumulator) Hex() string {
	return FormatHex(a.Value())
}

// Reset returns the accumulator to its initial state.
func (a *Accumulator) Reset() {
	a.h.Reset()
}
