// Package rng is the seeded generator shared by every client in a round.
// Output matches the browser implementation bit for bit.
package rng

import "unicode/utf16"

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// Source yields floats in [0, 1).
type Source interface {
	Float64() float64
}

// HashString folds s into a 32-bit seed with FNV-1a over UTF-16 code units,
// the unit the browser client hashes.
func HashString(s string) uint32 {
	h := uint32(fnvOffset32)
	for _, unit := range utf16.Encode([]rune(s)) {
		h ^= uint32(unit)
		h *= fnvPrime32
	}
	return h
}

// Mulberry32 is a small 32-bit generator. The zero value is a valid
// generator seeded with 0.
type Mulberry32 struct {
	state uint32
}

// New returns a generator seeded with seed.
func New(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

// NewSeeded hashes seed with HashString and returns a generator for it.
func NewSeeded(seed string) *Mulberry32 {
	return New(HashString(seed))
}

// Uint32 advances the generator and returns the raw 32-bit output.
func (m *Mulberry32) Uint32() uint32 {
	m.state += 0x6d2b79f5
	t := m.state
	r := (t ^ (t >> 15)) * (1 | t)
	r ^= r + (r^(r>>7))*(61|r)
	return r ^ (r >> 14)
}

// Float64 returns the next value in [0, 1).
func (m *Mulberry32) Float64() float64 {
	return float64(m.Uint32()) / 4294967296.0
}

// RandomInt returns an int in [0, max). max <= 1 always yields 0.
func RandomInt(src Source, max int) int {
	if max <= 1 {
		return 0
	}
	n := int(src.Float64() * float64(max))
	if n >= max {
		n = max - 1
	}
	return n
}
