// Package roomcode generates and normalizes the short codes students type to
// find a room.
package roomcode

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

// Alphabet leaves out 0/O and 1/I so codes read well off a projector.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the size of every room code.
const Length = 6

var validCode = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// Generate returns a random code of the given length drawn from Alphabet.
func Generate(length int) string {
	if length <= 0 {
		length = Length
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(Alphabet[rand.IntN(len(Alphabet))])
	}
	return b.String()
}

// Normalize uppercases input, drops anything outside [A-Z0-9] and truncates
// to Length.
func Normalize(input string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		if b.Len() == Length {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValid reports whether code is exactly six uppercase alphanumerics.
func IsValid(code string) bool {
	return validCode.MatchString(code)
}
