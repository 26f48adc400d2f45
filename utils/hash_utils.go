package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HeaderSep is the reserved separator for canonical header encodings. No
// header field may contain it, which keeps the encoding unambiguous.
const HeaderSep = "`"

// Sha256TwoString computes the double SHA256 of a string. The second hash is
// taken over the ASCII hex digest of the first, so every intermediate value
// stays in the hex-string domain. Everything in the chain that is called a
// "hash" goes through this function.
func Sha256TwoString(s string) string {
	first := sha256.Sum256([]byte(s))
	second := sha256.Sum256([]byte(hex.EncodeToString(first[:])))
	return hex.EncodeToString(second[:])
}

// EncodeAsStr joins already-stringified fields with the given separator to
// form a canonical encoding. The caller guarantees no field contains sep.
func EncodeAsStr(fields []string, sep string) string {
	return strings.Join(fields, sep)
}

// NonemptyIntersection reports whether the two string slices share at least
// one element.
func NonemptyIntersection(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}
