// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// WithPrefix generates a random ID with a prefix (e.g. "txn_", "pay_", "dsp_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// codeAlphabet excludes ambiguous characters (0/O, 1/I/L) so codes survive
// being read over the phone or typed from a bank statement.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// Code generates a human-facing reference of the form PREFIX-XXXXXXXX.
// Used for transaction codes ("AV-...") and payment references ("PAY-...")
// that buyers put in their bank transfer subject line.
func Code(prefix string) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	out := make([]byte, 8)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return fmt.Sprintf("%s-%s", prefix, string(out))
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
