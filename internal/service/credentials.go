package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+"

	// DefaultCredentialLength is used when no length is configured
	DefaultCredentialLength = 16
	minCredentialLength     = 8
)

// CredentialGenerator produces credentials that satisfy a typical store
// password policy: at least one upper, lower, digit and symbol character.
type CredentialGenerator struct {
	length int
}

// NewCredentialGenerator creates a generator for credentials of length characters
func NewCredentialGenerator(length int) *CredentialGenerator {
	if length <= 0 {
		length = DefaultCredentialLength
	}
	if length < minCredentialLength {
		length = minCredentialLength
	}
	return &CredentialGenerator{length: length}
}

// Generate returns a new random credential
func (g *CredentialGenerator) Generate() (string, error) {
	classes := []string{upperChars, lowerChars, digitChars, symbolChars}
	all := upperChars + lowerChars + digitChars + symbolChars

	out := make([]byte, 0, g.length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < g.length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the class characters are not always first
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("failed to shuffle credential: %w", err)
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return set[n.Int64()], nil
}
