package zone

import (
	"crypto/rand"
	"fmt"
)

// Alphabet for generated zone names. Starts with a letter so the name is
// always a valid DNS label regardless of what follows.
const (
	nameLetters = "abcdefghijklmnopqrstuvwxyz"
	nameRunes   = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// randomLabel generates a random DNS label of length n.
func randomLabel(n int) (string, error) {
	if n < 1 {
		n = 1
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate name: %w", err)
	}
	b[0] = nameLetters[int(b[0])%len(nameLetters)]
	for i := 1; i < n; i++ {
		b[i] = nameRunes[int(b[i])%len(nameRunes)]
	}
	return string(b), nil
}
