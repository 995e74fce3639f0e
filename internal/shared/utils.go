// Package shared provides the random token helper used to build
// collision-resistant artifact file names.
package shared

import "crypto/rand"

const alphaNumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomAlphaNumeric returns n characters drawn from [a-zA-Z0-9].
func RandomAlphaNumeric(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = alphaNumeric[int(b[i])%len(alphaNumeric)]
	}
	return string(b), nil
}
