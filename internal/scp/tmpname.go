package scp

import "crypto/rand"

const suffixLen = 8

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randSuffix returns a random alphanumeric string used to name the
// temporary append-side file during resume, so a partial transfer never
// clobbers an unrelated local file.
func randSuffix() string {
	b := make([]byte, suffixLen)
	if _, err := rand.Read(b); err != nil {
		// The system CSPRNG failing is not something a file copy can
		// work around.
		panic("scp: crypto/rand failed: " + err.Error())
	}
	for i := range b {
		b[i] = suffixAlphabet[int(b[i])%len(suffixAlphabet)]
	}
	return string(b)
}
