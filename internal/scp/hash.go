package scp

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// hashPrefix computes the BLAKE2b-512 digest of the first length bytes
// of the file, rendered as lowercase hex. It is used to prove that a
// partial destination is a true prefix of the sender's file. Reads are
// buffered; the loop advances by the bytes actually read, so sizes that
// are not a multiple of the read buffer hash correctly.
func hashPrefix(path string, length int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New512(nil)
	if err != nil {
		return "", err
	}

	buf := make([]byte, hashBufLen)
	remaining := length
	for remaining > 0 {
		want := int64(len(buf))
		if want > remaining {
			want = remaining
		}
		n, err := f.Read(buf[:want])
		if n > 0 {
			h.Write(buf[:n])
			remaining -= int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	if remaining > 0 {
		return "", fmt.Errorf("%s: short read while hashing", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashPrefixOrEmpty is hashPrefix for paths that may not exist: a file
// that cannot be opened yields the empty string, which never matches a
// real digest, so the peer falls back to a full transfer.
func hashPrefixOrEmpty(path string, length int64) string {
	sum, err := hashPrefix(path, length)
	if err != nil {
		return ""
	}
	return sum
}
