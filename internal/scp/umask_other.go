//go:build !unix

package scp

import "os"

// setUmask is a no-op on platforms without a process umask.
func setUmask(mask uint32) uint32 {
	return 0
}

// isWritable probes for write access by opening the file.
func isWritable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
