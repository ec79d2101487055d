//go:build unix

package scp

import "golang.org/x/sys/unix"

// setUmask installs a new process umask and returns the previous one.
func setUmask(mask uint32) uint32 {
	return uint32(unix.Umask(int(mask)))
}

// isWritable reports whether the calling process may write path.
func isWritable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
