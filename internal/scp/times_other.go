//go:build !linux && !darwin

package scp

import "os"

// accessTimeSec approximates the access time with the modification time
// on platforms where stat does not expose it.
func accessTimeSec(fi os.FileInfo) int64 {
	return fi.ModTime().Unix()
}
