//go:build windows

package permission

import "os"

// ownershipOf is a no-op on Windows: afero's FileInfo carries no POSIX
// uid/gid to extract, and PreserveFrom's ownership step is skipped there.
func ownershipOf(info os.FileInfo) (uid, gid int, ok bool) {
	return 0, 0, false
}
