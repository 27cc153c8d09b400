//go:build !windows

package permission

import (
	"os"
	"syscall"
)

// ownershipOf extracts uid/gid from a POSIX FileInfo, used by PreserveFrom
// when preserveOwnership is requested.
func ownershipOf(info os.FileInfo) (uid, gid int, ok bool) {
	stat, isStatT := info.Sys().(*syscall.Stat_t)
	if !isStatT {
		return 0, 0, false
	}
	return int(stat.Uid), int(stat.Gid), true
}
