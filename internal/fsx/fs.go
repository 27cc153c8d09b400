// Package fsx is the narrow Filesystem capability the engine operates
// against: open, write, read, chmod, chown, rename, unlink, mkdir, stat,
// sync. It is exactly afero.Fs plus a handful of durability helpers layered
// on top — real production code delegates to afero.NewOsFs(), dry-run
// callers and tests delegate to afero.NewMemMapFs(), and no component above
// this package is allowed to import "os" directly for path manipulation.
package fsx

import "github.com/spf13/afero"

// FS is the capability set every component is constructed with.
type FS = afero.Fs

// File is the open-file handle returned by FS.Create/Open/OpenFile.
type File = afero.File

// NewOsFS returns the real, disk-backed filesystem.
func NewOsFS() FS { return afero.NewOsFs() }

// NewMemFS returns an in-memory filesystem, used by the dry-run collaborator
// (§6) and by every unit test in this module that does not need real
// fsync/rename semantics.
func NewMemFS() FS { return afero.NewMemMapFs() }
