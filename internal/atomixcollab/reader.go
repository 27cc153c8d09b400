// Package atomixcollab defines the engine's "external collaborator"
// interfaces (spec §6): the reader-side cache and the dry-run simulator.
// Both are out of scope as full subsystems (spec §1 Non-goals), but the
// engine still needs something to call, so this package carries a thin
// default implementation of each.
package atomixcollab

import (
	"context"
	"os"
	"time"

	"github.com/fileforge/atomix/internal/atomixerr"
	"github.com/fileforge/atomix/internal/checksum"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/spf13/afero"
)

// ReadOptions configures a Reader.ReadFile call.
type ReadOptions struct {
	ComputeChecksum   bool
	ChecksumAlgorithm checksum.Algorithm
}

// Result is what a Reader returns, mirroring the operation result shape
// spec §3 defines ("operation kind ∈ {read,...}").
type Result struct {
	Path      string
	Content   []byte
	Mode      os.FileMode
	Size      int64
	ModTime   time.Time
	Checksum  *checksum.FileChecksum
	Duration  time.Duration
	FromCache bool
}

// Reader is the reader-side collaborator contract. A caller that owns a
// real cache (LRU, content-addressed, whatever) implements this instead of
// using DefaultReader; the engine's own operations never assume caching.
type Reader interface {
	ReadFile(ctx context.Context, path string, opts ReadOptions) (*Result, error)
}

// DefaultReader is the engine's built-in Reader: reads straight through
// fsys with no caching, computing a checksum only when asked. It exists so
// the engine and its tests have something to call without requiring every
// caller to bring their own cache (spec §6: "a default implementation ...
// so the engine's own tests and CLI have something to call").
type DefaultReader struct {
	fsys fsx.FS
}

// NewDefaultReader builds a DefaultReader over fsys.
func NewDefaultReader(fsys fsx.FS) *DefaultReader {
	return &DefaultReader{fsys: fsys}
}

// ReadFile reads path in full. ctx is honored only at entry (a single
// afero call is not itself cancellable); that matches spec §5's framing of
// every I/O primitive as one suspension point, not a stream of them.
func (r *DefaultReader) ReadFile(ctx context.Context, path string, opts ReadOptions) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, atomixerr.Wrap(atomixerr.Timeout, path, err)
	}

	info, err := r.fsys.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, atomixerr.Wrap(atomixerr.FileNotFound, path, err)
		}
		return nil, atomixerr.Wrap(atomixerr.PermissionDenied, path, err)
	}

	data, err := afero.ReadFile(r.fsys, path)
	if err != nil {
		return nil, atomixerr.Wrap(atomixerr.PermissionDenied, path, err)
	}

	res := &Result{
		Path:     path,
		Content:  data,
		Mode:     info.Mode().Perm(),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Duration: time.Since(start),
	}

	if opts.ComputeChecksum {
		algo := opts.ChecksumAlgorithm
		if algo == "" {
			algo = checksum.SHA256
		}
		cs, err := checksum.CalculateDataChecksum(data, algo)
		if err != nil {
			return nil, atomixerr.Wrap(atomixerr.VerificationFailed, path, err)
		}
		cs.Path = path
		res.Checksum = cs
	}

	return res, nil
}

// NewDryRunFS returns an empty in-memory filesystem. It is not a
// copy-on-write overlay of the real filesystem: every component in this
// engine only ever receives an fsx.FS, so simulating a whole operation
// without touching the real filesystem is just constructing the engine
// with this instead of fsx.NewOsFS() (spec §9: "the dry-run collaborator delegates to an
// in-memory store").
func NewDryRunFS() fsx.FS {
	return afero.NewMemMapFs()
}
