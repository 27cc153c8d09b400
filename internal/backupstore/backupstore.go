// Package backupstore implements the engine's BackupStore (spec §4.4):
// create/restore/remove a backup copy of a file, and rotate a directory of
// backups down to a retention count.
package backupstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fileforge/atomix/internal/atomixerr"
	"github.com/fileforge/atomix/internal/config"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/fileforge/atomix/internal/logx"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// Store is the engine's BackupStore.
type Store struct {
	fsys   fsx.FS
	cfg    config.Config
	mirror *s3Mirror
}

// New builds a Store with no remote mirror.
func New(fsys fsx.FS, cfg config.Config) *Store {
	return &Store{fsys: fsys, cfg: cfg}
}

// NewWithS3Mirror builds a Store that additionally uploads every backup to
// an S3 bucket, best-effort, so a backup survives loss of local disk.
// Mirror failures never fail Create (spec §4.8 treats backup-adjacent
// failures as non-fatal).
func NewWithS3Mirror(ctx context.Context, fsys fsx.FS, cfg config.Config, bucket, keyPrefix string) (*Store, error) {
	mirror, err := newS3Mirror(ctx, bucket, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("backupstore: configure s3 mirror: %w", err)
	}
	return &Store{fsys: fsys, cfg: cfg, mirror: mirror}, nil
}

// Create copies source's current contents aside to a uniquely-named backup
// path (spec §4.4 policy: "filenames encode a timestamp and/or operation id
// to guarantee uniqueness"), returning that path.
func (s *Store) Create(source string) (string, error) {
	info, err := s.fsys.Stat(source)
	if err != nil {
		return "", atomixerr.Wrap(atomixerr.FileNotFound, source, err)
	}
	data, err := afero.ReadFile(s.fsys, source)
	if err != nil {
		return "", atomixerr.Wrap(atomixerr.InvalidOperation, source, err)
	}

	backupPath := s.backupPathFor(source)
	if err := fsx.WriteFileSync(s.fsys, backupPath, data, info.Mode().Perm()); err != nil {
		return "", err
	}

	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.mirror.upload(ctx, filepath.Base(backupPath), data); err != nil {
			logx.Get().Warn("backupstore: s3 mirror upload failed path=%s error=%v", backupPath, err)
		}
	}

	s.RotateFor(source)

	return backupPath, nil
}

// backupPathFor renders the spec §6 backup naming scheme:
// "{target-basename}.backup-{timestamp-or-opId}{target-extension}", e.g.
// "a.backup-20060102T150405.000000000Z-<uuid>.txt" for source "a.txt".
func (s *Store) backupPathFor(source string) string {
	dir := s.cfg.BackupDir()
	if dir == "" {
		dir = filepath.Dir(source)
	}
	base := filepath.Base(source)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stamp := time.Now().UTC().Format("20060102T150405.000000000Z")
	name := fmt.Sprintf("%s.backup-%s-%s%s", stem, stamp, uuid.NewString(), ext)
	return filepath.Join(dir, name)
}

// baseNameAndExt splits source the same way backupPathFor does, so callers
// can derive the directory/baseName/ext triple Rotate expects without
// duplicating the split logic.
func baseNameAndExt(source string) (stem, ext string) {
	base := filepath.Base(source)
	ext = filepath.Ext(base)
	stem = strings.TrimSuffix(base, ext)
	return stem, ext
}

// RotateFor rotates the backups of source down to cfg.BackupMaxKept(),
// matching the same {stem}.backup-*{ext} naming Create produces. Rotation
// failure is logged and swallowed: per spec §4.4 it must never fail the
// caller's write/create/delete that already succeeded.
func (s *Store) RotateFor(source string) {
	dir := s.cfg.BackupDir()
	if dir == "" {
		dir = filepath.Dir(source)
	}
	stem, ext := baseNameAndExt(source)
	if err := s.Rotate(dir, stem+".backup-", ext, s.cfg.BackupMaxKept()); err != nil {
		logx.Get().Warn("backupstore: rotate failed source=%s error=%v", source, err)
	}
}

// Restore copies backupPath's contents back over target, reapplying the
// backup's captured mode.
func (s *Store) Restore(backupPath, target string) error {
	info, err := s.fsys.Stat(backupPath)
	if err != nil {
		return atomixerr.New(atomixerr.NoBackupAvailable, "backup not found: "+backupPath)
	}
	data, err := afero.ReadFile(s.fsys, backupPath)
	if err != nil {
		return atomixerr.Wrap(atomixerr.InvalidOperation, backupPath, err)
	}
	return fsx.WriteFileSync(s.fsys, target, data, info.Mode().Perm())
}

// Remove deletes a backup. Removing an already-gone backup is not an error.
func (s *Store) Remove(backupPath string) error {
	if err := s.fsys.Remove(backupPath); err != nil {
		if ok, _ := afExists(s.fsys, backupPath); !ok {
			return nil
		}
		return atomixerr.Wrap(atomixerr.CleanupFailed, backupPath, err)
	}
	return nil
}

// Rotate keeps at most maxKept backups matching baseName+"*"+ext under
// directory, sorted by mtime descending, and unlinks the rest. Rotation
// failure is non-fatal to the caller's write — per spec §4.4, a caller
// invoking Rotate after a successful backup must log and continue rather
// than fail the parent operation on its error.
func (s *Store) Rotate(directory, baseName, ext string, maxKept int) error {
	if maxKept < 0 {
		maxKept = 0
	}
	entries, err := afero.ReadDir(s.fsys, directory)
	if err != nil {
		return atomixerr.Wrap(atomixerr.InvalidOperation, directory, err)
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var matches []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, baseName) || !strings.HasSuffix(name, ext) {
			continue
		}
		matches = append(matches, candidate{path: filepath.Join(directory, name), modTime: entry.ModTime()})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].modTime.After(matches[j].modTime) })

	var firstErr error
	for i := maxKept; i < len(matches); i++ {
		if err := s.fsys.Remove(matches[i].path); err != nil {
			logx.Get().Warn("backupstore: rotate failed to remove path=%s error=%v", matches[i].path, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return atomixerr.Wrap(atomixerr.CleanupFailed, directory, firstErr)
	}
	return nil
}

func afExists(fsys fsx.FS, path string) (bool, error) {
	_, err := fsys.Stat(path)
	if err == nil {
		return true, nil
	}
	return false, err
}
