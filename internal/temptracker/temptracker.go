// Package temptracker implements the engine's TempFileTracker (spec §4.3):
// bookkeeping for temp files allocated through CreateTemp (Creator and
// Writer stage through rollback.Manager.StageFile instead), a background
// sweep that reclaims abandoned or stale temp files, and best-effort
// cleanup on process exit.
package temptracker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fileforge/atomix/internal/atomixerr"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/fileforge/atomix/internal/logx"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// DefaultSweepInterval is how often the background ticker runs
// cleanupAbandoned followed by cleanupStale (spec §4.3 policy: "every 30s").
const DefaultSweepInterval = 30 * time.Second

// Record is one tracked temp file.
type Record struct {
	OperationID    string
	TargetPath     string
	TempPath       string
	CreatedAt      time.Time
	CleanupTimeout time.Duration
	Promoted       bool
}

func (r Record) abandoned(now time.Time) bool {
	return !r.Promoted && now.Sub(r.CreatedAt) > r.CleanupTimeout
}

// Tracker is the engine's TempFileTracker.
type Tracker struct {
	fsys   fsx.FS
	prefix string
	suffix string

	mu       sync.Mutex
	active   map[string]*Record
	shutdown bool

	sweepInterval time.Duration
	cancelSweep   context.CancelFunc
	cancelSignal  context.CancelFunc
	wg            sync.WaitGroup
}

// New builds a Tracker. prefix/suffix match cfg.TempPrefix()/TempSuffix()
// and are used by cleanupStale to recognize this engine's temp files among
// arbitrary directory contents.
func New(fsys fsx.FS, prefix, suffix string) *Tracker {
	return &Tracker{
		fsys:          fsys,
		prefix:        prefix,
		suffix:        suffix,
		active:        make(map[string]*Record),
		sweepInterval: DefaultSweepInterval,
	}
}

// CreateTemp allocates a temp file under dir (the configured temp directory,
// or the target's parent directory) and tracks it under a fresh operation
// id.
func (t *Tracker) CreateTemp(dir, targetPath string, cleanupTimeout time.Duration) (*Record, error) {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return nil, atomixerr.New(atomixerr.TempFileCreationFailed, "tracker is shutting down")
	}
	t.mu.Unlock()

	if err := t.fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, atomixerr.Wrap(atomixerr.TempFileCreationFailed, dir, err)
	}

	operationID := uuid.NewString()
	tempName := fmt.Sprintf("%s%s%s", t.prefix, operationID, t.suffix)
	tempPath := filepath.Join(dir, tempName)

	f, err := t.fsys.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, atomixerr.Wrap(atomixerr.TempFileCreationFailed, tempPath, err)
	}
	_ = f.Close()

	if cleanupTimeout <= 0 {
		cleanupTimeout = 5 * time.Minute
	}
	rec := &Record{
		OperationID:    operationID,
		TargetPath:     targetPath,
		TempPath:       tempPath,
		CreatedAt:      time.Now(),
		CleanupTimeout: cleanupTimeout,
	}

	t.mu.Lock()
	t.active[operationID] = rec
	t.mu.Unlock()

	return rec, nil
}

// Promote marks a temp file as successfully handed off to its final path
// (the rename already happened; promote only updates bookkeeping) and
// removes it from active tracking.
func (t *Tracker) Promote(operationID string, finalPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.active[operationID]
	if !ok {
		return atomixerr.New(atomixerr.InvalidOperation, "no tracked temp file for operation "+operationID)
	}
	if finalPath != "" {
		rec.TargetPath = finalPath
	}
	delete(t.active, operationID)
	return nil
}

// Cleanup unlinks a tracked temp file and forgets it, used on the failure
// path when a staged temp file must be discarded rather than promoted.
func (t *Tracker) Cleanup(operationID string) error {
	t.mu.Lock()
	rec, ok := t.active[operationID]
	if ok {
		delete(t.active, operationID)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if err := t.fsys.Remove(rec.TempPath); err != nil && !os.IsNotExist(err) {
		return atomixerr.Wrap(atomixerr.CleanupFailed, rec.TempPath, err)
	}
	return nil
}

// ListActive returns every currently tracked (not yet promoted or cleaned
// up) temp file record.
func (t *Tracker) ListActive() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, 0, len(t.active))
	for _, rec := range t.active {
		out = append(out, *rec)
	}
	return out
}

// CleanupAbandoned unlinks every tracked temp file whose age exceeds its own
// CleanupTimeout, returning the count removed.
func (t *Tracker) CleanupAbandoned(maxAge time.Duration) int {
	now := time.Now()
	var toRemove []*Record

	t.mu.Lock()
	for id, rec := range t.active {
		timedOut := rec.abandoned(now)
		if maxAge > 0 {
			timedOut = timedOut || now.Sub(rec.CreatedAt) > maxAge
		}
		if timedOut {
			toRemove = append(toRemove, rec)
			delete(t.active, id)
		}
	}
	t.mu.Unlock()

	count := 0
	for _, rec := range toRemove {
		if err := t.fsys.Remove(rec.TempPath); err != nil && !os.IsNotExist(err) {
			logx.Get().Warn("temptracker: abandoned cleanup failed path=%s error=%v", rec.TempPath, err)
			continue
		}
		count++
	}
	if count > 0 {
		logx.Get().Info("temptracker: cleaned up abandoned temp files count=%d", count)
	}
	return count
}

// CleanupStale scans dir for files matching this tracker's prefix/suffix
// convention that are older than maxAge and have no live tracking record —
// orphans left behind by a crashed prior process.
func (t *Tracker) CleanupStale(dir string, maxAge time.Duration) int {
	entries, err := afero.ReadDir(t.fsys, dir)
	if err != nil {
		return 0
	}

	t.mu.Lock()
	liveTempPaths := make(map[string]bool, len(t.active))
	for _, rec := range t.active {
		liveTempPaths[rec.TempPath] = true
	}
	t.mu.Unlock()

	now := time.Now()
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, t.prefix) || !strings.HasSuffix(name, t.suffix) {
			continue
		}
		path := filepath.Join(dir, name)
		if liveTempPaths[path] {
			continue
		}
		if now.Sub(entry.ModTime()) < maxAge {
			continue
		}
		if err := t.fsys.Remove(path); err != nil && !os.IsNotExist(err) {
			logx.Get().Warn("temptracker: stale cleanup failed path=%s error=%v", path, err)
			continue
		}
		count++
	}
	if count > 0 {
		logx.Get().Info("temptracker: cleaned up stale temp files dir=%s count=%d", dir, count)
	}
	return count
}

// StartBackgroundSweep starts the periodic ticker that runs
// CleanupAbandoned followed by CleanupStale(dir) every interval (spec §4.3:
// "every 30s"). Call Shutdown to stop it.
func (t *Tracker) StartBackgroundSweep(dir string, maxAge time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelSweep = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.CleanupAbandoned(maxAge)
				t.CleanupStale(dir, maxAge)
			}
		}
	}()
}

// RegisterExitHandlers registers SIGINT/SIGTERM handlers that run a
// synchronous best-effort Shutdown. Only interrupt and termination signals
// are handled: a normal process exit or a panic does not trigger cleanup
// here; on those paths temp files are reclaimed only if the caller runs
// Shutdown itself.
func (t *Tracker) RegisterExitHandlers() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	t.cancelSignal = cancel

	go func() {
		select {
		case sig := <-sigChan:
			logx.Get().Warn("temptracker: received signal=%v, cleaning up tracked temp files", sig)
			t.Shutdown()
		case <-ctx.Done():
		}
	}()
}

// Shutdown refuses new CreateTemp calls, unlinks every tracked temp file
// best-effort, and stops the background sweep.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	if t.shutdown {
		t.mu.Unlock()
		return
	}
	t.shutdown = true
	records := make([]*Record, 0, len(t.active))
	for _, rec := range t.active {
		records = append(records, rec)
	}
	t.active = make(map[string]*Record)
	t.mu.Unlock()

	for _, rec := range records {
		if err := t.fsys.Remove(rec.TempPath); err != nil && !os.IsNotExist(err) {
			logx.Get().Warn("temptracker: shutdown cleanup failed path=%s error=%v", rec.TempPath, err)
		}
	}

	if t.cancelSweep != nil {
		t.cancelSweep()
	}
	if t.cancelSignal != nil {
		t.cancelSignal()
	}
	t.wg.Wait()
}
