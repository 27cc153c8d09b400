package rollback

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/fileforge/atomix/internal/fsx"
	"github.com/fileforge/atomix/internal/logx"
	"github.com/spf13/afero"
)

// HistoryEntry is one finished transaction retained in the RollbackLog's
// forensics trail (spec §3 "history... retained for forensics").
type HistoryEntry struct {
	TransactionID  TransactionID `json:"transactionId"`
	Status         Status        `json:"status"`
	FinishedAt     time.Time     `json:"finishedAt"`
	OperationCount int           `json:"operationCount"`
	Description    string        `json:"description,omitempty"`
}

// HistoryStore persists finished transactions for the forensics trail
// (spec §3 "history... retained for forensics"). historyLog (below) is the
// default; internal/rollback/history.SQLiteStore
// is the optional backend, selected via Manager.SetHistoryStore.
type HistoryStore interface {
	Record(entry HistoryEntry) error
	Recent(limit int) ([]HistoryEntry, error)
}

// historyLog is an append-only NDJSON ring buffer of HistoryEntry records,
// guarded by flock on real filesystems so concurrent engine instances don't
// interleave partial writes (see fsx.AppendNDJSONLine). It is the default
// HistoryStore.
type historyLog struct {
	fsys      fsx.FS
	path      string
	retention int
	mu        sync.Mutex
}

func newHistoryLog(fsys fsx.FS, path string, retention int) *historyLog {
	if retention <= 0 {
		retention = 500
	}
	return &historyLog{fsys: fsys, path: path, retention: retention}
}

// Record appends entry to the history log.
func (h *historyLog) Record(entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := fsx.AppendNDJSONLine(h.fsys, h.path, entry); err != nil {
		return err
	}
	h.trim()
	return nil
}

// Recent returns up to limit of the most recently finished transactions,
// newest first. limit <= 0 returns the full retained window.
func (h *historyLog) Recent(limit int) ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.readAll()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (h *historyLog) readAll() ([]HistoryEntry, error) {
	data, err := afero.ReadFile(h.fsys, h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []HistoryEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// trim drops the oldest entries once the log exceeds its retention window,
// rewriting the file atomically so a crash mid-trim never loses the tail.
func (h *historyLog) trim() {
	entries, err := h.readAll()
	if err != nil || len(entries) <= h.retention {
		return
	}
	entries = entries[len(entries)-h.retention:]

	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := fsx.WriteFileSync(h.fsys, h.path, buf.Bytes(), 0o644); err != nil {
		logx.Get().Warn("history: trim rewrite failed path=%s error=%v", h.path, err)
	}
}
