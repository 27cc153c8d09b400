// Package metrics implements the engine's metrics consumer contract from
// spec §6: a snapshot of { totalOperations, successful, failed, avgDuration,
// totalBytesProcessed, opsPerSecond, totalFsyncCalls, totalRetryAttempts,
// errorStats{code→count}, operationTypes{create,read,write,delete} }.
//
// Modeled on the teacher's MetricsCollector
// (internal/infra/fs/txn/metrics_collector.go): an in-process counter set
// with an optional atomic persist-to-disk so a restarted process can resume
// cumulative counts, reached via the CLI's `doctor` command.
package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/fileforge/atomix/internal/atomixerr"
	"github.com/fileforge/atomix/internal/fsx"
	"github.com/spf13/afero"
)

// OperationType classifies a recorded operation for the operationTypes
// breakdown.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpRead   OperationType = "read"
	OpWrite  OperationType = "write"
	OpDelete OperationType = "delete"
)

const schemaVersion = 1

// Snapshot is the read-only view a metrics consumer observes, matching
// spec §6's shape field-for-field.
type Snapshot struct {
	TotalOperations      int64                   `json:"totalOperations"`
	Successful           int64                   `json:"successful"`
	Failed               int64                   `json:"failed"`
	AvgDuration          time.Duration           `json:"avgDuration"`
	TotalBytesProcessed  int64                   `json:"totalBytesProcessed"`
	OpsPerSecond         float64                 `json:"opsPerSecond"`
	TotalFsyncCalls      int64                   `json:"totalFsyncCalls"`
	TotalRetryAttempts   int64                   `json:"totalRetryAttempts"`
	ErrorStats           map[atomixerr.Code]int64 `json:"errorStats"`
	OperationTypes       map[OperationType]int64  `json:"operationTypes"`
	SchemaVersion        int                      `json:"schemaVersion"`
}

// Collector accumulates counters across the engine's lifetime. A single
// Collector is owned by the Engine, which records each Create, Write,
// Append, WriteJSON, WriteMany, Read and Delete call into it; permission
// changes are not recorded.
type Collector struct {
	mu sync.Mutex

	totalOperations     int64
	successful          int64
	failed              int64
	totalDuration       time.Duration
	totalBytesProcessed int64
	totalFsyncCalls     int64
	totalRetryAttempts  int64
	errorStats          map[atomixerr.Code]int64
	operationTypes      map[OperationType]int64
	since               time.Time
}

// New builds an empty Collector. The opsPerSecond figure in every
// subsequent Snapshot is computed against the time New was called.
func New() *Collector {
	return &Collector{
		errorStats:     make(map[atomixerr.Code]int64),
		operationTypes: make(map[OperationType]int64),
		since:          timeNow(),
	}
}

// timeNow is a seam so tests can't accidentally depend on wall-clock
// granularity; production always uses time.Now.
var timeNow = time.Now

// RecordOperation folds one completed operation into the running counters.
// err should be the *atomixerr.Error returned by the operation, or nil on
// success.
func (c *Collector) RecordOperation(op OperationType, duration time.Duration, bytesProcessed int64, fsyncCalls, retryAttempts int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalOperations++
	c.totalDuration += duration
	c.totalBytesProcessed += bytesProcessed
	c.totalFsyncCalls += int64(fsyncCalls)
	c.totalRetryAttempts += int64(retryAttempts)
	c.operationTypes[op]++

	if err == nil {
		c.successful++
		return
	}
	c.failed++
	if ae, ok := err.(*atomixerr.Error); ok {
		c.errorStats[ae.Code]++
	}
}

// Snapshot returns a point-in-time copy of the collector's counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	avg := time.Duration(0)
	if c.totalOperations > 0 {
		avg = c.totalDuration / time.Duration(c.totalOperations)
	}

	elapsed := timeNow().Sub(c.since).Seconds()
	opsPerSecond := 0.0
	if elapsed > 0 {
		opsPerSecond = float64(c.totalOperations) / elapsed
	}

	errs := make(map[atomixerr.Code]int64, len(c.errorStats))
	for k, v := range c.errorStats {
		errs[k] = v
	}
	types := make(map[OperationType]int64, len(c.operationTypes))
	for k, v := range c.operationTypes {
		types[k] = v
	}

	return Snapshot{
		TotalOperations:     c.totalOperations,
		Successful:          c.successful,
		Failed:              c.failed,
		AvgDuration:         avg,
		TotalBytesProcessed: c.totalBytesProcessed,
		OpsPerSecond:        opsPerSecond,
		TotalFsyncCalls:     c.totalFsyncCalls,
		TotalRetryAttempts:  c.totalRetryAttempts,
		ErrorStats:          errs,
		OperationTypes:      types,
		SchemaVersion:       schemaVersion,
	}
}

// Reset zeroes every counter, for tests that need a clean collector
// between scenarios.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalOperations = 0
	c.successful = 0
	c.failed = 0
	c.totalDuration = 0
	c.totalBytesProcessed = 0
	c.totalFsyncCalls = 0
	c.totalRetryAttempts = 0
	c.errorStats = make(map[atomixerr.Code]int64)
	c.operationTypes = make(map[OperationType]int64)
	c.since = timeNow()
}

// Persist writes the current snapshot to path as indented JSON, via the
// same temp-file-then-rename primitive the rest of the engine uses for
// every other on-disk write, so a crash mid-persist never corrupts the
// file a restarted process would load.
func (c *Collector) Persist(fsys fsx.FS, path string) error {
	snap := c.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return atomixerr.Wrap(atomixerr.JSONSerializationError, path, err)
	}
	if err := fsx.WriteFileSync(fsys, path, data, 0o644); err != nil {
		return atomixerr.Wrap(atomixerr.WriteFailed, path, err)
	}
	return nil
}

// Load reads counters previously written by Persist back into a fresh
// Collector, letting a restarted process resume cumulative totals the way
// the teacher's LoadMetrics does for its doctor command.
func Load(fsys fsx.FS, path string) (*Collector, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, atomixerr.Wrap(atomixerr.FileNotFound, path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, atomixerr.Wrap(atomixerr.SchemaValidationError, path, err)
	}

	c := New()
	c.totalOperations = snap.TotalOperations
	c.successful = snap.Successful
	c.failed = snap.Failed
	c.totalDuration = snap.AvgDuration * time.Duration(snap.TotalOperations)
	c.totalBytesProcessed = snap.TotalBytesProcessed
	c.totalFsyncCalls = snap.TotalFsyncCalls
	c.totalRetryAttempts = snap.TotalRetryAttempts
	if snap.ErrorStats != nil {
		c.errorStats = snap.ErrorStats
	}
	if snap.OperationTypes != nil {
		c.operationTypes = snap.OperationTypes
	}
	return c, nil
}
