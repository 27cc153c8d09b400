package config

import "time"

// Config provides read-only access to engine configuration. It abstracts
// the configuration source (JSON/YAML file, ENV, defaults) so the rest of
// the engine never depends on how a value was resolved.
type Config interface {
	// Core durability and staging behavior
	SyncEnabled() bool         // force fsync before rename (ATOMIX_SYNC)
	TempDir() string           // override staging directory, "" = target's parent (ATOMIX_TEMP_DIR)
	TempPrefix() string        // staging filename prefix (ATOMIX_TEMP_PREFIX)
	TempSuffix() string        // staging filename suffix (ATOMIX_TEMP_SUFFIX)
	OperationTimeoutSec() int  // max age of a tracked temp file before reaping (ATOMIX_OP_TIMEOUT_SEC)
	OperationTimeout() time.Duration

	// Permission / ownership propagation
	PreservePermissions() bool // ATOMIX_PRESERVE_PERMISSIONS
	PreserveOwnership() bool   // ATOMIX_PRESERVE_OWNERSHIP

	// Streaming and retry
	BufferSizeBytes() int // chunk size for streamed writes (ATOMIX_BUFFER_SIZE)
	MaxRetries() int      // retry attempts for transient failures (ATOMIX_MAX_RETRIES)
	RetryDelayMs() int    // backoff between retries (ATOMIX_RETRY_DELAY_MS)

	// Backups
	BackupEnabled() bool  // ATOMIX_BACKUP_ENABLED
	BackupDir() string    // "" = alongside target (ATOMIX_BACKUP_DIR)
	BackupMaxKept() int   // ATOMIX_BACKUP_MAX_KEPT
	BackupS3Bucket() string    // "" = no remote mirror (ATOMIX_BACKUP_S3_BUCKET)
	BackupS3KeyPrefix() string // key prefix under the bucket (ATOMIX_BACKUP_S3_PREFIX)

	// Verification
	VerifyAfterWrite() bool  // ATOMIX_VERIFY
	ChecksumAlgorithm() string // md5|sha1|sha256|sha512 (ATOMIX_CHECKSUM_ALGO)

	// Limits
	MaxFileSizeBytes() int64 // 0 = unlimited (ATOMIX_MAX_FILE_SIZE)

	// Transaction / rollback engine
	TxnBaseDir() string           // where staged transactions live (ATOMIX_TXN_DIR)
	DisableStartupRecovery() bool // ATOMIX_DISABLE_RECOVERY
	HistoryRetention() int        // size of the rollback history ring buffer (ATOMIX_HISTORY_RETENTION)
	CommittedRetentionMs() int    // "recently committed" window, default ~1000ms (ATOMIX_COMMITTED_RETENTION_MS)
	HistoryBackend() string       // "ndjson" (default) or "sqlite" (ATOMIX_HISTORY_BACKEND)
	HistoryDBPath() string        // sqlite db path when HistoryBackend()=="sqlite" (ATOMIX_HISTORY_DB_PATH)

	// Metrics and audit
	FsyncAudit() bool // ATOMIX_FSYNC_AUDIT

	// Test and debug
	TestMode() bool // ATOMIX_TEST_MODE

	// Metadata
	ConfigSource() string // "file", "env", or "default"
	SettingPath() string  // path to the config file if one was loaded
}

// EngineConfig is the concrete Config implementation, built once at
// startup by LoadSettings and handed to every component constructor.
type EngineConfig struct {
	syncEnabled         bool
	tempDir             string
	tempPrefix          string
	tempSuffix          string
	operationTimeoutSec int

	preservePermissions bool
	preserveOwnership   bool

	bufferSizeBytes int
	maxRetries      int
	retryDelayMs    int

	backupEnabled bool
	backupDir     string
	backupMaxKept int

	verifyAfterWrite  bool
	checksumAlgorithm string

	maxFileSizeBytes int64

	txnBaseDir              string
	disableStartupRecovery  bool
	historyRetention        int
	committedRetentionMs    int

	fsyncAudit bool
	testMode   bool

	configSource string
	settingPath  string

	backupS3Bucket    string
	backupS3KeyPrefix string

	historyBackend string
	historyDBPath  string
}

// WithBackupS3 configures an optional S3 mirror for BackupStore and returns
// c for chaining. Called by LoadSettings when ATOMIX_BACKUP_S3_BUCKET is
// set; tests that want the mirror wire it the same way.
func (c *EngineConfig) WithBackupS3(bucket, keyPrefix string) *EngineConfig {
	c.backupS3Bucket = bucket
	c.backupS3KeyPrefix = keyPrefix
	return c
}

// WithHistoryBackend selects the rollback history store's backend ("sqlite"
// routes through internal/rollback/history.SQLiteStore instead of the
// default NDJSON ring buffer) and returns c for chaining. Called by
// LoadSettings when ATOMIX_HISTORY_BACKEND is set.
func (c *EngineConfig) WithHistoryBackend(backend, dbPath string) *EngineConfig {
	c.historyBackend = backend
	c.historyDBPath = dbPath
	return c
}

func (c *EngineConfig) SyncEnabled() bool        { return c.syncEnabled }
func (c *EngineConfig) TempDir() string          { return c.tempDir }
func (c *EngineConfig) TempPrefix() string       { return c.tempPrefix }
func (c *EngineConfig) TempSuffix() string       { return c.tempSuffix }
func (c *EngineConfig) OperationTimeoutSec() int { return c.operationTimeoutSec }
func (c *EngineConfig) OperationTimeout() time.Duration {
	return time.Duration(c.operationTimeoutSec) * time.Second
}

func (c *EngineConfig) PreservePermissions() bool { return c.preservePermissions }
func (c *EngineConfig) PreserveOwnership() bool   { return c.preserveOwnership }

func (c *EngineConfig) BufferSizeBytes() int { return c.bufferSizeBytes }
func (c *EngineConfig) MaxRetries() int      { return c.maxRetries }
func (c *EngineConfig) RetryDelayMs() int    { return c.retryDelayMs }

func (c *EngineConfig) BackupEnabled() bool       { return c.backupEnabled }
func (c *EngineConfig) BackupDir() string         { return c.backupDir }
func (c *EngineConfig) BackupMaxKept() int        { return c.backupMaxKept }
func (c *EngineConfig) BackupS3Bucket() string    { return c.backupS3Bucket }
func (c *EngineConfig) BackupS3KeyPrefix() string { return c.backupS3KeyPrefix }

func (c *EngineConfig) VerifyAfterWrite() bool    { return c.verifyAfterWrite }
func (c *EngineConfig) ChecksumAlgorithm() string { return c.checksumAlgorithm }

func (c *EngineConfig) MaxFileSizeBytes() int64 { return c.maxFileSizeBytes }

func (c *EngineConfig) TxnBaseDir() string              { return c.txnBaseDir }
func (c *EngineConfig) DisableStartupRecovery() bool     { return c.disableStartupRecovery }
func (c *EngineConfig) HistoryRetention() int            { return c.historyRetention }
func (c *EngineConfig) CommittedRetentionMs() int        { return c.committedRetentionMs }

func (c *EngineConfig) HistoryBackend() string {
	if c.historyBackend == "" {
		return "ndjson"
	}
	return c.historyBackend
}
func (c *EngineConfig) HistoryDBPath() string { return c.historyDBPath }

func (c *EngineConfig) FsyncAudit() bool { return c.fsyncAudit }
func (c *EngineConfig) TestMode() bool   { return c.testMode }

func (c *EngineConfig) ConfigSource() string { return c.configSource }
func (c *EngineConfig) SettingPath() string  { return c.settingPath }

// NewEngineConfig builds an EngineConfig from already-resolved values. It is
// called by LoadSettings after the default/file/env layering is applied.
func NewEngineConfig(
	syncEnabled bool,
	tempDir, tempPrefix, tempSuffix string,
	operationTimeoutSec int,
	preservePermissions, preserveOwnership bool,
	bufferSizeBytes, maxRetries, retryDelayMs int,
	backupEnabled bool, backupDir string, backupMaxKept int,
	verifyAfterWrite bool, checksumAlgorithm string,
	maxFileSizeBytes int64,
	txnBaseDir string, disableStartupRecovery bool,
	historyRetention, committedRetentionMs int,
	fsyncAudit, testMode bool,
	configSource, settingPath string,
) *EngineConfig {
	return &EngineConfig{
		syncEnabled:            syncEnabled,
		tempDir:                tempDir,
		tempPrefix:             tempPrefix,
		tempSuffix:             tempSuffix,
		operationTimeoutSec:    operationTimeoutSec,
		preservePermissions:    preservePermissions,
		preserveOwnership:      preserveOwnership,
		bufferSizeBytes:        bufferSizeBytes,
		maxRetries:             maxRetries,
		retryDelayMs:           retryDelayMs,
		backupEnabled:          backupEnabled,
		backupDir:              backupDir,
		backupMaxKept:          backupMaxKept,
		verifyAfterWrite:       verifyAfterWrite,
		checksumAlgorithm:      checksumAlgorithm,
		maxFileSizeBytes:       maxFileSizeBytes,
		txnBaseDir:             txnBaseDir,
		disableStartupRecovery: disableStartupRecovery,
		historyRetention:       historyRetention,
		committedRetentionMs:   committedRetentionMs,
		fsyncAudit:             fsyncAudit,
		testMode:               testMode,
		configSource:           configSource,
		settingPath:            settingPath,
	}
}
