package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RawSettings mirrors the on-disk config file structure. Every field is a
// pointer so the loader can tell "absent" apart from "explicitly zero" when
// layering file values under environment overrides and defaults.
type RawSettings struct {
	SyncEnabled         *bool   `json:"sync_enabled" yaml:"sync_enabled"`
	TempDir             *string `json:"temp_dir" yaml:"temp_dir"`
	TempPrefix          *string `json:"temp_prefix" yaml:"temp_prefix"`
	TempSuffix          *string `json:"temp_suffix" yaml:"temp_suffix"`
	OperationTimeoutSec *int    `json:"operation_timeout_sec" yaml:"operation_timeout_sec"`

	PreservePermissions *bool `json:"preserve_permissions" yaml:"preserve_permissions"`
	PreserveOwnership   *bool `json:"preserve_ownership" yaml:"preserve_ownership"`

	BufferSizeBytes *int `json:"buffer_size_bytes" yaml:"buffer_size_bytes"`
	MaxRetries      *int `json:"max_retries" yaml:"max_retries"`
	RetryDelayMs    *int `json:"retry_delay_ms" yaml:"retry_delay_ms"`

	BackupEnabled *bool   `json:"backup_enabled" yaml:"backup_enabled"`
	BackupDir     *string `json:"backup_dir" yaml:"backup_dir"`
	BackupMaxKept *int    `json:"backup_max_kept" yaml:"backup_max_kept"`

	VerifyAfterWrite  *bool   `json:"verify_after_write" yaml:"verify_after_write"`
	ChecksumAlgorithm *string `json:"checksum_algorithm" yaml:"checksum_algorithm"`

	MaxFileSizeBytes *int64 `json:"max_file_size_bytes" yaml:"max_file_size_bytes"`

	TxnBaseDir             *string `json:"txn_base_dir" yaml:"txn_base_dir"`
	DisableStartupRecovery *bool   `json:"disable_startup_recovery" yaml:"disable_startup_recovery"`
	HistoryRetention       *int    `json:"history_retention" yaml:"history_retention"`
	CommittedRetentionMs   *int    `json:"committed_retention_ms" yaml:"committed_retention_ms"`

	FsyncAudit *bool `json:"fsync_audit" yaml:"fsync_audit"`
	TestMode   *bool `json:"test_mode" yaml:"test_mode"`
}

// LoadSettings loads configuration with priority:
//  1. config file (atomix.json or atomix.yaml under baseDir), if present
//  2. environment variables (override the file)
//  3. built-in defaults (fill anything still unset)
func LoadSettings(baseDir string) (*EngineConfig, error) {
	settings := &RawSettings{}
	configSource := "default"
	settingPath := ""

	if path, data, err := readConfigFile(baseDir); err != nil {
		return nil, err
	} else if data != nil {
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			if err := yaml.Unmarshal(data, settings); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		configSource = "file"
		settingPath = path
	}

	overrideFromEnv(settings, &configSource)
	applyDefaults(settings)

	cfg := buildEngineConfig(settings, configSource, settingPath)
	if bucket := os.Getenv("ATOMIX_BACKUP_S3_BUCKET"); bucket != "" {
		cfg.WithBackupS3(bucket, os.Getenv("ATOMIX_BACKUP_S3_PREFIX"))
	}
	if backend := os.Getenv("ATOMIX_HISTORY_BACKEND"); backend != "" {
		cfg.WithHistoryBackend(backend, os.Getenv("ATOMIX_HISTORY_DB_PATH"))
	}
	return cfg, nil
}

func readConfigFile(baseDir string) (path string, data []byte, err error) {
	for _, name := range []string{"atomix.json", "atomix.yaml", "atomix.yml"} {
		p := filepath.Join(baseDir, name)
		if b, readErr := os.ReadFile(p); readErr == nil {
			return p, b, nil
		}
	}
	return "", nil, nil
}

func overrideFromEnv(s *RawSettings, configSource *string) {
	markEnv := func() {
		if *configSource == "default" {
			*configSource = "env"
		}
	}
	if v := os.Getenv("ATOMIX_SYNC"); v != "" {
		b := toBool(v)
		s.SyncEnabled = &b
		markEnv()
	}
	if v := os.Getenv("ATOMIX_TEMP_DIR"); v != "" {
		s.TempDir = &v
		markEnv()
	}
	if v := os.Getenv("ATOMIX_TEMP_PREFIX"); v != "" {
		s.TempPrefix = &v
		markEnv()
	}
	if v := os.Getenv("ATOMIX_TEMP_SUFFIX"); v != "" {
		s.TempSuffix = &v
		markEnv()
	}
	if v := os.Getenv("ATOMIX_OP_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.OperationTimeoutSec = &n
			markEnv()
		}
	}
	if v := os.Getenv("ATOMIX_PRESERVE_PERMISSIONS"); v != "" {
		b := toBool(v)
		s.PreservePermissions = &b
		markEnv()
	}
	if v := os.Getenv("ATOMIX_PRESERVE_OWNERSHIP"); v != "" {
		b := toBool(v)
		s.PreserveOwnership = &b
		markEnv()
	}
	if v := os.Getenv("ATOMIX_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.BufferSizeBytes = &n
			markEnv()
		}
	}
	if v := os.Getenv("ATOMIX_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.MaxRetries = &n
			markEnv()
		}
	}
	if v := os.Getenv("ATOMIX_RETRY_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.RetryDelayMs = &n
			markEnv()
		}
	}
	if v := os.Getenv("ATOMIX_BACKUP_ENABLED"); v != "" {
		b := toBool(v)
		s.BackupEnabled = &b
		markEnv()
	}
	if v := os.Getenv("ATOMIX_BACKUP_DIR"); v != "" {
		s.BackupDir = &v
		markEnv()
	}
	if v := os.Getenv("ATOMIX_BACKUP_MAX_KEPT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.BackupMaxKept = &n
			markEnv()
		}
	}
	if v := os.Getenv("ATOMIX_VERIFY"); v != "" {
		b := toBool(v)
		s.VerifyAfterWrite = &b
		markEnv()
	}
	if v := os.Getenv("ATOMIX_CHECKSUM_ALGO"); v != "" {
		s.ChecksumAlgorithm = &v
		markEnv()
	}
	if v := os.Getenv("ATOMIX_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.MaxFileSizeBytes = &n
			markEnv()
		}
	}
	if v := os.Getenv("ATOMIX_TXN_DIR"); v != "" {
		s.TxnBaseDir = &v
		markEnv()
	}
	if v := os.Getenv("ATOMIX_DISABLE_RECOVERY"); v != "" {
		b := toBool(v)
		s.DisableStartupRecovery = &b
		markEnv()
	}
	if v := os.Getenv("ATOMIX_HISTORY_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.HistoryRetention = &n
			markEnv()
		}
	}
	if v := os.Getenv("ATOMIX_COMMITTED_RETENTION_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.CommittedRetentionMs = &n
			markEnv()
		}
	}
	if v := os.Getenv("ATOMIX_FSYNC_AUDIT"); v != "" {
		b := toBool(v)
		s.FsyncAudit = &b
		markEnv()
	}
	if v := os.Getenv("ATOMIX_TEST_MODE"); v != "" {
		b := toBool(v)
		s.TestMode = &b
		markEnv()
	}
}

func applyDefaults(s *RawSettings) {
	boolDefault(&s.SyncEnabled, true)
	stringDefault(&s.TempDir, "")
	stringDefault(&s.TempPrefix, ".tmp-")
	stringDefault(&s.TempSuffix, ".tmp")
	intDefault(&s.OperationTimeoutSec, 300)

	boolDefault(&s.PreservePermissions, false)
	boolDefault(&s.PreserveOwnership, false)

	intDefault(&s.BufferSizeBytes, 64*1024)
	intDefault(&s.MaxRetries, 3)
	intDefault(&s.RetryDelayMs, 100)

	boolDefault(&s.BackupEnabled, false)
	stringDefault(&s.BackupDir, "")
	intDefault(&s.BackupMaxKept, 5)

	boolDefault(&s.VerifyAfterWrite, false)
	stringDefault(&s.ChecksumAlgorithm, "sha256")

	if s.MaxFileSizeBytes == nil {
		var zero int64 = 0
		s.MaxFileSizeBytes = &zero
	}

	stringDefault(&s.TxnBaseDir, ".atomix/txn")
	boolDefault(&s.DisableStartupRecovery, false)
	intDefault(&s.HistoryRetention, 1000)
	intDefault(&s.CommittedRetentionMs, 1000)

	boolDefault(&s.FsyncAudit, false)
	boolDefault(&s.TestMode, false)
}

func boolDefault(p **bool, v bool) {
	if *p == nil {
		*p = &v
	}
}

func stringDefault(p **string, v string) {
	if *p == nil {
		*p = &v
	}
}

func intDefault(p **int, v int) {
	if *p == nil {
		*p = &v
	}
}

func buildEngineConfig(s *RawSettings, configSource, settingPath string) *EngineConfig {
	return NewEngineConfig(
		*s.SyncEnabled,
		*s.TempDir, *s.TempPrefix, *s.TempSuffix,
		*s.OperationTimeoutSec,
		*s.PreservePermissions, *s.PreserveOwnership,
		*s.BufferSizeBytes, *s.MaxRetries, *s.RetryDelayMs,
		*s.BackupEnabled, *s.BackupDir, *s.BackupMaxKept,
		*s.VerifyAfterWrite, *s.ChecksumAlgorithm,
		*s.MaxFileSizeBytes,
		*s.TxnBaseDir, *s.DisableStartupRecovery,
		*s.HistoryRetention, *s.CommittedRetentionMs,
		*s.FsyncAudit, *s.TestMode,
		configSource, settingPath,
	)
}

func toBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// CreateDefaultSettings renders the default config as indented JSON.
func CreateDefaultSettings() []byte {
	settings := &RawSettings{}
	applyDefaults(settings)
	data, _ := json.MarshalIndent(settings, "", "  ")
	return data
}
