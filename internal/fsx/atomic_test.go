package fsx

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
)

func TestAppendNDJSONLine(t *testing.T) {
	fsys := NewMemFS()
	path := "/t/log.ndjson"

	record := map[string]interface{}{"id": float64(1), "name": "test"}
	if err := AppendNDJSONLine(fsys, path, record); err != nil {
		t.Fatalf("AppendNDJSONLine() error = %v", err)
	}
	if err := AppendNDJSONLine(fsys, path, map[string]interface{}{"id": float64(2), "name": "second"}); err != nil {
		t.Fatalf("AppendNDJSONLine() error = %v", err)
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		t.Fatal(err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var lines []map[string]interface{}
	for scanner.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("invalid ndjson line: %v", err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[1]["name"] != "second" {
		t.Errorf("second line name = %v, want %v", lines[1]["name"], "second")
	}
}

func TestAcquireLock(t *testing.T) {
	fsys := NewMemFS()
	release, err := AcquireLock(fsys, "/t/engine.lock")
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	if _, err := AcquireLock(fsys, "/t/engine.lock"); err == nil {
		t.Error("expected second AcquireLock to fail while lock is held")
	}

	if err := release(); err != nil {
		t.Fatalf("release() error = %v", err)
	}

	release2, err := AcquireLock(fsys, "/t/engine.lock")
	if err != nil {
		t.Fatalf("AcquireLock() after release error = %v", err)
	}
	_ = release2()
}
