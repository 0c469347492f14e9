// Package spool implements file-based task intake. Clients drop YAML
// submission files into the spool directory; the daemon parses each one,
// submits the task and moves the file into processed/. Files that fail
// validation are quarantined, never deleted.
package spool

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/conductor/internal/model"
)

// CurrentSchemaVersion is the newest submission format this build reads.
const CurrentSchemaVersion = 1

const (
	processedDirName  = "processed"
	quarantineDirName = "quarantine"
)

// Submission is one spooled task request.
type Submission struct {
	SchemaVersion int            `yaml:"schema_version"`
	Type          string         `yaml:"type"`
	Description   string         `yaml:"description"`
	Payload       map[string]any `yaml:"payload,omitempty"`
}

// Write drops a submission into the spool directory under a fresh
// submission id. The write is atomic: temp file, validate, rename. A zero
// schema version is filled with the current one.
func Write(spoolDir string, sub Submission) (string, error) {
	if sub.SchemaVersion == 0 {
		sub.SchemaVersion = CurrentSchemaVersion
	}
	if err := validate(&sub); err != nil {
		return "", err
	}

	id, err := model.GenerateID(model.IDTypeSubmission)
	if err != nil {
		return "", fmt.Errorf("generate submission id: %w", err)
	}
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}

	path := filepath.Join(spoolDir, id+".yaml")
	if err := atomicWrite(path, sub); err != nil {
		return "", err
	}
	return path, nil
}

// atomicWrite lands content at path via a hidden temp file in the same
// directory, so scanners never observe a half-written submission.
func atomicWrite(path string, data any) error {
	content, err := yamlv3.Marshal(data)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".conductor-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	written, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("read temp file for validation: %w", err)
	}
	var check any
	if err := yamlv3.Unmarshal(written, &check); err != nil {
		return fmt.Errorf("yaml validation failed: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// ParseFile reads and validates one submission file.
func ParseFile(path string) (*Submission, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read submission: %w", err)
	}
	return Parse(content)
}

// Parse decodes and validates submission bytes.
func Parse(content []byte) (*Submission, error) {
	var sub Submission
	if err := yamlv3.Unmarshal(content, &sub); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate(&sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func validate(sub *Submission) error {
	if sub.SchemaVersion < 1 {
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", sub.SchemaVersion)
	}
	if sub.SchemaVersion > CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)",
			sub.SchemaVersion, CurrentSchemaVersion)
	}
	if _, err := model.ParseTaskType(sub.Type); err != nil {
		return err
	}
	if strings.TrimSpace(sub.Description) == "" {
		return fmt.Errorf("missing description")
	}
	return nil
}

// Scan lists pending submission files in lexical order, which follows
// submission-id timestamps. Temp files and non-YAML entries are skipped.
func Scan(spoolDir string) ([]string, error) {
	entries, err := os.ReadDir(spoolDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read spool dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		files = append(files, filepath.Join(spoolDir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Quarantine moves a corrupt spool file under <conductorDir>/quarantine,
// stamped so repeated offenders never collide.
func Quarantine(conductorDir, filePath string) (string, error) {
	quarantineDir := filepath.Join(conductorDir, quarantineDirName)
	if err := os.MkdirAll(quarantineDir, 0o755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	timestamp := time.Now().Format("20060102T150405")
	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), timestamp)
	dest := filepath.Join(quarantineDir, name)

	if err := os.Rename(filePath, dest); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}

	log.Printf("quarantined corrupted spool file: %s → %s", filePath, dest)
	return dest, nil
}

// MarkProcessed moves a consumed spool file into processed/ so rescans
// never resubmit it.
func MarkProcessed(spoolDir, filePath string) (string, error) {
	processedDir := filepath.Join(spoolDir, processedDirName)
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		return "", fmt.Errorf("create processed dir: %w", err)
	}

	dest := filepath.Join(processedDir, filepath.Base(filePath))
	if err := os.Rename(filePath, dest); err != nil {
		return "", fmt.Errorf("move to processed: %w", err)
	}
	return dest, nil
}
