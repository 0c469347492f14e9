package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/msageha/conductor/internal/model"
	"github.com/msageha/conductor/internal/spool"
)

func TestHandleSpoolFile_IngestsSubmission(t *testing.T) {
	d := newTestDaemon(t, nil)

	path, err := spool.Write(d.spoolDir, spool.Submission{
		Type:        "plan",
		Description: "plan the next sprint",
		Payload:     map[string]any{"sprint_file": "sprint-07.md"},
	})
	if err != nil {
		t.Fatalf("spool write: %v", err)
	}

	d.handleSpoolFile(path)

	tasks := d.orch.GetAll()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task after ingest, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Type != model.TaskTypePlan {
		t.Errorf("task type: got %q, want %q", task.Type, model.TaskTypePlan)
	}
	if task.Payload["sprint_file"] != "sprint-07.md" {
		t.Errorf("payload not carried over: %v", task.Payload)
	}
	waitForState(t, d, task.ID, model.StateCompleted)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("spool file should be gone after ingest, stat err: %v", err)
	}
	archived := filepath.Join(d.spoolDir, "processed", filepath.Base(path))
	if _, err := os.Stat(archived); err != nil {
		t.Errorf("expected archived copy at %s: %v", archived, err)
	}
}

func TestHandleSpoolFile_QuarantinesCorrupt(t *testing.T) {
	d := newTestDaemon(t, nil)

	if err := os.MkdirAll(d.spoolDir, 0755); err != nil {
		t.Fatalf("create spool dir: %v", err)
	}
	path := filepath.Join(d.spoolDir, "sub_0000000000_deadbeef.yaml")
	if err := os.WriteFile(path, []byte(":: not yaml ::\n\t"), 0644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	d.handleSpoolFile(path)

	if got := len(d.orch.GetAll()); got != 0 {
		t.Errorf("expected no tasks from corrupt file, got %d", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("corrupt file should have been moved, stat err: %v", err)
	}

	quarantineDir := filepath.Join(d.conductorDir, "quarantine")
	entries, err := os.ReadDir(quarantineDir)
	if err != nil {
		t.Fatalf("read quarantine dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 quarantined file, got %d", len(entries))
	}
}

func TestHandleSpoolFile_SkipsForeignFiles(t *testing.T) {
	d := newTestDaemon(t, nil)

	if err := os.MkdirAll(d.spoolDir, 0755); err != nil {
		t.Fatalf("create spool dir: %v", err)
	}
	note := filepath.Join(d.spoolDir, "README.txt")
	hidden := filepath.Join(d.spoolDir, ".conductor-tmp-123.yaml")
	for _, p := range []string{note, hidden} {
		if err := os.WriteFile(p, []byte("ignore me"), 0644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	d.handleSpoolFile(note)
	d.handleSpoolFile(hidden)

	if got := len(d.orch.GetAll()); got != 0 {
		t.Errorf("expected no tasks, got %d", got)
	}
	for _, p := range []string{note, hidden} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("file %s should be untouched: %v", p, err)
		}
	}
}

func TestHandleSpoolFile_MissingFileIsNoop(t *testing.T) {
	d := newTestDaemon(t, nil)

	d.handleSpoolFile(filepath.Join(d.spoolDir, "sub_0000000000_gone.yaml"))

	if got := len(d.orch.GetAll()); got != 0 {
		t.Errorf("expected no tasks, got %d", got)
	}
}

func TestScanSpool_IngestsBacklog(t *testing.T) {
	d := newTestDaemon(t, nil)

	for _, desc := range []string{"first backlog item", "second backlog item"} {
		if _, err := spool.Write(d.spoolDir, spool.Submission{Type: "followup", Description: desc}); err != nil {
			t.Fatalf("spool write: %v", err)
		}
	}
	corrupt := filepath.Join(d.spoolDir, "sub_0000000000_00000bad.yaml")
	if err := os.WriteFile(corrupt, []byte("schema_version: [oops\n"), 0644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	d.scanSpool()

	if got := len(d.orch.GetAll()); got != 2 {
		t.Errorf("expected 2 tasks from backlog, got %d", got)
	}
	for _, task := range d.orch.GetAll() {
		waitForState(t, d, task.ID, model.StateCompleted)
	}

	remaining, err := spool.Scan(d.spoolDir)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("spool should be empty after scan, found %v", remaining)
	}

	// Rescan with nothing pending is a no-op
	d.scanSpool()
	time.Sleep(50 * time.Millisecond)
	if got := len(d.orch.GetAll()); got != 2 {
		t.Errorf("rescan duplicated tasks: got %d, want 2", got)
	}
}
