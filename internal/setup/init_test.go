package setup

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/msageha/conductor/internal/model"
	"github.com/msageha/conductor/internal/spool"
)

func TestRun_CreatesDirectoryStructure(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "myproject")
	if err := os.Mkdir(projectDir, 0755); err != nil {
		t.Fatalf("create project dir: %v", err)
	}

	if err := Run(projectDir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	base := filepath.Join(projectDir, ".conductor")

	expectedDirs := []string{
		"spool",
		"spool/processed",
		"quarantine",
		"runs",
		"llm",
		"locks",
		"logs",
	}
	for _, d := range expectedDirs {
		path := filepath.Join(base, d)
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("directory %s does not exist: %v", d, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}

func TestRun_ConfigTemplateMatchesDefaults(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "myproject")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(projectDir, ".conductor", "config.yaml"))
	if err != nil {
		t.Fatalf("read config.yaml: %v", err)
	}

	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse config.yaml: %v", err)
	}

	// The shipped template spells out exactly the built-in defaults so the
	// two can never drift apart.
	if want := model.DefaultConfig(); !reflect.DeepEqual(cfg, want) {
		t.Errorf("config template drifted from defaults:\n got: %+v\nwant: %+v", cfg, want)
	}
}

func TestRun_CopiesSampleSubmission(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "myproject")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(projectDir, ".conductor", "submission.sample.yaml"))
	if err != nil {
		t.Fatalf("read sample submission: %v", err)
	}

	sub, err := spool.Parse(data)
	if err != nil {
		t.Fatalf("sample submission does not parse: %v", err)
	}
	if sub.Type != "plan" {
		t.Errorf("sample type: got %q, want plan", sub.Type)
	}
	if sub.Description == "" {
		t.Error("sample description is empty")
	}
}

func TestRun_CreatesDaemonLock(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "myproject")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lockPath := filepath.Join(projectDir, ".conductor", "locks", "daemon.lock")
	info, err := os.Stat(lockPath)
	if err != nil {
		t.Fatalf("daemon.lock does not exist: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("daemon.lock permissions: got %04o, want 0600", info.Mode().Perm())
	}
}

func TestRun_RejectsExistingDir(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "myproject")
	os.Mkdir(projectDir, 0755)
	os.Mkdir(filepath.Join(projectDir, ".conductor"), 0755)

	err := Run(projectDir)
	if err == nil {
		t.Fatal("expected error for existing .conductor/")
	}
}
