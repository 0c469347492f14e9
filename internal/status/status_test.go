package status

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/msageha/conductor/internal/spool"
	"github.com/msageha/conductor/internal/uds"
)

// Socket paths live under /tmp directly; t.TempDir on some systems exceeds
// the sun_path limit.
func tempConductorDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "conductor-status-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestCheckDaemon_NotRunning(t *testing.T) {
	ds, counts := checkDaemon("/tmp/nonexistent-conductor-test.sock")
	if ds.Running {
		t.Error("expected daemon not running")
	}
	if counts != nil {
		t.Errorf("expected nil task counts, got %v", counts)
	}
}

func TestCheckDaemon_LiveServer(t *testing.T) {
	dir := tempConductorDir(t)
	sockPath := filepath.Join(dir, uds.DefaultSocketName)

	server := uds.NewServer(sockPath)
	server.Handle("status", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]any{
			"status":       "running",
			"pid":          4242,
			"session_id":   "cafe0123",
			"uptime_sec":   17,
			"offline_mode": true,
			"task_counts":  map[string]int{"completed": 2, "running": 1},
		})
	})
	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer server.Stop()

	ds, counts := checkDaemon(sockPath)
	if !ds.Running {
		t.Fatal("expected daemon running")
	}
	if ds.Pid != 4242 {
		t.Errorf("pid: got %d, want 4242", ds.Pid)
	}
	if ds.SessionID != "cafe0123" {
		t.Errorf("session: got %q, want cafe0123", ds.SessionID)
	}
	if !ds.OfflineMode {
		t.Error("expected offline mode true")
	}
	if counts["completed"] != 2 || counts["running"] != 1 {
		t.Errorf("task counts: got %v", counts)
	}
}

func TestCollect_FallsBackToLockPid(t *testing.T) {
	dir := tempConductorDir(t)
	lockDir := filepath.Join(dir, "locks")
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		t.Fatalf("create locks dir: %v", err)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(filepath.Join(lockDir, "daemon.lock"), []byte(pid), 0600); err != nil {
		t.Fatalf("write lock file: %v", err)
	}

	report := Collect(dir, filepath.Join(dir, "spool"))
	if report.Daemon.Running {
		t.Error("expected not running without a socket")
	}
	if report.Daemon.Pid != os.Getpid() {
		t.Errorf("pid: got %d, want %d", report.Daemon.Pid, os.Getpid())
	}
}

func TestCollect_CountsSpoolBacklog(t *testing.T) {
	dir := tempConductorDir(t)
	spoolDir := filepath.Join(dir, "spool")
	for _, desc := range []string{"first", "second"} {
		if _, err := spool.Write(spoolDir, spool.Submission{Type: "followup", Description: desc}); err != nil {
			t.Fatalf("spool write: %v", err)
		}
	}

	report := Collect(dir, spoolDir)
	if report.Spool.Pending != 2 {
		t.Errorf("spool pending: got %d, want 2", report.Spool.Pending)
	}
}

func TestPrintReport_DoesNotPanic(t *testing.T) {
	printReport(Report{Daemon: DaemonStatus{Running: false}})
	printReport(Report{Daemon: DaemonStatus{Running: false, Pid: 999}})
	printReport(Report{
		Daemon: DaemonStatus{Running: true, Pid: 1234, SessionID: "abcd1234", OfflineMode: true},
		Tasks:  map[string]int{"pending": 2, "completed": 5},
		Spool:  SpoolStatus{Pending: 1},
	})
}
