package daemon

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/msageha/conductor/internal/model"
	"github.com/msageha/conductor/internal/spool"
)

// scanSpool feeds every submission file in the spool through the intake
// path. Runs at startup and on every tick so spooled work survives daemon
// restarts.
func (d *Daemon) scanSpool() {
	files, err := spool.Scan(d.spoolDir)
	if err != nil {
		d.log(LogLevelError, "scan spool: %v", err)
		return
	}
	for _, path := range files {
		d.handleSpoolFile(path)
	}
}

// handleSpoolFile ingests one spool submission: parse, submit to the
// orchestrator, then archive the file under processed/. Corrupt files are
// quarantined rather than retried forever. The mutex serializes the
// fsnotify and ticker paths so each file is ingested once.
func (d *Daemon) handleSpoolFile(path string) {
	d.spoolMu.Lock()
	defer d.spoolMu.Unlock()

	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return
	}
	ext := strings.ToLower(filepath.Ext(base))
	if ext != ".yaml" && ext != ".yml" {
		return
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Already ingested via the other intake path.
		return
	}

	sub, err := spool.ParseFile(path)
	if err != nil {
		d.quarantine(path, err)
		return
	}
	taskType, err := model.ParseTaskType(sub.Type)
	if err != nil {
		d.quarantine(path, err)
		return
	}

	id, err := d.orch.Submit(taskType, sub.Description, sub.Payload)
	if err != nil {
		// Leave the file in place; the next scan retries once intake reopens.
		d.log(LogLevelError, "submit spooled task from %s: %v", base, err)
		return
	}
	d.log(LogLevelInfo, "spool submission ingested file=%s task=%s type=%s", base, id, taskType)

	if dest, err := spool.MarkProcessed(d.spoolDir, path); err != nil {
		d.log(LogLevelWarn, "archive %s: %v", base, err)
	} else {
		d.log(LogLevelDebug, "spool file archived to %s", dest)
	}
}

func (d *Daemon) quarantine(path string, cause error) {
	dest, err := spool.Quarantine(d.conductorDir, path)
	if err != nil {
		d.log(LogLevelError, "quarantine %s: %v (parse error: %v)", filepath.Base(path), err, cause)
		return
	}
	d.log(LogLevelWarn, "quarantined corrupt submission %s: %v (moved to %s)", filepath.Base(path), cause, dest)
}
