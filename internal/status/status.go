// Package status reports daemon and task health for the CLI. It asks the
// daemon over the control socket first and falls back to the lock file, so
// a wedged daemon still shows up with its pid.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/msageha/conductor/internal/lock"
	"github.com/msageha/conductor/internal/spool"
	"github.com/msageha/conductor/internal/uds"
)

type Report struct {
	Daemon DaemonStatus   `json:"daemon"`
	Tasks  map[string]int `json:"tasks,omitempty"`
	Spool  SpoolStatus    `json:"spool"`
}

type DaemonStatus struct {
	Running     bool   `json:"running"`
	Pid         int    `json:"pid,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	UptimeSec   int    `json:"uptime_sec,omitempty"`
	OfflineMode bool   `json:"offline_mode,omitempty"`
}

type SpoolStatus struct {
	Pending int `json:"pending"`
}

// Run collects the status report and prints it.
func Run(conductorDir, spoolDir string, jsonOutput bool) error {
	report := Collect(conductorDir, spoolDir)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(report)
	return nil
}

// Collect gathers daemon liveness, task counts and spool depth.
func Collect(conductorDir, spoolDir string) Report {
	report := Report{}

	sockPath := filepath.Join(conductorDir, uds.DefaultSocketName)
	report.Daemon, report.Tasks = checkDaemon(sockPath)

	if !report.Daemon.Running {
		// Socket unreachable; the lock file still knows the pid of a
		// daemon that is alive but not answering.
		lockPath := filepath.Join(conductorDir, "locks", "daemon.lock")
		if pid, err := lock.ReadPID(lockPath); err == nil && pid != 0 && lock.Alive(pid) {
			report.Daemon.Pid = pid
		}
	}

	report.Spool = checkSpool(spoolDir)
	return report
}

type daemonStatusData struct {
	Pid         int            `json:"pid"`
	SessionID   string         `json:"session_id"`
	UptimeSec   int            `json:"uptime_sec"`
	OfflineMode bool           `json:"offline_mode"`
	TaskCounts  map[string]int `json:"task_counts"`
}

func checkDaemon(sockPath string) (DaemonStatus, map[string]int) {
	client := uds.NewClient(sockPath)
	resp, err := client.SendCommand("status", nil)
	if err != nil || !resp.Success {
		return DaemonStatus{Running: false}, nil
	}

	var data daemonStatusData
	if err := resp.DecodeData(&data); err != nil {
		return DaemonStatus{Running: true}, nil
	}
	return DaemonStatus{
		Running:     true,
		Pid:         data.Pid,
		SessionID:   data.SessionID,
		UptimeSec:   data.UptimeSec,
		OfflineMode: data.OfflineMode,
	}, data.TaskCounts
}

func checkSpool(spoolDir string) SpoolStatus {
	files, err := spool.Scan(spoolDir)
	if err != nil {
		return SpoolStatus{}
	}
	return SpoolStatus{Pending: len(files)}
}

func printReport(r Report) {
	if r.Daemon.Running {
		fmt.Printf("Daemon: running (pid %d, session %s)\n", r.Daemon.Pid, r.Daemon.SessionID)
		if r.Daemon.OfflineMode {
			fmt.Println("Offline mode: on")
		}
	} else if r.Daemon.Pid != 0 {
		fmt.Printf("Daemon: not responding (pid %d still alive)\n", r.Daemon.Pid)
	} else {
		fmt.Println("Daemon: stopped")
	}

	if len(r.Tasks) > 0 {
		fmt.Println("\nTasks:")
		fmt.Printf("  %-10s  %5s\n", "STATE", "COUNT")
		states := make([]string, 0, len(r.Tasks))
		for s := range r.Tasks {
			states = append(states, s)
		}
		sort.Strings(states)
		for _, s := range states {
			fmt.Printf("  %-10s  %5d\n", s, r.Tasks[s])
		}
	} else if r.Daemon.Running {
		fmt.Println("\nTasks: none")
	}

	fmt.Printf("\nSpool: %d pending submission(s)\n", r.Spool.Pending)
}
