package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/msageha/conductor/internal/model"
)

const routeLogName = "log.jsonl"

// RouteLog is the audit record written once per generate call, success or
// failure. The file is append-only and never rewritten.
type RouteLog struct {
	Timestamp         time.Time      `json:"timestamp"`
	RequestID         string         `json:"request_id"`
	TaskType          model.TaskType `json:"task_type"`
	AttemptedProvider model.Provider `json:"attempted_provider"`
	FinalProvider     model.Provider `json:"final_provider"`
	Success           bool           `json:"success"`
	DurationMS        int64          `json:"duration_ms"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	RetryCount        int            `json:"retry_count"`
	CostCents         *int           `json:"cost_cents,omitempty"`
	TokensUsed        int            `json:"tokens_used"`
}

// RouteLogWriter appends records to <dir>/log.jsonl.
type RouteLogWriter struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func NewRouteLogWriter(logDir string) (*RouteLogWriter, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create route log directory: %w", err)
	}
	path := filepath.Join(logDir, routeLogName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open route log: %w", err)
	}
	return &RouteLogWriter{file: file, path: path}, nil
}

func (w *RouteLogWriter) Write(entry *RouteLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal route log entry: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("route log already closed")
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("write route log entry: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync route log: %w", err)
	}
	return nil
}

// Path returns the log file location.
func (w *RouteLogWriter) Path() string {
	return w.path
}

func (w *RouteLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ReadRouteLogs loads all decodable records from a log file. Malformed
// lines are skipped so one bad write cannot hide the rest of the audit.
func ReadRouteLogs(path string) ([]RouteLog, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []RouteLog
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry RouteLog
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan route log: %w", err)
	}
	return entries, nil
}

// RoutingStats aggregates the route log for usage and cost accounting.
// ProviderUsage counts successful calls per serving provider.
type RoutingStats struct {
	TotalRequests      int                    `json:"total_requests"`
	SuccessfulRequests int                    `json:"successful_requests"`
	FailedRequests     int                    `json:"failed_requests"`
	ProviderUsage      map[model.Provider]int `json:"provider_usage"`
	AverageDurationMS  int64                  `json:"average_duration_ms"`
	TotalCostCents     int                    `json:"total_cost_cents"`
	TotalTokens        int                    `json:"total_tokens"`
}

// ComputeStats folds a route log file into aggregate counters. A missing
// file yields zero stats, not an error.
func ComputeStats(path string) (*RoutingStats, error) {
	stats := &RoutingStats{
		ProviderUsage: make(map[model.Provider]int),
	}

	entries, err := ReadRouteLogs(path)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, err
	}

	var totalDuration int64
	for _, entry := range entries {
		stats.TotalRequests++
		totalDuration += entry.DurationMS
		stats.TotalTokens += entry.TokensUsed
		if entry.CostCents != nil {
			stats.TotalCostCents += *entry.CostCents
		}
		if entry.Success {
			stats.SuccessfulRequests++
			stats.ProviderUsage[entry.FinalProvider]++
		} else {
			stats.FailedRequests++
		}
	}
	if stats.TotalRequests > 0 {
		stats.AverageDurationMS = totalDuration / int64(stats.TotalRequests)
	}
	return stats, nil
}
