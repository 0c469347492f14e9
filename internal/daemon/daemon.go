// Package daemon runs the long-lived conductor process: it owns the
// singleton lock, the audit session, the LLM router, the orchestrator and
// the two intake surfaces (the spool directory and the Unix control
// socket). One daemon per .conductor/ directory.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/conductor/internal/events"
	"github.com/msageha/conductor/internal/llm"
	"github.com/msageha/conductor/internal/lock"
	"github.com/msageha/conductor/internal/model"
	"github.com/msageha/conductor/internal/orchestrator"
	"github.com/msageha/conductor/internal/uds"
	"github.com/msageha/conductor/internal/workflow"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Daemon is the main conductor daemon process.
type Daemon struct {
	conductorDir string
	config       model.Config
	logLevel     LogLevel
	logger       *log.Logger
	logFile      io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	bus    *events.Bus
	audit  *events.Logger
	router *llm.Router
	orch   *orchestrator.Orchestrator

	spoolDir string
	spoolMu  sync.Mutex

	started  time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a new Daemon instance.
func New(conductorDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(conductorDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(conductorDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(conductorDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	scanInterval := cfg.Spool.ScanIntervalSec
	if scanInterval <= 0 {
		scanInterval = 5
	}
	spoolDir := cfg.Spool.Directory
	if spoolDir == "" {
		spoolDir = "spool"
	}

	d := &Daemon{
		conductorDir: conductorDir,
		config:       cfg,
		logLevel:     parseLogLevel(cfg.Logging.Level),
		logger:       log.New(w, "", 0),
		logFile:      closer,
		fileLock:     lock.NewFileLock(filepath.Join(conductorDir, "locks", "daemon.lock")),
		server:       uds.NewServer(filepath.Join(conductorDir, uds.DefaultSocketName)),
		ticker:       time.NewTicker(time.Duration(scanInterval) * time.Second),
		spoolDir:     filepath.Join(conductorDir, spoolDir),
		ctx:          ctx,
		cancel:       cancel,
	}

	return d, nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Step 1: Acquire the singleton lock
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	// Step 2: Open the audit session
	d.bus = events.NewBus(0)
	runDir := d.config.Orchestrator.LogDirectory
	if runDir == "" {
		runDir = "runs"
	}
	audit, err := events.NewLogger(filepath.Join(d.conductorDir, runDir), d.bus)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open audit session: %w", err)
	}
	d.audit = audit
	d.log(LogLevelInfo, "audit session=%s", audit.SessionID())

	d.bus.SubscribeAll(func(ev events.TaskEvent) {
		d.log(LogLevelDebug, "event kind=%s task=%s", ev.Type, ev.TaskID)
	})
	d.bus.Subscribe(events.EventTaskFailed, func(ev events.TaskEvent) {
		d.log(LogLevelWarn, "task failed id=%s error=%v", ev.TaskID, ev.Details["error"])
	})

	// Step 3: Bring up the LLM router and the task executor
	router, err := llm.NewRouter(d.config.LLM, filepath.Join(d.conductorDir, "llm"))
	if err != nil {
		d.cleanup()
		return fmt.Errorf("init llm router: %w", err)
	}
	d.router = router

	executor := workflow.NewLLMExecutor(router, d.conductorDir)

	// Step 4: Orchestrator
	d.orch = orchestrator.New(d.config.Orchestrator, audit, executor)

	// Step 5: Watch the spool directory
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	if err := os.MkdirAll(d.spoolDir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure spool dir: %w", err)
	}
	if err := watcher.Add(d.spoolDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", d.spoolDir, err)
	}

	// Step 6: Register UDS handlers and start the control server
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(LogLevelInfo, "UDS server listening on %s", filepath.Join(d.conductorDir, uds.DefaultSocketName))

	// Step 7: Start the dispatch consumer and background loops
	if err := d.orch.StartProcessing(); err != nil {
		d.cleanup()
		return fmt.Errorf("start dispatch consumer: %w", err)
	}
	d.started = time.Now().UTC()
	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.tickerLoop()

	// Step 8: Ingest submissions spooled while the daemon was down
	d.scanSpool()
	d.log(LogLevelInfo, "daemon ready")

	// Step 9: Wait for signals
	d.waitSignals()

	return nil
}

// fsnotifyLoop processes filesystem change events from the spool.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.log(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				d.handleSpoolFile(event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// tickerLoop rescans the spool at configured intervals. The rescan is the
// safety net for fsnotify events lost under editor rename games.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.log(LogLevelDebug, "periodic spool scan triggered")
			d.scanSpool()
		}
	}
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal → force exit
	go func() {
		<-sigCh
		d.log(LogLevelWarn, "received second signal, forcing exit")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		// 1. Cancel context (stops intake loops)
		d.cancel()

		// 2. Stop producers
		d.ticker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}

		// 3. Drain in-flight tasks with timeout
		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}
		deadline := time.Duration(timeout) * time.Second

		if d.orch != nil {
			drainCtx, cancelDrain := context.WithTimeout(context.Background(), deadline)
			if err := d.orch.Shutdown(drainCtx); err != nil {
				d.log(LogLevelWarn, "orchestrator drain: %v", err)
			}
			cancelDrain()
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(deadline):
			d.log(LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		// 4. Seal the audit session, then release the router and bus
		if d.audit != nil {
			if err := d.audit.FinalizeSession(); err != nil {
				d.log(LogLevelError, "finalize audit session: %v", err)
			}
		}
		if d.router != nil {
			d.router.Close()
		}
		if d.bus != nil {
			d.bus.Close()
		}

		// 5. Cleanup
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	os.Remove(filepath.Join(d.conductorDir, uds.DefaultSocketName))
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
