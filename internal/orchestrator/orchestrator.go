// Package orchestrator owns the task registry, the lifecycle state machine
// enforcement and the dispatch queue. A single consumer drains dispatch
// requests; executions run on their own goroutines, bounded by the
// configured concurrency limit and per-task deadline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/msageha/conductor/internal/events"
	"github.com/msageha/conductor/internal/model"
)

// ErrTaskNotFound is returned for lookups and transitions on unknown ids.
var ErrTaskNotFound = errors.New("task not found")

const dispatchQueueSize = 1024

// Executor runs one task's business logic and returns its result payload.
// The task argument is a snapshot; implementations must honor ctx.
type Executor interface {
	Execute(ctx context.Context, task *model.Task) (map[string]any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *model.Task) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *model.Task) (map[string]any, error) {
	return f(ctx, task)
}

// inflight tracks one running execution. A stop request records the target
// state and cancels the execution context; the completion path applies the
// recorded target instead of marking the task failed.
type inflight struct {
	cancel context.CancelFunc

	mu   sync.Mutex
	stop model.State
}

func (f *inflight) requestStop(target model.State) {
	f.mu.Lock()
	if f.stop == "" {
		f.stop = target
	}
	f.mu.Unlock()
	f.cancel()
}

func (f *inflight) stopTarget() model.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stop
}

// Orchestrator is the shared task registry plus its dispatch machinery.
// All state changes go through the transition table; callers only ever see
// snapshot copies.
type Orchestrator struct {
	cfg      model.OrchestratorConfig
	logger   *events.Logger
	executor Executor

	mu    sync.RWMutex
	tasks map[string]*model.Task

	queue     chan model.DispatchRequest
	execQueue chan string
	sem       *semaphore.Weighted

	inflightMu sync.Mutex
	inflight   map[string]*inflight

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds an orchestrator. logger may be nil (audit disabled); executor
// may be nil, in which case every execution fails.
func New(cfg model.OrchestratorConfig, logger *events.Logger, executor Executor) *Orchestrator {
	maxConcurrent := cfg.MaxConcurrentTasks
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		executor:  executor,
		tasks:     make(map[string]*model.Task),
		queue:     make(chan model.DispatchRequest, dispatchQueueSize),
		execQueue: make(chan string, dispatchQueueSize),
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		inflight:  make(map[string]*inflight),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit registers a new pending task, logs its creation and enqueues an
// execute dispatch. Audit failures never fail the submission.
func (o *Orchestrator) Submit(taskType model.TaskType, description string, payload map[string]any) (string, error) {
	task, err := model.NewTask(taskType, description, payload)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	o.tasks[task.ID] = task
	o.mu.Unlock()

	o.logEvent(task.ID, func() error { return o.logger.LogTaskCreated(task) })

	if err := o.Enqueue(model.DispatchRequest{TaskID: task.ID, Action: model.ActionExecute}); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Get returns a snapshot of one task.
func (o *Orchestrator) Get(id string) (*model.Task, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	task, ok := o.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// GetAll returns snapshots of every task, unordered.
func (o *Orchestrator) GetAll() []*model.Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*model.Task, 0, len(o.tasks))
	for _, task := range o.tasks {
		out = append(out, task.Clone())
	}
	return out
}

// UpdateState applies one externally requested transition. Invalid
// transitions leave the task untouched and propagate the validation error.
func (o *Orchestrator) UpdateState(id string, target model.State) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, ok := o.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	from := task.State
	if err := model.ValidateTransition(from, target); err != nil {
		return err
	}
	task.State = target
	task.UpdatedAt = time.Now().UTC()
	o.logEvent(id, func() error { return o.logger.LogStateTransition(id, from, target) })
	return nil
}

// Enqueue places one dispatch request on the queue.
func (o *Orchestrator) Enqueue(req model.DispatchRequest) error {
	// Checked up front: a buffered send could otherwise win the select
	// against an already-closed done channel.
	if o.ctx.Err() != nil {
		return fmt.Errorf("orchestrator is shut down")
	}
	select {
	case o.queue <- req:
		return nil
	case <-o.ctx.Done():
		return fmt.Errorf("orchestrator is shut down")
	}
}

// StartProcessing starts the dispatch consumer and the execution pump.
// Calling it twice is an error.
func (o *Orchestrator) StartProcessing() error {
	started := false
	o.startOnce.Do(func() {
		started = true
		o.wg.Add(2)
		go o.consumeLoop()
		go o.executionPump()
	})
	if !started {
		return fmt.Errorf("dispatch consumer already started")
	}
	return nil
}

// consumeLoop is the single dispatch consumer. Control actions are applied
// inline; executions are forwarded to the pump so a full concurrency limit
// never blocks a cancel or pause behind it.
func (o *Orchestrator) consumeLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case req := <-o.queue:
			o.handleDispatch(req)
		}
	}
}

// executionPump starts executions in dispatch order, one acquire at a time,
// so the configured concurrency bound holds and starts stay FIFO.
func (o *Orchestrator) executionPump() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case id := <-o.execQueue:
			o.startExecution(id)
		}
	}
}

func (o *Orchestrator) handleDispatch(req model.DispatchRequest) {
	switch req.Action {
	case model.ActionExecute:
		o.forwardExecution(req.TaskID)

	case model.ActionRetry:
		if err := o.retryTask(req.TaskID); err != nil {
			log.Printf("warn: retry dispatch for task %s: %v", req.TaskID, err)
		}

	case model.ActionCancel:
		if fl, ok := o.lookupInflight(req.TaskID); ok {
			fl.requestStop(model.StateCancelled)
			return
		}
		if err := o.cancelTask(req.TaskID); err != nil {
			log.Printf("warn: cancel dispatch for task %s: %v", req.TaskID, err)
		}

	case model.ActionPause:
		if fl, ok := o.lookupInflight(req.TaskID); ok {
			fl.requestStop(model.StatePaused)
			return
		}
		log.Printf("warn: pause dispatch for task %s: task is not running", req.TaskID)

	case model.ActionResume:
		o.resumeTask(req.TaskID)

	default:
		log.Printf("warn: unknown dispatch action %q for task %s", req.Action, req.TaskID)
	}
}

func (o *Orchestrator) forwardExecution(id string) {
	select {
	case o.execQueue <- id:
	case <-o.ctx.Done():
	}
}

// startExecution acquires a concurrency slot, transitions the task to
// running and spawns its execution goroutine. The inflight entry is
// registered before the transition so a stop request can never observe a
// running task without a cancelable context.
func (o *Orchestrator) startExecution(id string) {
	if err := o.sem.Acquire(o.ctx, 1); err != nil {
		return
	}

	base, cancelBase := context.WithCancel(o.ctx)
	execCtx := base
	cleanup := cancelBase
	if o.cfg.TaskTimeoutMS > 0 {
		timeoutCtx, cancelTimeout := context.WithTimeout(base,
			time.Duration(o.cfg.TaskTimeoutMS)*time.Millisecond)
		execCtx = timeoutCtx
		cleanup = func() {
			cancelTimeout()
			cancelBase()
		}
	}

	fl := &inflight{cancel: cancelBase}
	o.inflightMu.Lock()
	o.inflight[id] = fl
	o.inflightMu.Unlock()

	task, err := o.start(id)
	if err != nil {
		o.inflightMu.Lock()
		delete(o.inflight, id)
		o.inflightMu.Unlock()
		cleanup()
		o.sem.Release(1)
		log.Printf("warn: cannot start task %s: %v", id, err)
		return
	}

	o.wg.Add(1)
	go o.executeTask(execCtx, cleanup, fl, task)
}

func (o *Orchestrator) executeTask(ctx context.Context, cleanup context.CancelFunc, fl *inflight, task *model.Task) {
	defer o.wg.Done()
	defer o.sem.Release(1)
	defer cleanup()
	defer func() {
		o.inflightMu.Lock()
		delete(o.inflight, task.ID)
		o.inflightMu.Unlock()
	}()

	if o.executor == nil {
		o.failTask(task.ID, "no executor configured")
		return
	}

	result, err := o.executor.Execute(ctx, task)
	if err == nil {
		// A completed execution outranks a stop request that raced in.
		o.completeTask(task.ID, result)
		return
	}

	switch fl.stopTarget() {
	case model.StateCancelled:
		if cerr := o.cancelTask(task.ID); cerr != nil {
			log.Printf("warn: cancel after stop request for task %s: %v", task.ID, cerr)
		}
		return
	case model.StatePaused:
		if perr := o.pauseTask(task.ID); perr != nil {
			log.Printf("warn: pause after stop request for task %s: %v", task.ID, perr)
		}
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		o.failTask(task.ID, fmt.Sprintf("task timed out after %dms", o.cfg.TaskTimeoutMS))
		return
	}
	o.failTask(task.ID, err.Error())
}

func (o *Orchestrator) lookupInflight(id string) (*inflight, bool) {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	fl, ok := o.inflight[id]
	return fl, ok
}

// start transitions a task to running and logs the start. Returns a
// snapshot for the executor.
func (o *Orchestrator) start(id string) (*model.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, ok := o.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if err := model.ValidateTransition(task.State, model.StateRunning); err != nil {
		return nil, err
	}
	task.Start()
	o.logEvent(id, func() error { return o.logger.LogTaskStarted(id) })
	return task.Clone(), nil
}

func (o *Orchestrator) completeTask(id string, result map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, ok := o.tasks[id]
	if !ok {
		return
	}
	if err := model.ValidateTransition(task.State, model.StateCompleted); err != nil {
		log.Printf("warn: cannot complete task %s: %v", id, err)
		return
	}
	task.Complete(result)
	o.logEvent(id, func() error { return o.logger.LogTaskCompleted(id, result) })
}

func (o *Orchestrator) failTask(id string, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, ok := o.tasks[id]
	if !ok {
		return
	}
	if err := model.ValidateTransition(task.State, model.StateFailed); err != nil {
		log.Printf("warn: cannot fail task %s: %v", id, err)
		return
	}
	task.Fail(message)
	o.logEvent(id, func() error { return o.logger.LogTaskFailed(id, message) })
}

func (o *Orchestrator) cancelTask(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, ok := o.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if err := model.ValidateTransition(task.State, model.StateCancelled); err != nil {
		return err
	}
	task.State = model.StateCancelled
	task.UpdatedAt = time.Now().UTC()
	o.logEvent(id, func() error { return o.logger.LogTaskCancelled(id) })
	return nil
}

func (o *Orchestrator) pauseTask(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, ok := o.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	from := task.State
	if err := model.ValidateTransition(from, model.StatePaused); err != nil {
		return err
	}
	task.State = model.StatePaused
	task.UpdatedAt = time.Now().UTC()
	o.logEvent(id, func() error { return o.logger.LogStateTransition(id, from, model.StatePaused) })
	return nil
}

// retryTask moves a retryable failed task back to pending and re-enqueues
// its execution.
func (o *Orchestrator) retryTask(id string) error {
	o.mu.Lock()
	task, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return ErrTaskNotFound
	}
	if !task.CanRetry() {
		state, count := task.State, task.RetryCount
		o.mu.Unlock()
		return fmt.Errorf("task not retryable (state=%s retry_count=%d)", state, count)
	}
	task.Retry()
	count := task.RetryCount
	o.logEvent(id, func() error { return o.logger.LogTaskRetried(id, count) })
	o.mu.Unlock()

	return o.Enqueue(model.DispatchRequest{TaskID: id, Action: model.ActionExecute})
}

func (o *Orchestrator) resumeTask(id string) {
	o.mu.RLock()
	task, ok := o.tasks[id]
	var state model.State
	if ok {
		state = task.State
	}
	o.mu.RUnlock()

	if !ok {
		log.Printf("warn: resume dispatch for unknown task %s", id)
		return
	}
	if state != model.StatePaused {
		log.Printf("warn: resume dispatch for task %s: state is %s, not paused", id, state)
		return
	}
	o.forwardExecution(id)
}

// logEvent applies the log-but-continue convention: audit write failures
// are reported and swallowed so they never abort the operation logged.
func (o *Orchestrator) logEvent(taskID string, write func() error) {
	if o.logger == nil {
		return
	}
	if err := write(); err != nil {
		log.Printf("warn: audit write failed for task %s: %v", taskID, err)
	}
}

// Shutdown stops the consumers, cancels in-flight executions and waits for
// them to finish or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stopOnce.Do(o.cancel)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out with tasks still in flight: %w", ctx.Err())
	}
}
