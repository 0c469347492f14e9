package daemon

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/msageha/conductor/internal/model"
	"github.com/msageha/conductor/internal/uds"
)

type submitParams struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload,omitempty"`
}

type taskParams struct {
	ID string `json:"id"`
}

type offlineParams struct {
	// Mode absent means "report the current setting".
	Mode *bool `json:"mode,omitempty"`
}

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle("scan", func(req *uds.Request) *uds.Response {
		d.scanSpool()
		return uds.SuccessResponse(map[string]string{"status": "scanned"})
	})

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.log(LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	d.server.Handle("status", d.handleStatus)
	d.server.Handle("submit", d.handleSubmit)
	d.server.Handle("tasks", d.handleTasks)
	d.server.Handle("task", d.handleTask)
	d.server.Handle("cancel", d.taskActionHandler(model.ActionCancel))
	d.server.Handle("pause", d.taskActionHandler(model.ActionPause))
	d.server.Handle("resume", d.taskActionHandler(model.ActionResume))
	d.server.Handle("retry", d.taskActionHandler(model.ActionRetry))
	d.server.Handle("stats", d.handleStats)
	d.server.Handle("offline", d.handleOffline)
}

func (d *Daemon) handleStatus(req *uds.Request) *uds.Response {
	counts := make(map[model.State]int)
	for _, task := range d.orch.GetAll() {
		counts[task.State]++
	}
	return uds.SuccessResponse(map[string]any{
		"status":       "running",
		"pid":          os.Getpid(),
		"session_id":   d.audit.SessionID(),
		"uptime_sec":   int(time.Since(d.started).Seconds()),
		"offline_mode": d.router.OfflineMode(),
		"task_counts":  counts,
	})
}

func (d *Daemon) handleSubmit(req *uds.Request) *uds.Response {
	var params submitParams
	if err := uds.DecodeParams(req, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	taskType, err := model.ParseTaskType(params.Type)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if strings.TrimSpace(params.Description) == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "description must not be empty")
	}

	id, err := d.orch.Submit(taskType, params.Description, params.Payload)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	d.log(LogLevelInfo, "task submitted via UDS id=%s type=%s", id, taskType)
	return uds.SuccessResponse(map[string]string{"task_id": id})
}

func (d *Daemon) handleTasks(req *uds.Request) *uds.Response {
	tasks := d.orch.GetAll()
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return uds.SuccessResponse(map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (d *Daemon) handleTask(req *uds.Request) *uds.Response {
	var params taskParams
	if err := uds.DecodeParams(req, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if params.ID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "id is required")
	}
	task, ok := d.orch.Get(params.ID)
	if !ok {
		return uds.ErrorResponse(uds.ErrCodeNotFound, fmt.Sprintf("no task with id %s", params.ID))
	}
	return uds.SuccessResponse(task)
}

// taskActionHandler builds a handler that forwards one control action
// through the dispatch queue so it is serialized with executions.
func (d *Daemon) taskActionHandler(action model.DispatchAction) uds.HandlerFunc {
	return func(req *uds.Request) *uds.Response {
		var params taskParams
		if err := uds.DecodeParams(req, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
		}
		if params.ID == "" {
			return uds.ErrorResponse(uds.ErrCodeValidation, "id is required")
		}
		if _, ok := d.orch.Get(params.ID); !ok {
			return uds.ErrorResponse(uds.ErrCodeNotFound, fmt.Sprintf("no task with id %s", params.ID))
		}
		if err := d.orch.Enqueue(model.DispatchRequest{TaskID: params.ID, Action: action}); err != nil {
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		d.log(LogLevelInfo, "%s requested via UDS task=%s", action, params.ID)
		return uds.SuccessResponse(map[string]string{
			"task_id": params.ID,
			"status":  string(action) + "_requested",
		})
	}
}

func (d *Daemon) handleStats(req *uds.Request) *uds.Response {
	stats, err := d.router.Stats()
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(stats)
}

func (d *Daemon) handleOffline(req *uds.Request) *uds.Response {
	var params offlineParams
	if err := uds.DecodeParams(req, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if params.Mode != nil {
		d.router.SetOfflineMode(*params.Mode)
		d.log(LogLevelInfo, "offline mode set to %v via UDS", *params.Mode)
	}
	return uds.SuccessResponse(map[string]any{"offline_mode": d.router.OfflineMode()})
}
