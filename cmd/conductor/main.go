package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/msageha/conductor/internal/daemon"
	"github.com/msageha/conductor/internal/events"
	"github.com/msageha/conductor/internal/llm"
	"github.com/msageha/conductor/internal/model"
	"github.com/msageha/conductor/internal/setup"
	"github.com/msageha/conductor/internal/spool"
	"github.com/msageha/conductor/internal/status"
	"github.com/msageha/conductor/internal/uds"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "submit":
		runSubmit(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "tasks":
		runTasks(os.Args[2:])
	case "task":
		runTask(os.Args[2:])
	case "cancel", "pause", "resume", "retry":
		runTaskAction(os.Args[1], os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "providers":
		runProviders(os.Args[2:])
	case "offline":
		runOffline(os.Args[2:])
	case "scan":
		runScan(os.Args[2:])
	case "runs":
		runRuns(os.Args[2:])
	case "shutdown":
		runShutdown(os.Args[2:])
	case "version":
		fmt.Printf("conductor %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(args []string) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if err := setup.Run(dir); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized .conductor/ in %s\n", absDir)
}

func runDaemon(_ []string) {
	conductorDir := mustFindConductorDir()
	cfg := mustLoadConfig(conductorDir)

	d, err := daemon.New(conductorDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runSubmit(args []string) {
	var taskType, description, payloadJSON string
	var payloadKVs []string
	var direct bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--type":
			i = requireValue(args, i, "--type")
			taskType = args[i]
		case "--description":
			i = requireValue(args, i, "--description")
			description = args[i]
		case "--payload":
			i = requireValue(args, i, "--payload")
			payloadKVs = append(payloadKVs, args[i])
		case "--payload-json":
			i = requireValue(args, i, "--payload-json")
			payloadJSON = args[i]
		case "--direct":
			direct = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			fmt.Fprintln(os.Stderr, "usage: conductor submit --type <type> --description <text> [--payload k=v]... [--payload-json <json>] [--direct]")
			os.Exit(1)
		}
	}

	if taskType == "" || description == "" {
		fmt.Fprintln(os.Stderr, "--type and --description are required")
		fmt.Fprintln(os.Stderr, "usage: conductor submit --type <type> --description <text> [--payload k=v]... [--payload-json <json>] [--direct]")
		os.Exit(1)
	}
	if _, err := model.ParseTaskType(taskType); err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v (valid: plan, review, status, followup, apply)\n", err)
		os.Exit(1)
	}

	payload := map[string]any{}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			fmt.Fprintf(os.Stderr, "parse --payload-json: %v\n", err)
			os.Exit(1)
		}
	}
	for _, kv := range payloadKVs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			fmt.Fprintf(os.Stderr, "--payload expects key=value, got %q\n", kv)
			os.Exit(1)
		}
		payload[key] = value
	}
	if len(payload) == 0 {
		payload = nil
	}

	conductorDir := mustFindConductorDir()

	if direct {
		resp := mustSend(conductorDir, "submit", map[string]any{
			"type":        taskType,
			"description": description,
			"payload":     payload,
		})
		var data map[string]string
		decodeResponse(resp, &data)
		fmt.Printf("Submitted task %s\n", data["task_id"])
		return
	}

	cfg := mustLoadConfig(conductorDir)
	spoolDir := filepath.Join(conductorDir, cfg.Spool.Directory)
	path, err := spool.Write(spoolDir, spool.Submission{
		Type:        taskType,
		Description: description,
		Payload:     payload,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Spooled submission %s\n", filepath.Base(path))
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: conductor status [--json]\n", a)
			os.Exit(1)
		}
	}

	conductorDir := mustFindConductorDir()
	cfg := mustLoadConfig(conductorDir)
	spoolDir := filepath.Join(conductorDir, cfg.Spool.Directory)

	if err := status.Run(conductorDir, spoolDir, jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runTasks(args []string) {
	jsonOutput := parseJSONFlag(args, "tasks")
	conductorDir := mustFindConductorDir()

	resp := mustSend(conductorDir, "tasks", nil)
	if jsonOutput {
		printRawData(resp)
		return
	}

	var data struct {
		Tasks []model.Task `json:"tasks"`
		Count int          `json:"count"`
	}
	decodeResponse(resp, &data)

	if data.Count == 0 {
		fmt.Println("No tasks.")
		return
	}
	fmt.Printf("%-36s  %-8s  %-10s  %7s  %s\n", "ID", "TYPE", "STATE", "RETRIES", "DESCRIPTION")
	for _, task := range data.Tasks {
		fmt.Printf("%-36s  %-8s  %-10s  %7d  %s\n",
			task.ID, task.Type, task.State.Display(), task.RetryCount, truncate(task.Description, 48))
	}
}

func runTask(args []string) {
	var id string
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			if strings.HasPrefix(a, "--") {
				fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: conductor task <id> [--json]\n", a)
				os.Exit(1)
			}
			id = a
		}
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "usage: conductor task <id> [--json]")
		os.Exit(1)
	}

	conductorDir := mustFindConductorDir()
	resp := mustSend(conductorDir, "task", map[string]string{"id": id})
	if jsonOutput {
		printRawData(resp)
		return
	}

	var task model.Task
	decodeResponse(resp, &task)
	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("Type:        %s\n", task.Type)
	fmt.Printf("State:       %s\n", task.State.Display())
	fmt.Printf("Retries:     %d\n", task.RetryCount)
	fmt.Printf("Created:     %s\n", task.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Description: %s\n", task.Description)
	if task.ErrorMessage != "" {
		fmt.Printf("Error:       %s\n", task.ErrorMessage)
	}
	if task.Result != nil {
		out, err := json.MarshalIndent(task.Result, "", "  ")
		if err == nil {
			fmt.Printf("Result:\n%s\n", out)
		}
	}
}

func runTaskAction(action string, args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "usage: conductor %s <id>\n", action)
		os.Exit(1)
	}
	conductorDir := mustFindConductorDir()
	resp := mustSend(conductorDir, action, map[string]string{"id": args[0]})

	var data map[string]string
	decodeResponse(resp, &data)
	fmt.Printf("Task %s: %s\n", data["task_id"], data["status"])
}

func runStats(args []string) {
	jsonOutput := parseJSONFlag(args, "stats")
	conductorDir := mustFindConductorDir()

	// Ask the daemon first; fall back to reading the route log directly so
	// stats still work while the daemon is down.
	var stats llm.RoutingStats
	client := uds.NewClient(filepath.Join(conductorDir, uds.DefaultSocketName))
	resp, err := client.SendCommand("stats", nil)
	if err == nil {
		if rerr := resp.Err(); rerr != nil {
			fmt.Fprintf(os.Stderr, "stats: %v\n", rerr)
			os.Exit(1)
		}
		decodeResponse(resp, &stats)
	} else {
		computed, cerr := llm.ComputeStats(filepath.Join(conductorDir, "llm", "log.jsonl"))
		if cerr != nil {
			fmt.Fprintf(os.Stderr, "stats: %v\n", cerr)
			os.Exit(1)
		}
		stats = *computed
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Printf("Requests:      %d total, %d ok, %d failed\n",
		stats.TotalRequests, stats.SuccessfulRequests, stats.FailedRequests)
	fmt.Printf("Avg duration:  %dms\n", stats.AverageDurationMS)
	fmt.Printf("Tokens:        %d\n", stats.TotalTokens)
	fmt.Printf("Cost:          %d cents\n", stats.TotalCostCents)
	if len(stats.ProviderUsage) > 0 {
		fmt.Println("Providers:")
		providers := make([]string, 0, len(stats.ProviderUsage))
		for p := range stats.ProviderUsage {
			providers = append(providers, string(p))
		}
		sort.Strings(providers)
		for _, p := range providers {
			fmt.Printf("  %-12s  %d\n", p, stats.ProviderUsage[model.Provider(p)])
		}
	}
}

func runProviders(_ []string) {
	conductorDir := mustFindConductorDir()
	cfg := mustLoadConfig(conductorDir)

	router, err := llm.NewRouter(cfg.LLM, filepath.Join(conductorDir, "llm"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "providers: %v\n", err)
		os.Exit(1)
	}
	defer router.Close()

	available := map[model.Provider]bool{}
	for _, p := range router.AvailableProviders() {
		available[p] = true
	}

	names := make([]string, 0, len(cfg.LLM.Providers))
	for p := range cfg.LLM.Providers {
		names = append(names, string(p))
	}
	sort.Strings(names)

	fmt.Printf("%-12s  %-36s  %s\n", "PROVIDER", "MODEL", "STATUS")
	for _, name := range names {
		p := model.Provider(name)
		state := "unavailable (no api key)"
		if available[p] {
			state = "available"
		}
		label := name
		if p == cfg.LLM.DefaultProvider {
			label += "*"
		}
		fmt.Printf("%-12s  %-36s  %s\n", label, cfg.LLM.Providers[p].Model, state)
	}
	fmt.Println("\n* default provider")
}

func runOffline(args []string) {
	params := map[string]any{}
	if len(args) > 0 {
		switch args[0] {
		case "on":
			params["mode"] = true
		case "off":
			params["mode"] = false
		default:
			fmt.Fprintln(os.Stderr, "usage: conductor offline [on|off]")
			os.Exit(1)
		}
	}

	conductorDir := mustFindConductorDir()
	resp := mustSend(conductorDir, "offline", params)

	var data map[string]bool
	decodeResponse(resp, &data)
	if data["offline_mode"] {
		fmt.Println("Offline mode: on")
	} else {
		fmt.Println("Offline mode: off")
	}
}

func runScan(_ []string) {
	conductorDir := mustFindConductorDir()
	mustSend(conductorDir, "scan", nil)
	fmt.Println("Spool scan triggered.")
}

func runRuns(args []string) {
	verify := false
	for _, a := range args {
		switch a {
		case "--verify":
			verify = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: conductor runs [--verify]\n", a)
			os.Exit(1)
		}
	}

	conductorDir := mustFindConductorDir()
	cfg := mustLoadConfig(conductorDir)
	runsDir := filepath.Join(conductorDir, cfg.Orchestrator.LogDirectory)

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No run sessions.")
			return
		}
		fmt.Fprintf(os.Stderr, "runs: %v\n", err)
		os.Exit(1)
	}

	sessions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			sessions = append(sessions, entry.Name())
		}
	}
	sort.Strings(sessions)
	if len(sessions) == 0 {
		fmt.Println("No run sessions.")
		return
	}

	for _, session := range sessions {
		line := session
		logPath := filepath.Join(runsDir, session, "events.jsonl")
		if verify {
			total, valid, err := events.VerifyLog(logPath)
			if err != nil {
				line += fmt.Sprintf("  (verify failed: %v)", err)
			} else if valid == total {
				line += fmt.Sprintf("  %d events, all valid", total)
			} else {
				line += fmt.Sprintf("  %d events, %d INVALID", total, total-valid)
			}
		}
		fmt.Println(line)
	}
}

func runShutdown(_ []string) {
	conductorDir := mustFindConductorDir()
	resp := mustSend(conductorDir, "shutdown", nil)

	var data map[string]string
	decodeResponse(resp, &data)
	fmt.Printf("Daemon: %s\n", data["status"])
}

// requireValue advances past a flag that takes a value, exiting with a
// usage error when the value is missing.
func requireValue(args []string, i int, flag string) int {
	if i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", flag)
		os.Exit(1)
	}
	return i + 1
}

func parseJSONFlag(args []string, command string) bool {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: conductor %s [--json]\n", a, command)
			os.Exit(1)
		}
	}
	return jsonOutput
}

func mustSend(conductorDir, command string, params any) *uds.Response {
	client := uds.NewClient(filepath.Join(conductorDir, uds.DefaultSocketName))
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
	if err := resp.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
	return resp
}

func decodeResponse(resp *uds.Response, v any) {
	if err := resp.DecodeData(v); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}
}

func printRawData(resp *uds.Response) {
	var pretty any
	if err := resp.DecodeData(&pretty); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func mustFindConductorDir() string {
	dir := findConductorDir()
	if dir == "" {
		fmt.Fprintln(os.Stderr, "error: .conductor/ directory not found. Run 'conductor init' first.")
		os.Exit(1)
	}
	return dir
}

func findConductorDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".conductor")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func mustLoadConfig(conductorDir string) model.Config {
	cfg, err := loadConfig(conductorDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func loadConfig(conductorDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(conductorDir, "config.yaml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return model.Config{}, fmt.Errorf("config.yaml: %w", err)
	}
	return cfg, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `conductor %s — LLM task orchestration daemon

Usage: conductor <command> [options]

Project:
  init [dir]            Initialize .conductor/ directory
  daemon                Run the daemon in the foreground
  status [--json]       Daemon liveness, task counts, spool depth

Tasks:
  submit --type <type> --description <text> [--payload k=v]...
         [--payload-json <json>] [--direct]
                        Submit a task (spooled by default, --direct
                        sends straight to the running daemon)
  tasks [--json]        List all tasks
  task <id> [--json]    Show one task
  cancel <id>           Cancel a pending or running task
  pause <id>            Pause a running task
  resume <id>           Resume a paused task
  retry <id>            Re-queue a failed task

Routing:
  stats [--json]        Aggregate LLM routing statistics
  providers             List configured providers and availability
  offline [on|off]      Show or set the LLM kill switch

Operations:
  scan                  Trigger an immediate spool scan
  runs [--verify]       List run sessions (--verify checks event logs)
  shutdown              Stop the running daemon
  version               Show version
  help                  Show this help

Task types: plan, review, status, followup, apply
`, version)
}
