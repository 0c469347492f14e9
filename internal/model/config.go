// Package model defines the shared vocabulary of the conductor: tasks, the
// lifecycle state machine, provider/routing configuration, and identifiers.
package model

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	LLM          LLMConfig          `yaml:"llm"`
	Spool        SpoolConfig        `yaml:"spool"`
	Daemon       DaemonConfig       `yaml:"daemon"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type OrchestratorConfig struct {
	// MaxConcurrentTasks bounds how many executions run at once.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
	// TaskTimeoutMS is the per-execution deadline; past it the task fails.
	TaskTimeoutMS int `yaml:"task_timeout_ms"`
	// LogDirectory holds run sessions, relative to the .conductor/ dir.
	LogDirectory string `yaml:"log_directory"`
}

type SpoolConfig struct {
	Directory       string `yaml:"directory"`
	ScanIntervalSec int    `yaml:"scan_interval_sec"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func DefaultConfig() Config {
	return Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrentTasks: 5,
			TaskTimeoutMS:      30000,
			LogDirectory:       "runs",
		},
		LLM: DefaultLLMConfig(),
		Spool: SpoolConfig{
			Directory:       "spool",
			ScanIntervalSec: 5,
		},
		Daemon: DaemonConfig{
			ShutdownTimeoutSec: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Normalize fills zero-valued fields with defaults and resolves ${ENV_VAR}
// references in provider API keys. Unset variables keep the literal value so
// availability checks can recognize the placeholder.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Orchestrator.MaxConcurrentTasks <= 0 {
		c.Orchestrator.MaxConcurrentTasks = def.Orchestrator.MaxConcurrentTasks
	}
	if c.Orchestrator.TaskTimeoutMS <= 0 {
		c.Orchestrator.TaskTimeoutMS = def.Orchestrator.TaskTimeoutMS
	}
	if c.Orchestrator.LogDirectory == "" {
		c.Orchestrator.LogDirectory = def.Orchestrator.LogDirectory
	}

	if c.LLM.DefaultProvider == "" {
		c.LLM.DefaultProvider = def.LLM.DefaultProvider
	}
	if c.LLM.TimeoutMS <= 0 {
		c.LLM.TimeoutMS = def.LLM.TimeoutMS
	}
	if c.LLM.MaxRetries <= 0 {
		c.LLM.MaxRetries = def.LLM.MaxRetries
	}
	if len(c.LLM.Providers) == 0 {
		c.LLM.Providers = def.LLM.Providers
	}
	if len(c.LLM.Routing) == 0 {
		c.LLM.Routing = def.LLM.Routing
	}
	for p, pc := range c.LLM.Providers {
		pc.APIKey = ExpandEnv(pc.APIKey)
		if pc.MaxTokens <= 0 {
			pc.MaxTokens = 4096
		}
		if pc.TimeoutMS <= 0 {
			pc.TimeoutMS = c.LLM.TimeoutMS
		}
		c.LLM.Providers[p] = pc
	}

	if c.Spool.Directory == "" {
		c.Spool.Directory = def.Spool.Directory
	}
	if c.Spool.ScanIntervalSec <= 0 {
		c.Spool.ScanIntervalSec = def.Spool.ScanIntervalSec
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = def.Daemon.ShutdownTimeoutSec
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Validate checks cross-field consistency after Normalize.
func (c Config) Validate() error {
	for p := range c.LLM.Providers {
		if !validProviders[p] {
			return fmt.Errorf("providers: unknown provider %q", p)
		}
	}
	if !validProviders[c.LLM.DefaultProvider] {
		return fmt.Errorf("default_provider: unknown provider %q", c.LLM.DefaultProvider)
	}
	for t, rc := range c.LLM.Routing {
		if !validTaskTypes[t] {
			return fmt.Errorf("routing: unknown task type %q", t)
		}
		if !validProviders[rc.Provider] {
			return fmt.Errorf("routing.%s: unknown provider %q", t, rc.Provider)
		}
		if rc.Temperature < 0 || rc.Temperature > 2 {
			return fmt.Errorf("routing.%s: temperature %v out of range [0, 2]", t, rc.Temperature)
		}
	}
	return nil
}

// ExpandEnv substitutes a ${NAME} reference when the variable is set.
// Unset references keep the literal value so availability checks can still
// recognize the placeholder.
func ExpandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	name := s[2 : len(s)-1]
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return s
}
