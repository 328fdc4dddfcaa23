package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/unityext/core/activity"
	"github.com/unityext/core/logging"
	"github.com/unityext/core/schedule"
)

const (
	// Default engine settings
	defaultAsyncTimeSlice       = activity.DefaultAsyncTimeSlice
	defaultMaxThreads           = activity.DefaultMaxThreads
	defaultWorkerSleep          = activity.DefaultWorkerSleep
	defaultMaintenanceQueueSize = activity.DefaultMaintenanceQueueSize
	defaultRetainFinished       = activity.DefaultRetainFinished

	// Default host settings
	defaultFrameInterval     = 16 * time.Millisecond
	defaultFixedStep         = 20 * time.Millisecond
	defaultKeepAliveInterval = time.Second
	defaultShutdownTimeout   = 10 * time.Second

	// Default monitoring settings
	defaultListenAddr    = ":8080"
	defaultMetricsPrefix = "engine"
	defaultJobName       = "engine"
	defaultPushSchedule  = "* * * * *"

	// Default logging settings
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
	defaultLogOutput = "stdout"
)

// Config represents the complete application configuration
type Config struct {
	Engine     EngineConfig     `yaml:"engine" toml:"engine"`
	Host       HostConfig       `yaml:"host" toml:"host"`
	Logging    logging.Config   `yaml:"logging" toml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring" toml:"monitoring"`
	Activities []ActivityConfig `yaml:"activities" toml:"activities"`
	// Schedules starts configured activities on cron, in the form
	// "heartbeat,report:*/5 * * * *;cleanup:0 3 * * *".
	Schedules string `yaml:"schedules" toml:"schedules"`
}

// EngineConfig holds the activity manager settings
type EngineConfig struct {
	AsyncTimeSlice       time.Duration `yaml:"async_time_slice" toml:"async_time_slice"`
	MaxThreads           int           `yaml:"max_threads" toml:"max_threads"`
	WorkerSleep          time.Duration `yaml:"worker_sleep" toml:"worker_sleep"`
	MaintenanceQueueSize int           `yaml:"maintenance_queue_size" toml:"maintenance_queue_size"`
	// RetainFinished is how many finished activities stay inspectable
	RetainFinished int `yaml:"retain_finished" toml:"retain_finished"`
}

// HostConfig defines how the reference host drives the phases
type HostConfig struct {
	// FrameInterval is the period of the Update and LateUpdate phases
	FrameInterval time.Duration `yaml:"frame_interval" toml:"frame_interval"`
	// FixedStep is the simulated period of the FixedUpdate phase
	FixedStep time.Duration `yaml:"fixed_step" toml:"fixed_step"`
	// KeepAliveInterval is how often the worker pool health check runs
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval" toml:"keep_alive_interval"`
	// ShutdownTimeout bounds how long shutdown waits for workers and the HTTP server
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// MonitoringConfig holds metrics and monitoring settings
type MonitoringConfig struct {
	// ListenAddr is the address of the inspection server. Empty disables it.
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
	// PushURL switches metrics to remote write against this endpoint.
	PushURL       string `yaml:"push_url" toml:"push_url"`
	MetricsPrefix string `yaml:"metrics_prefix" toml:"metrics_prefix"`
	JobName       string `yaml:"job_name" toml:"job_name"`
	// PushSchedule is the cron spec on which pushed metrics are flushed
	PushSchedule string `yaml:"push_schedule" toml:"push_schedule"`
	// TLSCert and TLSKey switch the inspection server to HTTPS.
	TLSCert string `yaml:"tls_cert" toml:"tls_cert"`
	TLSKey  string `yaml:"tls_key" toml:"tls_key"`
	// ReloadUser and ReloadPasswordHash (bcrypt) require basic auth on /reload.
	ReloadUser         string `yaml:"reload_user" toml:"reload_user"`
	ReloadPasswordHash string `yaml:"reload_password_hash" toml:"reload_password_hash"`
}

// ActivityConfig declares a timer activity the engine can start by name
type ActivityConfig struct {
	ID       string        `yaml:"id" toml:"id"`
	Context  string        `yaml:"context" toml:"context"`
	Duration time.Duration `yaml:"duration" toml:"duration"`
}

// ActivityIDs returns the set of configured activity ids.
func (c *Config) ActivityIDs() map[string]bool {
	ids := make(map[string]bool, len(c.Activities))
	for _, a := range c.Activities {
		ids[a.ID] = true
	}
	return ids
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	if c.Engine.AsyncTimeSlice < time.Millisecond {
		return fmt.Errorf("async time slice must be at least 1ms, got %s", c.Engine.AsyncTimeSlice)
	}
	if c.Engine.MaxThreads < 1 {
		return fmt.Errorf("max threads must be positive")
	}
	if c.Engine.WorkerSleep < 0 {
		return fmt.Errorf("worker sleep must not be negative")
	}
	if c.Engine.MaintenanceQueueSize < 1 {
		return fmt.Errorf("maintenance queue size must be positive")
	}
	if c.Engine.RetainFinished < 1 {
		return fmt.Errorf("retain finished must be positive")
	}
	if c.Host.FrameInterval <= 0 {
		return fmt.Errorf("frame interval must be positive")
	}
	if c.Host.FixedStep <= 0 {
		return fmt.Errorf("fixed step must be positive")
	}
	if c.Host.KeepAliveInterval <= 0 {
		return fmt.Errorf("keep alive interval must be positive")
	}
	if c.Host.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Monitoring.PushURL != "" {
		if _, err := schedule.ParseCron(c.Monitoring.PushSchedule); err != nil {
			return fmt.Errorf("push schedule: %w", err)
		}
	}

	if (c.Monitoring.TLSCert == "") != (c.Monitoring.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	if (c.Monitoring.ReloadUser == "") != (c.Monitoring.ReloadPasswordHash == "") {
		return fmt.Errorf("reload_user and reload_password_hash must be set together")
	}

	seen := make(map[string]bool, len(c.Activities))
	for i, a := range c.Activities {
		if a.ID == "" {
			return fmt.Errorf("activity %d: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("activity %q: duplicate id", a.ID)
		}
		seen[a.ID] = true
		ctx, err := activity.ParseContext(a.Context)
		if err != nil {
			return fmt.Errorf("activity %q: %w", a.ID, err)
		}
		if !ctx.Valid() {
			return fmt.Errorf("activity %q: a concrete context is required", a.ID)
		}
		if a.Duration < 0 {
			return fmt.Errorf("activity %q: duration must not be negative", a.ID)
		}
	}

	if strings.TrimSpace(c.Schedules) != "" {
		if _, err := schedule.ParseTriggerSpecs(c.Schedules, seen); err != nil {
			return fmt.Errorf("schedules: %w", err)
		}
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields
func (c *Config) SetDefaults() {
	if c.Engine.AsyncTimeSlice == 0 {
		c.Engine.AsyncTimeSlice = defaultAsyncTimeSlice
	}
	if c.Engine.MaxThreads == 0 {
		c.Engine.MaxThreads = defaultMaxThreads
	}
	if c.Engine.WorkerSleep == 0 {
		c.Engine.WorkerSleep = defaultWorkerSleep
	}
	if c.Engine.MaintenanceQueueSize == 0 {
		c.Engine.MaintenanceQueueSize = defaultMaintenanceQueueSize
	}
	if c.Engine.RetainFinished == 0 {
		c.Engine.RetainFinished = defaultRetainFinished
	}
	if c.Host.FrameInterval == 0 {
		c.Host.FrameInterval = defaultFrameInterval
	}
	if c.Host.FixedStep == 0 {
		c.Host.FixedStep = defaultFixedStep
	}
	if c.Host.KeepAliveInterval == 0 {
		c.Host.KeepAliveInterval = defaultKeepAliveInterval
	}
	if c.Host.ShutdownTimeout == 0 {
		c.Host.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Monitoring.ListenAddr == "" {
		c.Monitoring.ListenAddr = defaultListenAddr
	}
	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	if c.Monitoring.PushSchedule == "" {
		c.Monitoring.PushSchedule = defaultPushSchedule
	}
	// Set logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaultLogOutput
	}
	for i := range c.Activities {
		if c.Activities[i].Context == "" {
			c.Activities[i].Context = activity.Update.String()
		}
	}
}

// Load reads the config file at the given path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("decoding %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("decoding %s: unknown keys %v", path, undecoded)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
