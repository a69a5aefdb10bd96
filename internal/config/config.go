// Package config loads and merges runtime configuration the same way the
// host application does: a JSON file decoded over top of hard-coded
// defaults, then environment-variable overrides, then validation.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/TheEntropyCollective/scoro/internal/logging"
)

// Config holds every tunable knob for the runtime substrate (scheduler,
// timers, I/O polling, IPC, sockets, the server loop and framing). None of
// it is persisted by the runtime itself; it is read once at startup by the
// process embedding the runtime.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Timer     TimerConfig     `json:"timer"`
	IOPoll    IOPollConfig    `json:"io_poll"`
	IPC       IPCConfig       `json:"ipc"`
	Socket    SocketConfig    `json:"socket"`
	Server    ServerConfig    `json:"server"`
	Framing   FramingConfig   `json:"framing"`
	Logging   LoggingConfig   `json:"logging"`
}

// SchedulerConfig controls the worker pool (spec §4.B).
type SchedulerConfig struct {
	Workers         int `json:"workers"`           // 0 = runtime.NumCPU()
	Priorities      int `json:"priorities"`        // number of priority sub-queues (P)
	QueueHighWater  int `json:"queue_high_water"`  // a worker marks itself back-off above this
	QueueLowWater   int `json:"queue_low_water"`   // a worker clears back-off below this
}

// TimerConfig controls the timer wheel (spec §4.C).
type TimerConfig struct {
	TickInterval time.Duration `json:"tick_interval_ms"`
}

// IOPollConfig controls the poller and file watcher (spec §4.D, §4.J).
type IOPollConfig struct {
	MaxEvents      int `json:"max_events"`       // epoll_wait batch size
	WatcherBuffer  int `json:"watcher_buffer"`   // file watcher event channel buffer
}

// IPCConfig controls the process fleet (spec §4.F).
type IPCConfig struct {
	Workers        int           `json:"workers"`
	PipeChunkBytes int           `json:"pipe_chunk_bytes"` // PIPE_BUF-sized write chunks
	GetTimeout     time.Duration `json:"get_timeout_ms"`
	GatherTimeout  time.Duration `json:"gather_timeout_ms"`
}

// SocketConfig controls deadlines for the socket abstraction (spec §4.G).
type SocketConfig struct {
	ConnectTimeout time.Duration `json:"connect_timeout_ms"`
	ReadTimeout    time.Duration `json:"read_timeout_ms"`
	WriteTimeout   time.Duration `json:"write_timeout_ms"`
	CloseTimeout   time.Duration `json:"close_timeout_ms"`
}

// ServerConfig controls the generic accept loop (spec §4.H).
type ServerConfig struct {
	ListenAddr      string        `json:"listen_addr"`
	Network         string        `json:"network"` // "tcp", "unix", "tls"
	AcceptBackoffMin time.Duration `json:"accept_backoff_min_ms"`
	AcceptBackoffMax time.Duration `json:"accept_backoff_max_ms"`
}

// FramingConfig controls the HTTP parser and RPC framer (spec §4.I).
type FramingConfig struct {
	HeaderSizeCap     int64  `json:"header_size_cap"`
	BodySizeCap       int64  `json:"body_size_cap"`
	DiskOffloadMin    int64  `json:"disk_offload_min"`
	OffloadDir        string `json:"offload_dir"`
	SizePrefixEnabled bool   `json:"size_prefix_enabled"`
}

// LoggingConfig mirrors internal/logging's Config so it can be expressed
// in the same JSON document as everything else.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
	File   string `json:"file"`
}

// Default returns a configuration with sensible defaults for all layers.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Workers:        0,
			Priorities:     4,
			QueueHighWater: 256,
			QueueLowWater:  64,
		},
		Timer: TimerConfig{
			TickInterval: 10 * time.Millisecond,
		},
		IOPoll: IOPollConfig{
			MaxEvents:     128,
			WatcherBuffer: 100,
		},
		IPC: IPCConfig{
			Workers:        4,
			PipeChunkBytes: 4096,
			GetTimeout:     5 * time.Second,
			GatherTimeout:  5 * time.Second,
		},
		Socket: SocketConfig{
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			CloseTimeout:   2 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr:       ":0",
			Network:          "tcp",
			AcceptBackoffMin: 5 * time.Millisecond,
			AcceptBackoffMax: time.Second,
		},
		Framing: FramingConfig{
			HeaderSizeCap:     1 << 20,  // 1MiB
			BodySizeCap:       64 << 20, // 64MiB
			DiskOffloadMin:    8 << 20,  // 8MiB
			OffloadDir:        os.TempDir(),
			SizePrefixEnabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "console",
		},
	}
}

// Load loads configuration from a JSON file, applying it over the
// defaults, then applies SCORO_*-prefixed environment variable overrides,
// then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("SCORO_SCHEDULER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.Workers = n
		}
	}
	if v := os.Getenv("SCORO_SCHEDULER_PRIORITIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.Priorities = n
		}
	}
	if v := os.Getenv("SCORO_IPC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.IPC.Workers = n
		}
	}
	if v := os.Getenv("SCORO_SERVER_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("SCORO_SERVER_NETWORK"); v != "" {
		c.Server.Network = v
	}
	if v := os.Getenv("SCORO_FRAMING_OFFLOAD_DIR"); v != "" {
		c.Framing.OffloadDir = v
	}
	if v := os.Getenv("SCORO_FRAMING_SIZE_PREFIX"); v != "" {
		c.Framing.SizePrefixEnabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("SCORO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SCORO_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Scheduler.Priorities < 1 {
		return fmt.Errorf("scheduler.priorities must be >= 1")
	}
	if c.Scheduler.QueueLowWater > c.Scheduler.QueueHighWater {
		return fmt.Errorf("scheduler.queue_low_water must be <= queue_high_water")
	}
	if c.IPC.Workers < 0 {
		return fmt.Errorf("ipc.workers must be >= 0")
	}
	if c.Framing.DiskOffloadMin > c.Framing.BodySizeCap {
		return fmt.Errorf("framing.disk_offload_min must be <= body_size_cap")
	}
	switch c.Server.Network {
	case "tcp", "unix", "tls":
	default:
		return fmt.Errorf("server.network must be one of tcp, unix, tls")
	}
	if _, err := logging.ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// Logger builds a root *logging.Logger from the Logging section, the way a
// process embedding this runtime is expected to do once at startup: Level
// and Format drive the logging.Config directly, and Output selects between
// the console and an append-only file named by File.
func (c *Config) Logger() (*logging.Logger, error) {
	level, err := logging.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	format := logging.TextFormat
	if strings.EqualFold(c.Logging.Format, "json") {
		format = logging.JSONFormat
	}

	output := io.Writer(os.Stdout)
	if strings.EqualFold(c.Logging.Output, "file") {
		if c.Logging.File == "" {
			return nil, fmt.Errorf("logging.file is required when logging.output is \"file\"")
		}
		f, err := os.OpenFile(c.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = f
	}

	return logging.NewLogger(&logging.Config{
		Level:  level,
		Format: format,
		Output: output,
	}), nil
}
