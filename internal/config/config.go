package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port        int    `toml:"port"`
	DBDriver    string `toml:"db_driver"`
	DBPath      string `toml:"db"`
	PostgresDSN string `toml:"postgres_dsn"`
	Queue       string `toml:"queue"`
	RedisAddr   string `toml:"redis_addr"`
	RedisKey    string `toml:"redis_key"`
	Secret      string `toml:"secret"`
	Backend     string `toml:"backend"`

	Worker WorkerConfig `toml:"worker"`
	Poll   PollConfig   `toml:"poll"`
	LLM    LLMConfig    `toml:"llm"`
	Log    LogConfig    `toml:"log"`
}

// WorkerConfig controls retries and timing of the background worker.
type WorkerConfig struct {
	MaxRetries  int           `toml:"max_retries"`
	TaskTimeout time.Duration `toml:"task_timeout"`
	DequeueWait time.Duration `toml:"dequeue_wait"`
	StopGrace   time.Duration `toml:"stop_grace"`
}

// PollConfig controls how long a fetch waits for a PENDING job to settle.
type PollConfig struct {
	Attempts int           `toml:"attempts"`
	Delay    time.Duration `toml:"delay"`
}

// LLMConfig configures the external extraction backend.
type LLMConfig struct {
	Provider string         `toml:"provider"`
	Timeout  time.Duration  `toml:"timeout"`
	OpenAI   ProviderConfig `toml:"openai"`
	Ollama   ProviderConfig `toml:"ollama"`
}

// ProviderConfig holds the settings of one model provider.
type ProviderConfig struct {
	BaseURL     string  `toml:"base_url"`
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "extractd", "jobs.db")
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:     8080,
		DBDriver: "sqlite",
		DBPath:   DefaultDBPath(),
		Queue:    "memory",
		RedisKey: "extractd:queue",
		Backend:  "heuristic",
		Worker: WorkerConfig{
			MaxRetries:  3,
			TaskTimeout: 60 * time.Second,
			DequeueWait: 500 * time.Millisecond,
			StopGrace:   2 * time.Second,
		},
		Poll: PollConfig{Attempts: 3, Delay: time.Second},
		LLM: LLMConfig{
			Provider: "ollama",
			Timeout:  45 * time.Second,
			OpenAI:   ProviderConfig{Model: "gpt-4o-mini"},
			Ollama:   ProviderConfig{BaseURL: "http://localhost:11434", Model: "llama3"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, an optional TOML file,
// command-line flags, a .env file and the environment, in that order of
// increasing precedence.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fset := flag.NewFlagSet("extractd", flag.ContinueOnError)
	configPath := fset.String("config", os.Getenv("EXTRACTD_CONFIG"), "TOML config file")
	envFile := fset.String("env-file", ".env", "dotenv file loaded into the environment if present")
	port := fset.Int("port", cfg.Port, "HTTP server port")
	dbPath := fset.String("db", cfg.DBPath, "SQLite database path")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", *configPath, err)
		}
	}

	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "db":
			cfg.DBPath = *dbPath
		}
	})

	if *envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", *envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	e := envReader{}

	e.intVar("EXTRACTD_PORT", &c.Port)
	e.strVar("EXTRACTD_DB_DRIVER", &c.DBDriver)
	e.strVar("EXTRACTD_DB", &c.DBPath)
	e.strVar("EXTRACTD_POSTGRES_DSN", &c.PostgresDSN)
	e.strVar("EXTRACTD_QUEUE", &c.Queue)
	e.strVar("EXTRACTD_REDIS_ADDR", &c.RedisAddr)
	e.strVar("EXTRACTD_REDIS_KEY", &c.RedisKey)
	e.strVar("EXTRACTD_SECRET", &c.Secret)
	e.strVar("EXTRACTOR_BACKEND", &c.Backend)

	e.intVar("WORKER_MAX_RETRIES", &c.Worker.MaxRetries)
	e.secondsVar("WORKER_TASK_TIMEOUT_SECONDS", &c.Worker.TaskTimeout)
	e.durationVar("WORKER_DEQUEUE_WAIT", &c.Worker.DequeueWait)
	e.durationVar("WORKER_STOP_GRACE", &c.Worker.StopGrace)
	e.intVar("GET_POLL_ATTEMPTS", &c.Poll.Attempts)
	e.secondsVar("GET_POLL_DELAY_SECONDS", &c.Poll.Delay)

	e.strVar("LLM_PROVIDER", &c.LLM.Provider)
	e.durationVar("LLM_TIMEOUT", &c.LLM.Timeout)
	e.strVar("OPENAI_API_KEY", &c.LLM.OpenAI.APIKey)
	e.strVar("OPENAI_MODEL", &c.LLM.OpenAI.Model)
	e.strVar("OPENAI_BASE_URL", &c.LLM.OpenAI.BaseURL)
	e.floatVar("OPENAI_TEMPERATURE", &c.LLM.OpenAI.Temperature)
	e.strVar("OLLAMA_BASE_URL", &c.LLM.Ollama.BaseURL)
	e.strVar("OLLAMA_MODEL", &c.LLM.Ollama.Model)
	e.floatVar("OLLAMA_TEMPERATURE", &c.LLM.Ollama.Temperature)

	e.strVar("APP_LOG_LEVEL", &c.Log.Level)
	e.strVar("APP_LOG_FORMAT", &c.Log.Format)

	return errors.Join(e.errs...)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, errors.New("sqlite driver needs a database path"))
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres driver needs EXTRACTD_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db driver %q", c.DBDriver))
	}
	switch c.Queue {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis queue needs EXTRACTD_REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue %q", c.Queue))
	}
	switch strings.ToLower(c.Backend) {
	case "heuristic", "regex", "external", "llm":
	default:
		errs = append(errs, fmt.Errorf("unknown extractor backend %q", c.Backend))
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM provider %q", c.LLM.Provider))
	}
	if c.Worker.MaxRetries < 0 {
		errs = append(errs, errors.New("worker max retries must not be negative"))
	}
	if c.Worker.TaskTimeout <= 0 {
		errs = append(errs, errors.New("worker task timeout must be positive"))
	}
	if c.Worker.DequeueWait <= 0 {
		errs = append(errs, errors.New("worker dequeue wait must be positive"))
	}
	if c.Poll.Attempts < 0 {
		errs = append(errs, errors.New("poll attempts must not be negative"))
	}
	if c.Poll.Delay < 0 {
		errs = append(errs, errors.New("poll delay must not be negative"))
	}
	return errors.Join(errs...)
}

// envReader applies set environment variables and collects parse errors.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
}

func (e *envReader) strVar(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) intVar(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) floatVar(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

// secondsVar reads a possibly fractional number of seconds.
func (e *envReader) secondsVar(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = time.Duration(f * float64(time.Second))
	}
}

func (e *envReader) durationVar(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
