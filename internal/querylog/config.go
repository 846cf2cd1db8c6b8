// Package querylog times graph queries, writes them to the slow-query log and
// reads that log back for analysis.
//
// The logger configuration is process-wide. Call Configure once at startup,
// before the first query runs. Reconfiguring while queries are in flight is
// not supported.
package querylog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/barryq93/wisdomgraph/internal/types"
	"github.com/barryq93/wisdomgraph/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	DefaultThresholdMS = 100
	DefaultLogFile     = "logs/neo4j_slow_queries.log"
	FallbackLogFile    = "neo4j_slow_queries.log"
)

// Config is the effective query logger configuration.
type Config struct {
	SlowQueryThresholdMS float64  `json:"slow_query_threshold_ms"`
	LogAllQueries        bool     `json:"log_all_queries"`
	LogToFile            bool     `json:"log_to_file"`
	LogFile              string   `json:"log_file"`
	IncludeParams        bool     `json:"include_params"`
	IncludeResults       bool     `json:"include_results"`
	RedactFields         []string `json:"redact_fields"`
}

func DefaultConfig() Config {
	return Config{
		SlowQueryThresholdMS: DefaultThresholdMS,
		LogToFile:            true,
		LogFile:              DefaultLogFile,
		IncludeParams:        true,
		RedactFields:         append([]string(nil), utils.DefaultRedactFields...),
	}
}

// Merge applies the non-nil fields of opts on top of c.
func (c Config) Merge(opts types.QueryLogOptions) Config {
	if opts.SlowQueryThresholdMS != nil {
		c.SlowQueryThresholdMS = *opts.SlowQueryThresholdMS
	}
	if opts.LogAllQueries != nil {
		c.LogAllQueries = *opts.LogAllQueries
	}
	if opts.LogToFile != nil {
		c.LogToFile = *opts.LogToFile
	}
	if opts.LogFile != nil && *opts.LogFile != "" {
		c.LogFile = *opts.LogFile
	}
	if opts.IncludeParams != nil {
		c.IncludeParams = *opts.IncludeParams
	}
	if opts.IncludeResults != nil {
		c.IncludeResults = *opts.IncludeResults
	}
	if opts.RedactFields != nil {
		c.RedactFields = append([]string(nil), opts.RedactFields...)
	}
	return c
}

type sink struct {
	mu     sync.RWMutex
	cfg    Config
	logger *logrus.Logger
	file   *os.File
}

var current = newSink()

func newSink() *sink {
	return &sink{cfg: DefaultConfig(), logger: newLogger(os.Stderr)}
}

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&LineFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Configure merges opts onto the defaults and opens the log file when
// LogToFile is set. Calling it again re-merges from the defaults.
func Configure(opts types.QueryLogOptions) (Config, error) {
	cfg := DefaultConfig().Merge(opts)

	var (
		out  io.Writer = os.Stderr
		file *os.File
	)
	if cfg.LogToFile {
		cfg.LogFile = ensureLogDir(cfg.LogFile)
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return cfg, fmt.Errorf("opening query log %s: %w", cfg.LogFile, err)
		}
		out, file = f, f
	}

	current.swap(cfg, out, file)
	return cfg, nil
}

// ConfigureOutput is Configure with an explicit writer. No file is opened.
func ConfigureOutput(opts types.QueryLogOptions, w io.Writer) Config {
	cfg := DefaultConfig().Merge(opts)
	current.swap(cfg, w, nil)
	return cfg
}

// Current returns a copy of the effective configuration.
func Current() Config {
	current.mu.RLock()
	defer current.mu.RUnlock()
	cfg := current.cfg
	cfg.RedactFields = append([]string(nil), cfg.RedactFields...)
	return cfg
}

// Reset restores the defaults and closes any open log file.
func Reset() {
	current.swap(DefaultConfig(), os.Stderr, nil)
}

// Close releases the log file.
func Close() error {
	current.mu.Lock()
	defer current.mu.Unlock()
	if current.file == nil {
		return nil
	}
	err := current.file.Close()
	current.file = nil
	current.logger.SetOutput(os.Stderr)
	return err
}

func (s *sink) swap(cfg Config, w io.Writer, file *os.File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil && s.file != file {
		if err := s.file.Close(); err != nil {
			logrus.Warnf("Failed to close query log: %v", err)
		}
	}
	s.cfg = cfg
	s.file = file
	s.logger.SetOutput(w)
}

func (s *sink) snapshot() (Config, *logrus.Logger) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.logger
}

// ensureLogDir creates the directory of path. On failure it falls back to
// FallbackLogFile in the working directory.
func ensureLogDir(path string) string {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return path
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		logrus.Warnf("Failed to create log directory '%s': %v", dir, err)
		return FallbackLogFile
	}
	return path
}
