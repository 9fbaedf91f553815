// Package logger wraps logrus with the defaults shared by every component.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"SAVEPOP_LOG_LEVEL"`
	Format     string `yaml:"format" env:"SAVEPOP_LOG_FORMAT"`
	Output     string `yaml:"output" env:"SAVEPOP_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"SAVEPOP_LOG_FILE_PREFIX"`
}

// Logger is a logrus logger that stamps every entry with its component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from configuration. Unknown levels fall back to info and
// unknown outputs fall back to stdout.
func New(cfg LoggingConfig) (*Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	out, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}
	base.SetOutput(out)
	base.AddHook(componentHook{component: "savepop"})

	return &Logger{Logger: base, component: "savepop"}, nil
}

// NewDefault returns an info-level text logger tagged with the component name.
func NewDefault(component string) *Logger {
	base := logrus.New()
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	base.SetOutput(os.Stdout)
	l := &Logger{Logger: base, component: component}
	base.AddHook(componentHook{component: component})
	return l
}

// Named returns a logger sharing the same output and level that tags entries
// with a different component.
func (l *Logger) Named(component string) *Logger {
	child := logrus.New()
	child.SetLevel(l.GetLevel())
	child.SetFormatter(l.Formatter)
	child.SetOutput(l.Out)
	child.AddHook(componentHook{component: component})
	return &Logger{Logger: child, component: component}
}

// Component reports the component name attached to entries.
func (l *Logger) Component() string {
	return l.component
}

func openOutput(cfg LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "savepop"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		if dir := filepath.Dir(prefix); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return f, nil
	default:
		return os.Stdout, nil
	}
}

type componentHook struct {
	component string
}

func (h componentHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h componentHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["component"]; !ok {
		entry.Data["component"] = h.component
	}
	return nil
}
