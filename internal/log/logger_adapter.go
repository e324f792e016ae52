package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"go.uber.org/multierr"
)

// MultiWriter fans each log line out to every appender. A failing appender
// does not keep the line from the others; all failures are returned together.
type MultiWriter struct {
	writers []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

func (m *MultiWriter) Write(p []byte) (int, error) {
	var err error
	for _, w := range m.writers {
		if _, e := w.Write(p); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return len(p), err
}

// Add appends writer and returns m for chaining.
func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

// Len returns the number of appenders.
func (m *MultiWriter) Len() int {
	return len(m.writers)
}

// Close closes every appender that is an io.Closer. Stdout is left open.
func (m *MultiWriter) Close() error {
	var err error
	for _, w := range m.writers {
		if w == os.Stdout || w == os.Stderr {
			continue
		}
		if c, ok := w.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}

type logrusAdapter struct {
	entry *logrus.Entry
}

func newDefaultLogger() Logger {
	l, err := newLogger(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return l
}

func newLogger(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	l := logrus.New()

	f, err := newFormatter(cfg)
	if err != nil {
		return nil, err
	}
	l.SetFormatter(f)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	l.SetLevel(level)

	out := NewMultiWriter()
	if cfg.Console {
		out.Add(os.Stdout)
	}
	if cfg.File.Enabled {
		if _, err := out.AddFileAppender(cfg.File); err != nil {
			return nil, fmt.Errorf("failed to create file appender: %w", err)
		}
	}
	if out.Len() == 0 {
		l.SetOutput(io.Discard)
	} else {
		l.SetOutput(out)
	}

	return &logrusAdapter{entry: logrus.NewEntry(l)}, nil
}

func newFormatter(cfg *Config) (logrus.Formatter, error) {
	timeFormat := cfg.Time
	if timeFormat == "" {
		timeFormat = DefaultTime
	}
	switch strings.ToLower(cfg.Formatter) {
	case "", FormatterPattern:
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = DefaultPattern
		}
		return &formatter{pattern: pattern, time: timeFormat}, nil
	case FormatterPrefixed:
		return &prefixed.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timeFormat,
		}, nil
	case FormatterJSON:
		return &logrus.JSONFormatter{TimestampFormat: timeFormat}, nil
	default:
		return nil, fmt.Errorf("unsupported log formatter: %s (must be pattern, prefixed or json)", cfg.Formatter)
	}
}

// NewWithWriter builds a logger writing to w, used by tests that assert on output.
func NewWithWriter(w io.Writer, level logrus.Level) Logger {
	l := logrus.New()
	l.SetFormatter(&formatter{pattern: DefaultPattern, time: DefaultTime})
	l.SetLevel(level)
	l.SetOutput(w)
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

func (l *logrusAdapter) Print(args ...interface{})                 { l.entry.Print(args...) }
func (l *logrusAdapter) Printf(format string, args ...interface{}) { l.entry.Printf(format, args...) }

func (l *logrusAdapter) Trace(args ...interface{})                 { l.entry.Trace(args...) }
func (l *logrusAdapter) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusAdapter) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusAdapter) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *logrusAdapter) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusAdapter) Panic(args ...interface{})                 { l.entry.Panic(args...) }
func (l *logrusAdapter) Panicf(format string, args ...interface{}) { l.entry.Panicf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}

func (l *logrusAdapter) IsTraceEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel)
}
func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
func (l *logrusAdapter) IsInfoEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel)
}
