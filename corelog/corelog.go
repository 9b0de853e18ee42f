// Package corelog wires up the structured logging shared by cmd/server
// and cmd/client: a logrus.Logger with separate warn+ and
// info/debug/trace file sinks, built once per process.
package corelog

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

// Options configures New.
type Options struct {
	// Dir is the directory log files are written under. If it does not
	// exist, it is created with 0700 permissions.
	Dir string

	// Name prefixes the two log files: "<name>.log" for warn+ and
	// "<name>-debug.log" for info/debug/trace.
	Name string

	// Debug mirrors info/debug/trace records to the debug sink. When
	// false, only the warn+ log is written.
	Debug bool
}

// New builds a *logrus.Logger that discards its default output and
// instead writes JSON-formatted records through level-scoped hooks.
func New(opts Options) (*logrus.Logger, []io.Closer, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if err := ensureDir(opts.Dir); err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.JSONFormatter{})

	var closers []io.Closer

	logPath := filepath.Join(opts.Dir, opts.Name+".log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) // skipcq: GSC-G302
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, logFile)
	logger.AddHook(&writer.Hook{
		Writer: logFile,
		LogLevels: []logrus.Level{
			logrus.WarnLevel,
			logrus.ErrorLevel,
			logrus.FatalLevel,
			logrus.PanicLevel,
		},
	})

	if opts.Debug {
		logger.SetLevel(logrus.TraceLevel)
		debugPath := filepath.Join(opts.Dir, opts.Name+"-debug.log")
		debugFile, err := os.OpenFile(debugPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) // skipcq: GSC-G302
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, debugFile)
		logger.AddHook(&writer.Hook{
			Writer: debugFile,
			LogLevels: []logrus.Level{
				logrus.TraceLevel,
				logrus.DebugLevel,
				logrus.InfoLevel,
			},
		})
	}

	return logger, closers, nil
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.MkdirAll(path, 0700)
}

// Close closes every io.Closer returned by New, logging but not failing
// on individual close errors.
func Close(logger *logrus.Logger, closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil && logger != nil {
			logger.WithError(err).Warn("corelog: failed to close log file")
		}
	}
}
