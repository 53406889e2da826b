package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

const (
	errorLogFileSuffix = "wf"
)

var logger *logrus.Logger

func init() {
	// Console output until Init is called with a real config.
	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		TimestampFormat:        time.DateTime,
		DisableLevelTruncation: true,
	})
	logger.SetLevel(logrus.InfoLevel)
}

// Config describes where and how verbosely to log.
type Config struct {
	Filename   string `mapstructure:"filename"`    // log file path
	MaxSize    int    `mapstructure:"max_size"`    // max size per file (MB)
	MaxBackups int    `mapstructure:"max_backups"` // rotated files to keep
	MaxAge     int    `mapstructure:"max_age"`     // rotated file age limit (days)
	Compress   bool   `mapstructure:"compress"`    // gzip rotated files
	Level      string `mapstructure:"level"`       // debug, info, warn, error, fatal, panic
	Console    bool   `mapstructure:"console"`     // also log to stdout
}

// Init configures the package logger. The main file receives every level;
// Error and above are additionally copied to a "<filename>.wf" sibling so
// failures are easy to scan without the full stream.
func Init(cfg Config) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		TimestampFormat:        time.DateTime,
		DisableLevelTruncation: true,
	})

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, os.Stdout)
	}
	if cfg.Filename != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	if len(writers) > 0 {
		logger.SetOutput(io.MultiWriter(writers...))
	} else {
		logger.SetOutput(os.Stdout)
	}

	if cfg.Filename != "" {
		errorWriter := &lumberjack.Logger{
			Filename:   fmt.Sprintf("%s.%s", cfg.Filename, errorLogFileSuffix),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		logger.AddHook(&ErrorHook{
			Writer:    errorWriter,
			LogLevels: []logrus.Level{logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel},
			Formatter: logger.Formatter,
		})
	}
}

// ErrorHook copies matching entries to a second writer.
type ErrorHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
	Formatter logrus.Formatter
}

// Levels implements logrus.Hook.
func (h *ErrorHook) Levels() []logrus.Level {
	return h.LogLevels
}

// Fire implements logrus.Hook.
func (h *ErrorHook) Fire(entry *logrus.Entry) error {
	line, err := h.Formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.Writer.Write(line)
	return err
}

// Debug logs at debug level.
func Debug(args ...interface{}) { logger.Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...interface{}) { logger.Debugf(format, args...) }

// Info logs at info level.
func Info(args ...interface{}) { logger.Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...interface{}) { logger.Infof(format, args...) }

// Warn logs at warn level.
func Warn(args ...interface{}) { logger.Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...interface{}) { logger.Warnf(format, args...) }

// Error logs at error level.
func Error(args ...interface{}) { logger.Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) { logger.Errorf(format, args...) }

// Fatal logs at fatal level and exits.
func Fatal(args ...interface{}) { logger.Fatal(args...) }

// Fatalf logs a formatted message at fatal level and exits.
func Fatalf(format string, args ...interface{}) { logger.Fatalf(format, args...) }

// WithFields returns an entry carrying structured fields.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return logger.WithFields(fields)
}

// GetLogger exposes the underlying logrus instance.
func GetLogger() *logrus.Logger {
	return logger
}
