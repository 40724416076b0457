package common

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// csmLogger implements the ILogger interface with a fixed column layout
type csmLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *csmLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *csmLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *csmLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *csmLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *csmLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *csmLogger) Panicf(format string, args ...interface{}) {
	l.log("PANIC", format, args...)
	panic(fmt.Sprintf(format, args...))
}

func (l *csmLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	return &csmLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(os.Stdout, "", log.Ldate|log.Ltime),
	}
}

// ParseLogLevel converts a level name to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// dragonboatLoggers are the packages of dragonboat that log through the factory
var dragonboatLoggers = []string{"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb"}

// ownLoggers are the packages of this module
var ownLoggers = []string{"csm", "raftsm", "memdispatcher", "server"}

// InitLoggers installs the custom logger factory and sets the level of all loggers
func InitLoggers(config ServerConfig) error {
	level, err := ParseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)

	for _, name := range dragonboatLoggers {
		// dragonboat is chatty on info, keep it one level quieter
		if level > logger.WARNING {
			logger.GetLogger(name).SetLevel(logger.WARNING)
		} else {
			logger.GetLogger(name).SetLevel(level)
		}
	}
	for _, name := range ownLoggers {
		logger.GetLogger(name).SetLevel(level)
	}
	return nil
}
