package debug

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
)

var (
	// mu protects currentLevel from concurrent access
	mu           sync.RWMutex
	currentLevel LogLevel
	logger       *log.Logger
	levelNames   = map[LogLevel]string{
		LevelDebug:   "DEBUG",
		LevelInfo:    "INFO",
		LevelWarning: "WARNING",
		LevelError:   "ERROR",
	}
	levelMap = map[string]LogLevel{
		"DEBUG":   LevelDebug,
		"INFO":    LevelInfo,
		"WARNING": LevelWarning,
		"ERROR":   LevelError,
	}
)

func init() {
	logger = log.New(os.Stdout, "", 0)

	level := LevelInfo
	if l, ok := levelMap[strings.ToUpper(os.Getenv("LOG_LEVEL"))]; ok {
		level = l
	}
	if os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1" {
		level = LevelDebug
	}

	mu.Lock()
	currentLevel = level
	mu.Unlock()
}

// GetLogLevel returns the current log level (thread-safe)
func GetLogLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// SetLogLevel sets the minimum log level at runtime (thread-safe)
func SetLogLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// ParseLevel converts a string to LogLevel
func ParseLevel(levelStr string) (LogLevel, bool) {
	level, exists := levelMap[strings.ToUpper(levelStr)]
	return level, exists
}

func logWithLevel(level LogLevel, format string, v ...interface{}) {
	mu.RLock()
	minLevel := currentLevel
	mu.RUnlock()

	if level < minLevel {
		return
	}

	// Caller two frames up: logWithLevel -> Debug/Info/... -> caller
	_, file, line, _ := runtime.Caller(2)
	if idx := strings.LastIndex(file, "/"); idx != -1 {
		file = file[idx+1:]
	}

	message := fmt.Sprintf(format, v...)
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	logger.Printf("[%s] [%s] [%s:%d] %s\n",
		levelNames[level],
		timestamp,
		file,
		line,
		message,
	)
}

// Debug logs a debug level message
func Debug(format string, v ...interface{}) {
	logWithLevel(LevelDebug, format, v...)
}

// Info logs an info level message
func Info(format string, v ...interface{}) {
	logWithLevel(LevelInfo, format, v...)
}

// Warning logs a warning level message
func Warning(format string, v ...interface{}) {
	logWithLevel(LevelWarning, format, v...)
}

// Error logs an error level message
func Error(format string, v ...interface{}) {
	logWithLevel(LevelError, format, v...)
}
