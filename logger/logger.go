package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"limix_backend/config"
)

var (
	// Global logger instances
	InfoLogger   *log.Logger
	ErrorLogger  *log.Logger
	DebugLogger  *log.Logger
	WarnLogger   *log.Logger
	logFile      *os.File
	logLevel     string
	logToConsole bool

	// guards the globals above against a concurrent Init/Close
	mu sync.RWMutex
)

// LogLevel constants
const (
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
)

// Init initializes the logging system using configuration
func Init(cfg *config.Config) error {
	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %w", err)
	}

	// Create log file path
	logPath := cfg.Logging.LogFile
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(cwd, logPath)
	}

	// Create or open log file
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	var stdout, stderr io.Writer = file, file
	if cfg.Logging.LogToConsole {
		// Write to both console and file
		stdout = io.MultiWriter(os.Stdout, file)
		stderr = io.MultiWriter(os.Stderr, file)
	}

	mu.Lock()
	logFile = file
	logToConsole = cfg.Logging.LogToConsole
	setWriters(stdout, stderr, cfg.Logging.LogLevel)
	mu.Unlock()

	// Log session start
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	InfoLogger.Printf("=== Session started at %s ===\n", timestamp)
	InfoLogger.Printf("Log file: %s\n", logPath)
	InfoLogger.Printf("Log level: %s\n", cfg.Logging.LogLevel)
	InfoLogger.Printf("Log to console: %t\n", cfg.Logging.LogToConsole)
	LogDivider()

	return nil
}

// InitWriter sends every level to w without a log file.
// Used by tests and by commands that only print to the console.
func InitWriter(w io.Writer, level string) {
	mu.Lock()
	defer mu.Unlock()
	logFile = nil
	logToConsole = false
	setWriters(w, w, level)
}

func setWriters(out, errOut io.Writer, level string) {
	logLevel = level
	// Timestamps on every line: the loops run for days
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	InfoLogger = log.New(out, "", flags)
	DebugLogger = log.New(out, "", flags)
	WarnLogger = log.New(out, "", flags)
	ErrorLogger = log.New(errOut, "", flags)
}

// Close closes the log file. Later lines go to stdout and stderr.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		// Log session end
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		InfoLogger.Println("------------------------------------------------------------")
		InfoLogger.Printf("=== Session ended at %s ===\n\n", timestamp)
		err := logFile.Close()
		logFile = nil
		logToConsole = true
		setWriters(os.Stdout, os.Stderr, logLevel)
		return err
	}
	return nil
}

// shouldLog determines if a message should be logged based on log level
func shouldLog(messageLevel string) bool {
	levels := map[string]int{
		DEBUG: 0,
		INFO:  1,
		WARN:  2,
		ERROR: 3,
	}

	mu.RLock()
	current := logLevel
	mu.RUnlock()

	currentLevel, exists := levels[current]
	if !exists {
		currentLevel = levels[INFO] // Default to INFO if invalid level
	}

	messageLogLevel, exists := levels[messageLevel]
	if !exists {
		return true // Log unknown levels
	}

	return messageLogLevel >= currentLevel
}

func get(l **log.Logger) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return *l
}

// Printf prints formatted text to log (respects log level)
func Printf(format string, v ...interface{}) {
	if !shouldLog(INFO) {
		return
	}
	if l := get(&InfoLogger); l != nil {
		l.Printf(format, v...)
	} else {
		fmt.Printf(format, v...)
	}
}

// Println prints a line to log (respects log level)
func Println(v ...interface{}) {
	if !shouldLog(INFO) {
		return
	}
	if l := get(&InfoLogger); l != nil {
		l.Println(v...)
	} else {
		fmt.Println(v...)
	}
}

// Debugf prints formatted debug text
func Debugf(format string, v ...interface{}) {
	if !shouldLog(DEBUG) {
		return
	}
	if l := get(&DebugLogger); l != nil {
		l.Printf("DEBUG: "+format, v...)
	} else {
		fmt.Printf("DEBUG: "+format, v...)
	}
}

// Warnf prints formatted warning text
func Warnf(format string, v ...interface{}) {
	if !shouldLog(WARN) {
		return
	}
	if l := get(&WarnLogger); l != nil {
		l.Printf("WARN: "+format, v...)
	} else {
		fmt.Printf("WARN: "+format, v...)
	}
}

// Errorf prints formatted error text (always logged regardless of level)
func Errorf(format string, v ...interface{}) {
	if l := get(&ErrorLogger); l != nil {
		l.Printf("ERROR: "+format, v...)
	} else {
		fmt.Fprintf(os.Stderr, "ERROR: "+format, v...)
	}
}

// Fatalf prints formatted fatal error and exits (always logged)
func Fatalf(format string, v ...interface{}) {
	if l := get(&ErrorLogger); l != nil {
		l.Printf("FATAL: "+format, v...)
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: "+format, v...)
	}
	Close()
	os.Exit(1)
}

// LogCommand logs the command being executed
func LogCommand(command string, args []string) {
	if len(args) > 1 {
		Printf("Command executed: %s %v\n", command, args[1:])
		return
	}
	Printf("Command executed: %s\n", command)
}

// LogDivider prints a divider line for better log organization
func LogDivider() {
	Println("------------------------------------------------------------")
}

// LogResult logs a result with status
func LogResult(operation string, success bool, details string) {
	status := "✅ %s: SUCCESS"
	if !success {
		status = "❌ %s: FAILED"
	}
	if details != "" {
		Printf(status+" - %s\n", operation, details)
		return
	}
	Printf(status+"\n", operation)
}

// GetLogFileName returns the current log file name
func GetLogFileName() string {
	mu.RLock()
	defer mu.RUnlock()
	if logFile != nil {
		return logFile.Name()
	}
	return "limix.log"
}

// ConsoleEnabled reports whether log lines are mirrored to the console
func ConsoleEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return logToConsole
}
