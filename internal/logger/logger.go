// Package logger provides leveled logging in text or JSON lines.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

func (l Level) String() string {
	return levelNames[l]
}

// ParseLevel maps a config string to a Level, defaulting to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides leveled logging.
type Logger struct {
	level  Level
	json   bool
	mu     sync.Mutex
	out    io.Writer
	logger *log.Logger
}

var defaultLogger *Logger

// Init initializes the default logger with the specified level and format
// ("text" or "json"), writing to stderr.
func Init(level string, format string) {
	InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level string, format string) {
	l := &Logger{
		level: ParseLevel(level),
		json:  strings.ToLower(format) == "json",
		out:   w,
	}
	if !l.json {
		l.logger = log.New(w, "", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	}
	defaultLogger = l
}

type entry struct {
	Time  string `json:"time"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

func (l *Logger) output(level Level, format string, args ...interface{}) {
	if l == nil || level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if !l.json {
		_ = l.logger.Output(3, "["+level.String()+"] "+msg)
		return
	}
	line, err := json.Marshal(entry{
		Time:  time.Now().UTC().Format(time.RFC3339Nano),
		Level: strings.ToLower(level.String()),
		Msg:   msg,
	})
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(line, '\n'))
}

func Debug(format string, args ...interface{}) {
	defaultLogger.output(DebugLevel, format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.output(InfoLevel, format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.output(WarnLevel, format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.output(ErrorLevel, format, args...)
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.output(FatalLevel, format, args...)
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	os.Exit(1)
}
