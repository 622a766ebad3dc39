// Package logger configures the process-wide logrus output: console plus an
// optional lumberjack-rotated file, optionally split into one file per day.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger is the configured instance; nil until Init.
	Logger *logrus.Logger

	currentLogFile string
	currentDay     string
	savedConfig    Config
	fileWriter     *lumberjack.Logger
	logMu          sync.Mutex

	nowFunc = time.Now
)

type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // empty means console only
	MaxSize    int    // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	LogByDay   bool // suffix the file name with the current date
	JSON       bool
	Console    io.Writer // defaults to os.Stdout
}

func newFormatter(cfg Config) logrus.Formatter {
	if cfg.JSON {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	}
}

// dayFileName turns logs/bot.log into logs/bot_2026-10-19.log.
func dayFileName(basePath, day string) string {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)
	ext := filepath.Ext(base)
	name := fmt.Sprintf("%s_%s%s", base[:len(base)-len(ext)], day, ext)
	if dir == "." || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// apply wires outputs for cfg. Caller holds logMu.
func apply(cfg Config) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}
	writers := []io.Writer{console}

	if cfg.OutputFile != "" {
		path := cfg.OutputFile
		if cfg.LogByDay {
			currentDay = nowFunc().Format("2006-01-02")
			path = dayFileName(cfg.OutputFile, currentDay)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if fileWriter != nil {
			_ = fileWriter.Close()
		}
		fileWriter = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fileWriter)
		currentLogFile = path
	}

	out := io.MultiWriter(writers...)
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(newFormatter(cfg))
	l.SetOutput(out)

	// Package loggers are built from logrus.WithField, so the standard logger
	// has to point at the same outputs.
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter(cfg))

	Logger = l
	savedConfig = cfg
	return nil
}

func Init(cfg Config) error {
	logMu.Lock()
	defer logMu.Unlock()
	return apply(cfg)
}

// InitDefault logs at info to logs/spikebot.log, one file per day.
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/spikebot.log",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
		LogByDay:   true,
	})
}

// CheckAndRotate switches to a new file when the date has changed. Reports whether it rotated.
func CheckAndRotate() (bool, error) {
	logMu.Lock()
	defer logMu.Unlock()
	if !savedConfig.LogByDay || savedConfig.OutputFile == "" {
		return false, nil
	}
	if nowFunc().Format("2006-01-02") == currentDay {
		return false, nil
	}
	old := currentLogFile
	if err := apply(savedConfig); err != nil {
		return false, err
	}
	Logger.Infof("log file rotated: %s -> %s", old, currentLogFile)
	return true, nil
}

// StartRotationChecker polls once a minute until stop is closed.
func StartRotationChecker(stop <-chan struct{}) {
	logMu.Lock()
	enabled := savedConfig.LogByDay && savedConfig.OutputFile != ""
	logMu.Unlock()
	if !enabled {
		return
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := CheckAndRotate(); err != nil {
					logrus.Errorf("log rotation failed: %v", err)
				}
			}
		}
	}()
}

// Close flushes and closes the file output, if any.
func Close() error {
	logMu.Lock()
	defer logMu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// CurrentLogFile is the file being written, or "" for console only.
func CurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
