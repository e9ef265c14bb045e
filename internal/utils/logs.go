package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LogRotationConfig holds rotation configuration
type LogRotationConfig struct {
	MaxSizeMB      int64 // Maximum file size in MB before rotation
	MaxBackups     int   // Maximum number of backup files to keep (0 = keep all)
	EnableRotation bool
}

type LogsManager struct {
	cm             *ConfigManager
	dir            string
	logFileName    string
	logger         *log.Logger
	File           *os.File
	out            io.Writer
	mutex          sync.RWMutex
	rotationConfig LogRotationConfig
	fileSize       int64
}

func NewLogsManager(cm *ConfigManager) *LogsManager {
	paths := GetAppPaths("")

	lm := &LogsManager{
		cm:          cm,
		dir:         paths.LogDir,
		logFileName: cm.GetConfigWithDefault("logfile", "x402-pay.log"),
		logger:      log.New(),
		rotationConfig: LogRotationConfig{
			MaxSizeMB:      int64(cm.GetConfigInt("log_max_size_mb", 50, 1, 10240)),
			MaxBackups:     cm.GetConfigInt("log_max_backups", 5, 0, 1000),
			EnableRotation: cm.GetConfigBool("log_enable_rotation", true),
		},
	}

	if err := lm.initLogger(); err != nil {
		panic(err)
	}

	return lm
}

// NewLogsManagerWithOutput logs to w instead of the rotating log file.
// Used by tests (io.Discard) and by the CLI's --verbose mode (os.Stderr).
func NewLogsManagerWithOutput(cm *ConfigManager, w io.Writer) *LogsManager {
	lm := &LogsManager{
		cm:     cm,
		logger: log.New(),
		out:    w,
	}
	lm.logger.SetOutput(w)
	lm.logger.SetFormatter(&log.JSONFormatter{})
	lm.logger.SetLevel(lm.configuredLevel())
	return lm
}

func (lm *LogsManager) configuredLevel() log.Level {
	logLevel := "info"
	if lm.cm != nil {
		logLevel = lm.cm.GetConfigWithDefault("log_level", "info")
	}
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", logLevel)
		return log.InfoLevel
	}
	return level
}

func (lm *LogsManager) initLogger() error {
	path := filepath.Join(lm.dir, filepath.FromSlash(lm.logFileName))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return err
	}

	lm.File = file
	lm.out = file
	if stat, err := file.Stat(); err == nil {
		lm.fileSize = stat.Size()
	}

	lm.logger.SetLevel(lm.configuredLevel())
	lm.logger.SetOutput(file)
	lm.logger.SetFormatter(&log.JSONFormatter{})

	return nil
}

func (lm *LogsManager) fileInfo(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		file = "<???>"
		line = 1
	} else if slash := strings.LastIndex(file, "/"); slash >= 0 {
		file = file[slash+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func (lm *LogsManager) Log(level string, message string, category string) {
	if lm.File != nil && lm.rotationConfig.EnableRotation {
		lm.checkAndRotate()
	}

	lm.mutex.RLock()
	defer lm.mutex.RUnlock()

	// Closed during shutdown
	if lm.out == nil {
		return
	}

	entry := lm.logger.WithFields(log.Fields{
		"category": category,
		"file":     lm.fileInfo(3),
	})

	switch level {
	case "debug":
		entry.Debug(message)
	case "warn":
		entry.Warn(message)
	case "error":
		entry.Error(message)
	default:
		entry.Info(message)
	}

	lm.fileSize += int64(len(message) + 100)
}

func (lm *LogsManager) Debug(message string, category string) {
	lm.Log("debug", message, category)
}

func (lm *LogsManager) Info(message string, category string) {
	lm.Log("info", message, category)
}

func (lm *LogsManager) Warn(message string, category string) {
	lm.Log("warn", message, category)
}

func (lm *LogsManager) Error(message string, category string) {
	lm.Log("error", message, category)
}

// Close closes the log file - call this when shutting down
func (lm *LogsManager) Close() error {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	lm.out = nil
	if lm.File != nil {
		err := lm.File.Close()
		lm.File = nil
		return err
	}
	return nil
}

func (lm *LogsManager) checkAndRotate() {
	if lm.rotationConfig.MaxSizeMB > 0 && lm.fileSize > lm.rotationConfig.MaxSizeMB*1024*1024 {
		lm.rotate()
	}
}

func (lm *LogsManager) rotate() {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	backupFileName := fmt.Sprintf("%s.%s.bak", lm.logFileName, timestamp)
	currentPath := filepath.Join(lm.dir, lm.logFileName)

	if lm.File != nil {
		lm.File.Close()
		lm.File = nil
		lm.out = nil
	}

	if _, err := os.Stat(currentPath); err == nil {
		if err := os.Rename(currentPath, filepath.Join(lm.dir, backupFileName)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create log backup %s: %v\n", backupFileName, err)
		}
	}

	if err := lm.initLogger(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reinitialize logger after rotation: %v\n", err)
		return
	}

	lm.cleanupOldBackups()

	lm.logger.WithFields(log.Fields{
		"category": "logrotate",
		"backup":   backupFileName,
	}).Info("Log rotated")
}

func (lm *LogsManager) cleanupOldBackups() {
	if lm.rotationConfig.MaxBackups <= 0 {
		return
	}

	files, err := filepath.Glob(filepath.Join(lm.dir, lm.logFileName+"*.bak"))
	if err != nil || len(files) <= lm.rotationConfig.MaxBackups {
		return
	}

	// Backup names embed a sortable timestamp, oldest first
	sort.Strings(files)
	for _, file := range files[:len(files)-lm.rotationConfig.MaxBackups] {
		os.Remove(file)
	}
}

// SetLogLevel updates the log level at runtime
func (lm *LogsManager) SetLogLevel(levelStr string) error {
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %v", levelStr, err)
	}

	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.logger.SetLevel(level)

	return nil
}
