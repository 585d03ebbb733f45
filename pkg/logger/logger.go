package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogInfo wraps the service zap logger with a runtime debug switch
type LogInfo struct {
	log       *zap.Logger
	debugMode atomic.Bool
}

// Log is the process wide logger
var Log = newNop()

// Initialize build the service logger, one json file per day under logDir
func Initialize(serviceName, logDir string) *LogInfo {
	l := new(LogInfo)

	if logDir == "" {
		logDir = "./log"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		panic(fmt.Sprintf("create log directory %s: %v", logDir, err))
	}
	file := filepath.Join(logDir, fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("2006-01-02")))

	jsonEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())

	// info ~ error: stdout + 檔案, json 格式方便收集
	structured := zapcore.NewCore(
		jsonEncoder,
		zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), openFile(file)),
		zap.LevelEnablerFunc(func(lv zapcore.Level) bool {
			return lv >= zapcore.InfoLevel && lv <= zapcore.ErrorLevel
		}),
	)

	// debug 只在 SetDebugMode(true) 時輸出
	debug := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stdout),
		zap.LevelEnablerFunc(func(lv zapcore.Level) bool {
			return lv == zapcore.DebugLevel && l.debugMode.Load()
		}),
	)

	warn := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stderr),
		zap.LevelEnablerFunc(func(lv zapcore.Level) bool {
			return lv == zapcore.WarnLevel
		}),
	)

	l.log = zap.New(zapcore.NewTee(structured, debug, warn),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.Fields(zap.String("service", serviceName)),
	)
	return l
}

func openFile(path string) zapcore.WriteSyncer {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		panic(fmt.Sprintf("open log file %s: %v", path, err))
	}
	return zapcore.AddSync(f)
}

func newNop() *LogInfo {
	return &LogInfo{log: zap.NewNop()}
}

// SetNewNop replace Log with a logger that discards everything, used by tests
func SetNewNop() {
	Log = newNop()
}

// SetDebugMode set the log debug mode
func (l *LogInfo) SetDebugMode(status bool) {
	l.debugMode.Store(status)
}

// DebugMode report whether debug output is on
func (l *LogInfo) DebugMode() bool {
	return l.debugMode.Load()
}

// With return a child logger carrying the fields
func (l *LogInfo) With(fields ...zap.Field) *LogInfo {
	c := &LogInfo{log: l.log.With(fields...)}
	c.debugMode.Store(l.debugMode.Load())
	return c
}

// Info 輸出 INFO 級別日志
func (l *LogInfo) Info(msg string, fields ...zap.Field) {
	l.log.Info(msg, fields...)
}

// Infof log msg followed by info
func (l *LogInfo) Infof(msg string, info interface{}, fields ...zap.Field) {
	l.log.Info(fmt.Sprintf("%s %v", msg, info), fields...)
}

// Error 輸出 ERROR 級別日志
func (l *LogInfo) Error(msg string, fields ...zap.Field) {
	l.log.Error(msg, fields...)
}

// Errorf log msg with err attached as a field
func (l *LogInfo) Errorf(msg string, err error, fields ...zap.Field) {
	l.log.Error(msg, append(fields, zap.Error(err))...)
}

// Debug 輸出 DEBUG 級別日志
func (l *LogInfo) Debug(msg string, fields ...zap.Field) {
	l.log.Debug(msg, fields...)
}

// Warn 輸出 WARN 級別日志
func (l *LogInfo) Warn(msg string, fields ...zap.Field) {
	l.log.Warn(msg, fields...)
}

// Sync flush buffered entries
func (l *LogInfo) Sync() {
	if err := l.log.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "sync logger: %v\n", err)
	}
}

// Fatal log, flush and exit
func (l *LogInfo) Fatal(msg string, fields ...zap.Field) {
	l.log.Error(msg, fields...)
	l.Sync()
	os.Exit(1)
}
