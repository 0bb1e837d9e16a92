package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

// Options controls where and how verbosely the service logs.
type Options struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level"`
	// File, when set, receives a rotated copy of every entry besides stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
}

// InitProduction initializes a JSON production logger (called by main).
func InitProduction() error {
	return Init(Options{})
}

// InitDevelopment initializes a console logger that is friendlier to read.
func InitDevelopment() error {
	return Init(Options{Development: true})
}

// Init builds a logger from opts and installs it as the zap global.
func Init(opts Options) error {
	l, err := build(opts)
	if err != nil {
		return err
	}
	setLogger(l)
	return nil
}

func build(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if opts.Level != "" {
		lvl, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	if opts.File == "" {
		return cfg.Build()
	}

	var enc zapcore.Encoder
	if opts.Development {
		enc = zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	} else {
		enc = zapcore.NewJSONEncoder(cfg.EncoderConfig)
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	})
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), cfg.Level),
		zapcore.NewCore(enc, rotated, cfg.Level),
	)
	return zap.New(core, zap.AddCaller()), nil
}

// setLogger replaces the zap globals so zap.L()/zap.S() return the same instance.
func setLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	zap.ReplaceGlobals(l)
	if log != nil {
		_ = log.Sync()
	}
	log = l
	sugar = l.Sugar()
}

// Log returns a non-nil *zap.Logger.
func Log() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		return log
	}
	// not initialized yet, fall back to the zap global (possibly a no-op)
	return zap.L()
}

// S returns a non-nil *zap.SugaredLogger.
func S() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	if sugar != nil {
		return sugar
	}
	return zap.S()
}

// Sync flushes buffered entries.
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}
