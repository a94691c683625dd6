package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// log is the global zap logger instance
var log = zap.NewNop()

// Config holds logger configuration
type Config struct {
	Debug bool
}

// Initialize builds the global logger. Debug switches to the development
// encoder and lowers the level to Debug.
func Initialize(cfg Config) error {
	var zapConfig zap.Config
	if cfg.Debug {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	built, err := zapConfig.Build()
	if err != nil {
		return err
	}
	log = built
	return nil
}

// Default returns the global logger
func Default() *zap.Logger {
	return log
}

// Sync flushes any buffered log entries
func Sync() {
	_ = log.Sync()
}

func Debug(msg string, fields ...zap.Field) {
	log.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	log.Warn(msg, fields...)
}

// Error logs an error message
func Error(err error, fields ...zap.Field) {
	if err != nil {
		log.Error(err.Error(), fields...)
	} else {
		log.Error("error occurred", fields...)
	}
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	log.Fatal(msg, fields...)
}
