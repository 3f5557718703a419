package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelEnvVar overrides the level of the default logger.
const LevelEnvVar = "EMBEDDED_VALKEY_LOG_LEVEL"

// Default builds the production zap logger used when callers don't supply one.
// It panics if the logger can't be constructed, which only happens with a broken level string.
func Default(name string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if lvl := os.Getenv(LevelEnvVar); lvl != "" {
		parsed, err := zapcore.ParseLevel(lvl)
		if err != nil {
			panic(fmt.Sprintf("parsing %s=%q: %s", LevelEnvVar, lvl, err))
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("error constructing default logger: %s", err))
	}
	return logger.Sugar().Named(name)
}
