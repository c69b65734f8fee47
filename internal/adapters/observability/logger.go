package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var levelStrings = map[string]zapcore.Level{
	"debug": zap.DebugLevel,
	"info":  zap.InfoLevel,
	"warn":  zap.WarnLevel,
	"error": zap.ErrorLevel,
}

// ParseLevel maps a config level name to a zap level. An empty name means
// info.
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zap.InfoLevel, nil
	}
	level, ok := levelStrings[strings.ToLower(name)]
	if !ok {
		return zap.InfoLevel, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}

// NewLogger builds a human readable console logger on stderr.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(lvl),
	)
	return zap.New(core), nil
}
