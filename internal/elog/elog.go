// Package elog provides the module-scoped logger used throughout the mesh
// runtime. Every package that logs declares its own logger at package scope,
// the same shape the teacher uses for log.NewModuleLogger(...).
package elog

import (
	"os"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base = newBase()

func newBase() *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if isTTY() {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(colorable.NewColorableStdout()), zap.InfoLevel)
	return zap.New(core, zap.AddCaller())
}

func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// New returns a logger scoped to the given component name, e.g. "coordinator"
// or "sandbox".
func New(component string) *zap.SugaredLogger {
	return base.Sugar().With("component", component)
}

// SetLevel adjusts the global minimum log level; used by config at boot.
func SetLevel(level string) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return
	}
	base = base.WithOptions(zap.IncreaseLevel(lvl))
}
