// Package log builds the zap loggers used by the node and its modules.
package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EncoderConsole = "console"
	EncoderJSON    = "json"
)

// Config is the logging configuration.
type Config struct {
	// Level is the default level of every module.
	Level string `mapstructure:"level"`
	// Encoder is either "console" or "json".
	Encoder string `mapstructure:"encoder"`
	// Modules overrides the level of the named modules.
	Modules map[string]string `mapstructure:"modules"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Encoder: EncoderConsole,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Encoder {
	case EncoderConsole, EncoderJSON:
	default:
		return fmt.Errorf("unknown log encoder %q", c.Encoder)
	}
	for module, lvl := range c.Modules {
		if _, err := zapcore.ParseLevel(lvl); err != nil {
			return fmt.Errorf("module %s: %w", module, err)
		}
	}
	return nil
}

// New creates the process logger writing to w, os.Stdout if w is nil.
func New(cfg Config, w io.Writer) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stdout
	}
	level, _ := zapcore.ParseLevel(cfg.Level)
	var encoder zapcore.Encoder
	switch cfg.Encoder {
	case EncoderJSON:
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	// the core logs everything, levels are applied per module
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zapcore.DebugLevel)
	return zap.New(core).WithOptions(withLevel(zap.NewAtomicLevelAt(level))), nil
}

// Module returns the named logger of a module, using the level configured for the
// module if there is one.
func Module(logger *zap.Logger, cfg Config, name string) *zap.Logger {
	logger = logger.Named(name)
	lvl, ok := cfg.Modules[name]
	if !ok {
		return logger
	}
	level, err := zapcore.ParseLevel(lvl)
	if err != nil {
		return logger
	}
	return logger.WithOptions(withLevel(zap.NewAtomicLevelAt(level)))
}

func withLevel(level zap.AtomicLevel) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		// unwrap so that a module level can be lower than the default one
		if c, ok := core.(*coreWithLevel); ok {
			core = c.Core
		}
		return &coreWithLevel{Core: core, lvl: level}
	})
}

type coreWithLevel struct {
	zapcore.Core
	lvl zap.AtomicLevel
}

func (c *coreWithLevel) Enabled(level zapcore.Level) bool {
	return c.lvl.Enabled(level)
}

func (c *coreWithLevel) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.lvl.Enabled(e.Level) {
		return ce
	}
	return ce.AddCore(e, c.Core)
}

func (c *coreWithLevel) With(fields []zapcore.Field) zapcore.Core {
	return &coreWithLevel{Core: c.Core.With(fields), lvl: c.lvl}
}
