package lsl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/gordian-engine/lsl/lengine"
	"github.com/gordian-engine/lsl/lnet"
)

var defaultEngine struct {
	once sync.Once
	e    *lnet.Engine
	err  error
}

// DefaultEngine returns the process-wide networked engine,
// starting it on first use.
//
// The engine reads its configuration from the file named by
// the LSLAPICFG environment variable, if set.
// It logs through [slog.Default], unless the configuration
// selects a log level other than info.
func DefaultEngine() (lengine.Engine, error) {
	defaultEngine.once.Do(func() {
		cfg, err := lnet.ConfigFromEnv()
		if err != nil {
			defaultEngine.err = fmt.Errorf("%w: %w", ErrResourceCreation, err)
			return
		}

		log := slog.Default()
		if cfg.LogLevel != slog.LevelInfo {
			log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		}

		// The default engine lives as long as the process.
		e, err := lnet.NewEngine(context.Background(), log, cfg)
		if err != nil {
			defaultEngine.err = fmt.Errorf("%w: failed to start engine: %w", ErrResourceCreation, err)
			return
		}
		defaultEngine.e = e
	})

	if defaultEngine.err != nil {
		return nil, defaultEngine.err
	}
	return defaultEngine.e, nil
}
