package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ChamsBouzaiene/dodochat/internal/chat"
	"github.com/ChamsBouzaiene/dodochat/internal/config"
	"github.com/ChamsBouzaiene/dodochat/internal/providers"
	"github.com/ChamsBouzaiene/dodochat/internal/session"
)

// runtimeEnv is everything a front-end needs: the loaded configuration, the
// chat service and the process logger.
type runtimeEnv struct {
	Config  *config.Config
	Manager *config.Manager
	Chat    *chat.Service
	Log     *logrus.Logger

	watcher *config.Watcher
	logFile io.Closer

	mu sync.Mutex
	// onReload, when set, is told about reloads triggered by file changes.
	onReload func(*config.Config)
}

// OnReload registers fn for reloads triggered by file changes.
func (r *runtimeEnv) OnReload(fn func(*config.Config)) {
	r.mu.Lock()
	r.onReload = fn
	r.mu.Unlock()
}

func (r *runtimeEnv) Close() {
	if r.watcher != nil {
		if err := r.watcher.Stop(); err != nil {
			r.Log.WithError(err).Warn("failed to stop config watcher")
		}
	}
	if r.logFile != nil {
		_ = r.logFile.Close()
	}
}

// prepareRuntimeEnv loads the configuration and wires the chat service. quiet
// keeps logs off stderr, for the interactive chat.
func prepareRuntimeEnv(flags *rootFlags, quiet bool) (*runtimeEnv, error) {
	mgr, err := config.NewManager(flags.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logger, logFile, err := newLogger(cfg.Log, flags.logLevel, quiet)
	if err != nil {
		return nil, err
	}

	reg, err := cfg.Registry()
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionDefaults())
	svc := chat.NewService(reg, providers.NewLLMClient, sessions, logger)

	env := &runtimeEnv{
		Config:  cfg,
		Manager: mgr,
		Chat:    svc,
		Log:     logger,
		logFile: logFile,
	}

	fields := logrus.Fields{"models": reg.Len(), "default_model": reg.Default().ID}
	if cfg.Path != "" {
		fields["config"] = cfg.Path
		w, err := config.NewWatcher(mgr, cfg.Path, env.fileChanged, logger)
		if err != nil {
			logger.WithError(err).Warn("config hot reload disabled")
		} else if err := w.Start(); err != nil {
			logger.WithError(err).Warn("config hot reload disabled")
		} else {
			env.watcher = w
		}
	}
	logger.WithFields(fields).Info("configuration loaded")
	return env, nil
}

// applyReload swaps in a reloaded configuration. Logging and server settings
// need a restart; models and session defaults apply at once.
func (r *runtimeEnv) applyReload(cfg *config.Config) error {
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	r.Chat.Sessions().SetDefaults(cfg.SessionDefaults())
	r.Chat.SwapRegistry(reg)
	return nil
}

func (r *runtimeEnv) fileChanged(cfg *config.Config) {
	if err := r.applyReload(cfg); err != nil {
		r.Log.WithError(err).Error("config reload rejected")
		return
	}
	r.mu.Lock()
	fn := r.onReload
	r.mu.Unlock()
	if fn != nil {
		fn(cfg)
	}
}

// reload re-reads the configuration on request.
func (r *runtimeEnv) reload() error {
	cfg, err := r.Manager.Load()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	return r.applyReload(cfg)
}
