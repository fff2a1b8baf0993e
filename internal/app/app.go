package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"mouse/internal/config"
	"mouse/internal/core"
	"mouse/internal/logging"
	"mouse/internal/paths"
	"mouse/internal/storage"
	"mouse/internal/storage/sqlite"
)

// App represents the application context
type App struct {
	Storage storage.Storage
	Config  *config.Config
	Logger  *slog.Logger
	Paths   *Paths

	logCloser io.Closer
}

// Paths are the files the application was opened with
type Paths struct {
	Config string
	DB     string
	Log    string // empty unless file logging was requested
}

// Options come from the root command's persistent flags
type Options struct {
	ConfigPath string
	DBPath     string
	LogLevel   string
	Verbose    bool
	LogToFile  bool
}

// New creates a new application instance
func New(opts Options) (*App, error) {
	p := &Paths{Config: opts.ConfigPath, DB: opts.DBPath}
	var err error

	if p.Config == "" {
		if p.Config, err = paths.ConfigFile(); err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
	}
	cfg, err := config.Load(p.Config)
	if err != nil {
		return nil, err
	}

	level := opts.LogLevel
	if level == "" {
		level = cfg.Log.Level
	}
	logOpts := logging.Options{Level: level, Verbose: opts.Verbose}
	if opts.LogToFile {
		if p.Log, err = paths.LogFile(); err != nil {
			return nil, fmt.Errorf("failed to get cache directory: %w", err)
		}
		logOpts.File = p.Log
	}
	logger, closer, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}
	if p.Log != "" {
		paths.ChownToRealUser(p.Log)
	}

	if p.DB == "" {
		if p.DB, err = paths.DBFile(); err != nil {
			closer.Close()
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
	}
	store, err := sqlite.New(p.DB)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	paths.ChownToRealUser(p.DB)

	app := &App{
		Storage:   store,
		Config:    cfg,
		Logger:    logger,
		Paths:     p,
		logCloser: closer,
	}

	// Close sessions left open by a previous crash.
	n, err := core.RecoverStale(context.Background(), store)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to recover stale sessions: %w", err)
	}
	if n > 0 {
		logger.Info("closed stale sessions", "count", n)
	}

	return app, nil
}

// Close closes the application and releases resources
func (a *App) Close() error {
	var err error
	if a.Storage != nil {
		err = a.Storage.Close()
	}
	if a.logCloser != nil {
		if cerr := a.logCloser.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
