// Package app provides the knowledge-base server application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/kart-io/logger"
	"github.com/spf13/viper"

	"github.com/kart-io/knowledge-base/cmd/kb-server/app/options"
	kbsvc "github.com/kart-io/knowledge-base/internal/kb"
	"github.com/kart-io/knowledge-base/pkg/infra/app"
)

// commandDesc is the description of the command.
const commandDesc = `Knowledge Base Service

A bilingual (English / Tamil) retrieval-augmented knowledge base.

This server provides:
  - Asynchronous document ingestion into per-category vector indexes
  - Semantic search across one or all categories
  - Grounded answers with sources, in the requested language
  - Whole-category reindexing with atomic generation swaps
  - Document, category and usage statistics`

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	return app.NewApp(
		app.WithName(kbsvc.Name),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithConfigChangeFunc(onConfigChange(opts)),
		app.WithRunFunc(run(opts)),
	)
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := setupSignalContext()

		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		return server.Run(ctx)
	}
}

// onConfigChange applies the settings that can change without a restart.
// Only the log level is hot-reloaded.
func onConfigChange(opts *options.ServerOptions) app.ConfigChangeFunc {
	return func(v *viper.Viper, e fsnotify.Event) {
		level := v.GetString("log.level")
		if level == "" {
			return
		}
		if err := opts.LogOptions.SetLevel(level); err != nil {
			logger.Warnw("failed to apply log level from config", "file", e.Name, "error", err.Error())
		}
	}
}

// setupSignalContext returns a context that is cancelled on SIGINT or SIGTERM.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
