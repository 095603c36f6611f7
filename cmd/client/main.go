// Package main runs the heartline session shell: one tab of the dating app
// driven from the terminal.
package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/client/app"
	"github.com/atinyakov/heartline/internal/config"
	"github.com/atinyakov/heartline/internal/logger"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	options := config.Parse()

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := app.NewEnv(ctx, options, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot init client", zap.Error(err))
	}
	defer func() { _ = env.Close() }()

	shell, err := app.NewShell(ctx, env, "/")
	if err != nil {
		zapLogger.Fatal("cannot open session", zap.Error(err))
	}
	defer shell.Close()

	repl(ctx, shell, os.Stdin, os.Stdout, int(os.Stdin.Fd()))
}
