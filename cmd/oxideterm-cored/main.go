// Command oxideterm-cored is a thin standalone host for the
// SSH multiplexer and node router core, standing in for the Tauri IPC
// layer that embeds this core in the desktop app (spec's Non-goals
// exclude that IPC layer itself, not a way to exercise the core).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"oxideterm/internal/pool"
	"oxideterm/internal/router"
	"oxideterm/internal/session"
	"oxideterm/internal/sftpsvc"
)

// version is injected at build time, mirroring the teacher's commitSHA
// build-time variable.
var version = "dev"

const (
	defaultIdleTimeout = "10m"
	defaultLogLevel    = "info"
)

func main() {
	root := &cobra.Command{
		Use:   "oxideterm-cored",
		Short: "SSH multiplexer and node router core",
		RunE:  run,
	}

	getEnv := func(key, fallback string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fallback
	}

	root.Flags().String("idle-timeout", getEnv("OXIDETERM_IDLE_TIMEOUT", defaultIdleTimeout), "pool connection idle eviction timeout")
	root.Flags().String("log-level", getEnv("OXIDETERM_LOG_LEVEL", defaultLogLevel), "logrus level")
	root.Flags().String("bbolt-path", getEnv("OXIDETERM_STATE_DIR", "./oxideterm-state.db"), "bbolt database path for transfer progress")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	idleTimeoutStr, _ := cmd.Flags().GetString("idle-timeout")
	bboltPath, _ := cmd.Flags().GetString("bbolt-path")

	log := logrus.New()
	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	entry := log.WithField("component", "cored")

	idleTimeout, err := time.ParseDuration(idleTimeoutStr)
	if err != nil {
		return fmt.Errorf("invalid idle-timeout: %w", err)
	}

	entry.WithFields(logrus.Fields{
		"version":      version,
		"idle_timeout": idleTimeout,
	}).Info("starting oxideterm core")

	registry := pool.NewWithDialer(entry, pool.NewDialer(), idleTimeout)
	tree := session.NewTree()
	terminals := session.NewRegistry()
	emitter := router.NewEmitter(entry)
	rtr := router.New(entry, tree, registry, terminals, emitter)

	var progress *sftpsvc.ProgressStore
	progress, err = sftpsvc.OpenProgressStore(bboltPath)
	if err != nil {
		entry.WithError(err).Warn("failed to open transfer progress store, continuing without persistence")
		progress = nil
	} else {
		defer progress.Close()
	}

	sftpManager := sftpsvc.NewManager(entry, rtr, registry)
	transferManager := sftpsvc.NewTransferManager(4, 0, progress)
	_, _ = sftpManager, transferManager

	// Port forwarding managers are created per connection once a pool
	// entry exists (forward.NewManager needs that entry's controller
	// and forwarded-tcpip channel); an IPC frontend wires one up per
	// connect, mirroring how sftpsvc.Manager.Acquire is itself lazy.

	entry.Info("core wired: pool, router, sftp session + transfer managers all live; awaiting an IPC frontend")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	entry.Info("shutting down")
	for _, e := range registry.List() {
		registry.Disconnect(e.ConnectionID)
	}
	return nil
}
