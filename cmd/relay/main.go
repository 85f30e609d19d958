package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-relay/guard"
	"chat-relay/internal"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/storage"
	"chat-relay/transport/httpapi"
	"chat-relay/transport/tcpline"
	"chat-relay/transport/wsframe"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so deferred cleanup (database close) always
// executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	config, err := internal.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Engine: registry, history, snapshot stores
	noise, err := guard.NewNoiseDetector()
	if err != nil {
		return fmt.Errorf("noise detector: %w", err)
	}
	registry := runtime.NewRegistry(true, noise.Reject)
	history := runtime.NewHistory()
	engine := runtime.NewEngine(log, registry, history,
		repositories.NewSnapshotRepository(db, log),
		storage.NewLogDir(config.LogDir, log),
	)

	// 4. Listeners are bound here so a port conflict is fatal at startup
	tcpListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", config.Host, config.TCPPort))
	if err != nil {
		return fmt.Errorf("tcp listen: %w", err)
	}
	wsListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", config.Host, config.WSPort))
	if err != nil {
		return fmt.Errorf("ws listen: %w", err)
	}
	httpListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", config.Host, config.HTTPPort))
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	// 5. Supervision: transports and periodic tasks under one supervisor
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		tcpline.NewServer(log, engine, tcpListener,
			config.HandshakeTimeout, config.WriteTimeout, config.OutboundQueueSize),
		wsframe.NewServer(log, engine, wsListener,
			config.HandshakeTimeout, config.WriteTimeout, config.OutboundQueueSize),
		httpapi.NewServer(log, engine, httpListener),
		workers.NewCompactionWorker(log, engine, config.CompactionInterval),
		workers.NewSweeperWorker(log, engine, config.SweepInterval, config.SessionTimeout),
	)

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	// 7. Final Cleanup: notify clients, close sessions, wait for workers
	engine.Shutdown()
	sup.Stop()
	<-done

	if err := engine.SaveSnapshot(false); err != nil {
		log.Error("final snapshot failed", "error", err)
	}
	log.Info("Program stopped cleanly")
	return nil
}
