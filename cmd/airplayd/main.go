// Command airplayd runs a standalone AirPlay 1 (video) receiver: a control
// connection listener, pairing/verification, HLS playlist rewriting, and
// the renderer/advertiser collaborator boundaries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashwilson/go-airplay/internal/airplay/server"
	"github.com/ashwilson/go-airplay/internal/logger"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	srv, err := server.New(server.Config{
		ListenAddr:    cfg.listenAddr,
		Name:          cfg.name,
		DeviceID:      cfg.deviceID,
		Model:         cfg.model,
		SourceVersion: cfg.sourceVersion,
		KeyFile:       cfg.keyFile,
		Password:      cfg.password,
	})
	if err != nil {
		log.Error("failed to construct server", "err", err.Error())
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		log.Error("failed to start server", "err", err.Error())
		os.Exit(1)
	}
	log.Info("server started", "addr", srv.Addr().String(), "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := srv.Stop(); err != nil {
			log.Error("server stop error", "err", err.Error())
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
