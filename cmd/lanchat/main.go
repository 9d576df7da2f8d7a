package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cliplugins "lanchat/internal/cli_plugins"
	"lanchat/internal/config"
	"lanchat/internal/events"
	"lanchat/internal/node"
	"lanchat/internal/storage/peerbook"
	"lanchat/internal/util/logger/handlers/slogpretty"
	"lanchat/internal/util/logger/sl"
	"lanchat/pkg/cli"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Загружаем конфигурацию
	cfg := config.MustLoad()

	shell := cli.NewCLI("lanchat", "LAN peer-to-peer chat")
	terminal := cli.NewTerminal(shell, os.Stdin, os.Stdout, cfg.UserName+"> ")

	// Настраиваем логгер
	log := setupLogger(cfg.Env, terminal)

	log.Info("starting application",
		slog.String("user", cfg.UserName),
		slog.Int("port", cfg.Port),
	)

	// Создаем контекст с отменой для graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var book node.PeerBook
	if cfg.PeerBook.Enabled {
		b, err := peerbook.New(peerbook.Config{
			DBPath:         cfg.PeerBook.Path,
			MigrationsPath: cfg.PeerBook.MigrationsPath,
		}, log)
		if err != nil {
			// без адресной книги чат работает, просто не помнит пиров
			log.Warn("peer book disabled", sl.Err(err))
		} else {
			defer b.Close()
			book = b
		}
	}

	n, err := node.New(nodeConfig(cfg), book, log)
	if err != nil {
		return fatal(terminal, log, err)
	}
	defer n.Close()

	cliplugins.RegisterAll(shell, n)

	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		for ev := range n.Events() {
			fmt.Fprintln(terminal, cliplugins.RenderEvent(ev))
		}
	}()

	if err := n.Start(ctx); err != nil {
		return fatal(terminal, log, err)
	}

	fmt.Fprintf(terminal, "%sType a message and press Enter. Commands start with %s, try %shelp.\n",
		events.SystemPrefix, cli.CommandPrefix, cli.CommandPrefix)

	inputDone := make(chan error, 1)
	go func() {
		inputDone <- terminal.Run(ctx, func(line string) {
			if cmdLine, ok := strings.CutPrefix(line, cli.CommandPrefix); ok {
				if err := shell.ExecuteLine(cmdLine, terminal); err != nil {
					fmt.Fprintf(terminal, "error: %v\n", err)
				}
				return
			}
			n.Send(line)
		})
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-inputDone:
		if err != nil {
			log.Error("terminal failed", sl.Err(err))
		}
	}

	terminal.Close()
	if err := n.Close(); err != nil {
		log.Error("failed to close peer", sl.Err(err))
	}
	<-printerDone

	log.Info("Application shutting down gracefully")
	return 0
}

func nodeConfig(cfg *config.Config) node.Config {
	return node.Config{
		UserName:         cfg.UserName,
		ListenHost:       cfg.ListenHost,
		Port:             cfg.Port,
		IdentityPath:     cfg.IdentityDB,
		HistoryDir:       cfg.HistoryDir,
		DialTimeout:      cfg.DialTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		MaxConnections:   cfg.MaxConnections,
		EventBuffer:      cfg.EventBuffer,
		ReconnectKnown:   cfg.ReconnectKnown,
		PeersFile:        cfg.PeersFile,
		Discovery: node.DiscoveryConfig{
			Enabled:          cfg.Discovery.Enabled,
			MulticastAddress: cfg.Discovery.MulticastAddress,
			AnnounceInterval: cfg.Discovery.AnnounceInterval,
			AnnounceOnStart:  cfg.Discovery.AnnounceOnStart,
		},
	}
}

func fatal(out io.Writer, log *slog.Logger, err error) int {
	log.Error("peer cannot run", sl.Err(err))
	fmt.Fprintln(out, cliplugins.RenderEvent(events.Event{
		Kind: events.KindStatus,
		Line: events.Criticalf("%v", err),
	}))
	return 1
}

func setupLogger(env string, out io.Writer) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog(out)
	case envDev:
		log = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		log = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		log = setupPrettySlog(out)
	}
	return log
}

func setupPrettySlog(out io.Writer) *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(out)

	return slog.New(handler)
}
