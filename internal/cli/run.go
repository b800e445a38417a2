// Package cli routes the localhosted binary's subcommands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/krishna3006b/localhosted-tunnel-server/internal/client"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/config"
	ilog "github.com/krishna3006b/localhosted-tunnel-server/internal/log"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/registry"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/server"
)

// Run dispatches the CLI and returns the process exit code.
func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		return runServer(ctx, nil)
	}

	switch args[0] {
	case "server":
		return runServer(ctx, args[1:])
	case "client":
		return runClient(ctx, args[1:])
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		return 2
	}
}

func runServer(ctx context.Context, args []string) int {
	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel, cfg.Env)

	reg := registry.New(logger)
	srv := server.New(cfg, reg, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited", "err", err)
		return 1
	}
	return 0
}

func runClient(ctx context.Context, args []string) int {
	cfg, err := config.ParseClientFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "client config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel, "")

	cl := client.New(cfg, logger)
	if err := cl.Run(ctx); err != nil {
		logger.Error("client exited", "err", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprint(os.Stderr, `localhosted - reverse-tunnel relay

Usage:
  localhosted server [flags]   Run the relay server (PORT, DOMAIN, NODE_ENV)
  localhosted client [flags]   Expose a local HTTP server through a relay

Run 'localhosted <command> -h' for command flags.
`)
}
