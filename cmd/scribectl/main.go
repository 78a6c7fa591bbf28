package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	addr    string
	timeout time.Duration
}

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "scribectl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "scribectl",
		Short:         "Control a running tabscribe daemon",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	defaultAddr := os.Getenv("SCRIBE_BIND_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:8787"
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", defaultAddr, "daemon address (host:port)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "how long to wait for a reply")

	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newStartCmd(opts))
	root.AddCommand(newStopCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newPlayCmd(opts))
	root.AddCommand(newWatchCmd(opts))
	return root
}
