package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/docrelay/relay/internal/syncclient"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type clientOptions struct {
	host  string
	docID string
}

func newRootCommand() *cobra.Command {
	opts := &clientOptions{
		host: envOrDefault("RELAY_HOST", "localhost:8080"),
	}

	cmd := &cobra.Command{
		Use:   "relayclient --doc <docId>",
		Short: "Connect to a relayd replica and sync a document from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.docID == "" {
				return fmt.Errorf("relayclient: --doc is required")
			}

			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", opts.host, "relayd host:port")
	flags.StringVar(&opts.docID, "doc", "", "document id to sync (required)")

	return cmd
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func run(ctx context.Context, opts *clientOptions) error {
	log := logrus.New()

	dialURL := (&url.URL{
		Scheme:   "ws",
		Host:     opts.host,
		Path:     "/ws",
		RawQuery: "docId=" + url.QueryEscape(opts.docID),
	}).String()

	client := syncclient.New(opts.docID, dialURL, log, syncclient.WithRemoteApplier(func(text string) {
		fmt.Printf("\n[remote] %s\n> ", text)
	}))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("sync loop exited")
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		client.Edit(scanner.Text())
		fmt.Print("> ")
	}

	return scanner.Err()
}
