// Command edgestream-single runs one channel against a single stream URL
// given on the command line (spec.md §6 "Single-channel binary").
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rkvision/edgestream/internal/channel"
	"github.com/rkvision/edgestream/internal/config"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <stream_url>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	url := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[edgestream-single] config: %v", err)
	}

	opts := channel.Options{
		ID:             "0",
		URL:            url,
		Port:           cfg.BasePort,
		ModelPath:      cfg.ModelPath,
		SnapshotDir:    cfg.SnapshotDir,
		PreferHardware: cfg.PreferHardware,
		QueueCapacity:  cfg.IngressQueueCapacity,
		JPEGQuality:    cfg.JPEGQuality,
		BackoffDelay:   cfg.BackoffDelay,
		MaxFailures:    cfg.MaxConsecutiveFailures,
	}

	c, err := channel.New(opts)
	if err != nil {
		log.Fatalf("[edgestream-single] channel init failed: %v", err)
	}

	sup := channel.NewSupervisor(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Println("[edgestream-single] shutdown signal received")
		cancel()
		sup.StopChannel()
		<-done
	case <-done:
	}

	if sup.State() == channel.StateTerminated {
		os.Exit(0)
	}
}
