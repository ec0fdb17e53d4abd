// Command edgestream runs the default 8-channel multi-stream pipeline,
// binding one MJPEG publisher per channel to ports 8090..8097 (spec.md §6
// "Multi-channel binary").
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rkvision/edgestream/internal/channel"
	"github.com/rkvision/edgestream/internal/config"
	"github.com/rkvision/edgestream/internal/publish"
	"github.com/rkvision/edgestream/internal/webassets"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[edgestream] config: %v", err)
	}

	if len(cfg.ChannelURLs) == 0 {
		log.Fatalf("[edgestream] no channel URLs configured (set EDGESTREAM_CHANNEL_0..N)")
	}

	links := make([]webassets.ChannelLink, 0, len(cfg.ChannelURLs))
	for i := range cfg.ChannelURLs {
		links = append(links, webassets.ChannelLink{ID: fmt.Sprintf("%d", i), Port: cfg.BasePort + i})
	}
	publish.SetDashboardHandler(func(w http.ResponseWriter, r *http.Request, channelID string) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		host := r.Host
		if h, _, err := net.SplitHostPort(r.Host); err == nil {
			host = h
		}
		if err := webassets.RenderDashboard(w, "multi-channel dashboard", host, links); err != nil {
			log.Printf("[edgestream] render dashboard: %v", err)
		}
	})

	labels := loadLabels(cfg.LabelPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	supervisors := make([]*channel.Supervisor, 0, len(cfg.ChannelURLs))

	for i, url := range cfg.ChannelURLs {
		opts := channel.Options{
			ID:             fmt.Sprintf("%d", i),
			URL:            url,
			Port:           cfg.BasePort + i,
			ModelPath:      cfg.ModelPath,
			Labels:         labels,
			SnapshotDir:    cfg.SnapshotDir,
			PreferHardware: cfg.PreferHardware,
			QueueCapacity:  cfg.IngressQueueCapacity,
			JPEGQuality:    cfg.JPEGQuality,
			BackoffDelay:   cfg.BackoffDelay,
			MaxFailures:    cfg.MaxConsecutiveFailures,
		}

		c, err := channel.New(opts)
		if err != nil {
			log.Printf("[edgestream] channel %d init failed, skipping: %v", i, err)
			continue
		}

		sup := channel.NewSupervisor(c)
		supervisors = append(supervisors, sup)

		wg.Add(1)
		go func(s *channel.Supervisor) {
			defer wg.Done()
			s.Run(ctx)
		}(sup)
	}

	if len(supervisors) == 0 {
		log.Fatalf("[edgestream] every channel failed to initialize, exiting")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[edgestream] shutdown signal received, stopping channels...")
	cancel()
	for _, sup := range supervisors {
		sup.StopChannel()
	}
	wg.Wait()
	log.Println("[edgestream] all channels stopped, exiting")
}

func loadLabels(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[edgestream] label file %s not found, detections will be unlabeled: %v", path, err)
		return nil
	}
	var labels []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			if line := string(data[start:i]); line != "" {
				labels = append(labels, trimCR(line))
			}
			start = i + 1
		}
	}
	if start < len(data) {
		labels = append(labels, trimCR(string(data[start:])))
	}
	return labels
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}
