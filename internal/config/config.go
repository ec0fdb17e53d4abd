// Package config loads edgestream's runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration needed to run one or more channels.
type Config struct {
	// Channel sources, in order. For the multi-channel binary these come from
	// EDGESTREAM_CHANNEL_0..N env vars; the single-channel binary overrides this
	// with its single positional argument.
	ChannelURLs []string

	// BasePort is the first of the contiguous block of ports channels bind to
	// (channel i binds BasePort+i).
	BasePort int

	// ModelPath is the RKNN model file path; LabelPath is the newline-delimited
	// class label file for post-process.
	ModelPath string
	LabelPath string

	// SnapshotDir is where "./detections/" crops are written.
	SnapshotDir string

	// PreferHardware toggles RGA/MPP hardware acceleration attempts; false forces
	// every channel through the software decode/convert path.
	PreferHardware bool

	// IngressQueueCapacity bounds the MJPEG publisher's per-channel frame queue.
	IngressQueueCapacity int

	// JPEGQuality is passed to the JPEG encoder (display path), ~95 per spec.
	JPEGQuality int

	// BackoffDelay and MaxConsecutiveFailures drive the channel supervisor's
	// Backoff state (spec: sleep 2s, terminate after 5 consecutive failures).
	BackoffDelay            time.Duration
	MaxConsecutiveFailures  int

	// TargetFPS holds the MJPEG stream rate (default 30). No component reads
	// it: the publisher's multipart writer paces at its own fixed 30fps.
	TargetFPS int
}

// defaults mirror the fixed capacities in spec.md §6.
const (
	defaultBasePort             = 8090
	defaultIngressQueueCapacity = 5
	defaultJPEGQuality          = 95
	defaultBackoffDelay         = 2 * time.Second
	defaultMaxFailures          = 5
	defaultTargetFPS            = 30
	defaultSnapshotDir          = "./detections"
)

// Load reads configuration from the process environment, optionally after
// loading a .env file if present (godotenv.Load is a no-op error when the file
// is missing — this mirrors relay/cmd/relay/main.go's optional .env loading).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Absence of a .env file is not an error; only log-worthy in callers.
		_ = err
	}

	cfg := &Config{
		BasePort:               defaultBasePort,
		SnapshotDir:             defaultSnapshotDir,
		PreferHardware:          true,
		IngressQueueCapacity:    defaultIngressQueueCapacity,
		JPEGQuality:             defaultJPEGQuality,
		BackoffDelay:            defaultBackoffDelay,
		MaxConsecutiveFailures:  defaultMaxFailures,
		TargetFPS:               defaultTargetFPS,
	}

	var errs []string

	cfg.ModelPath = os.Getenv("EDGESTREAM_MODEL_PATH")
	if cfg.ModelPath == "" {
		cfg.ModelPath = "./models/yolov5s.rknn"
	}
	cfg.LabelPath = os.Getenv("EDGESTREAM_LABEL_PATH")
	if cfg.LabelPath == "" {
		cfg.LabelPath = "./models/coco_labels.txt"
	}

	if v := os.Getenv("EDGESTREAM_SNAPSHOT_DIR"); v != "" {
		cfg.SnapshotDir = v
	}

	if v := os.Getenv("EDGESTREAM_BASE_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("EDGESTREAM_BASE_PORT must be an integer, got %q", v))
		} else {
			cfg.BasePort = p
		}
	}

	if v := os.Getenv("EDGESTREAM_PREFER_HARDWARE"); v != "" {
		cfg.PreferHardware = v == "1" || strings.EqualFold(v, "true")
	}

	if v := os.Getenv("EDGESTREAM_QUEUE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Sprintf("EDGESTREAM_QUEUE_CAPACITY must be a positive integer, got %q", v))
		} else {
			cfg.IngressQueueCapacity = n
		}
	}

	if v := os.Getenv("EDGESTREAM_JPEG_QUALITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			errs = append(errs, fmt.Sprintf("EDGESTREAM_JPEG_QUALITY must be 1-100, got %q", v))
		} else {
			cfg.JPEGQuality = n
		}
	}

	// Channel URLs: EDGESTREAM_CHANNEL_0 .. EDGESTREAM_CHANNEL_7 are all
	// checked (multi-channel default of 8, per spec.md §6), and missing slots
	// among them are skipped, not errors. From EDGESTREAM_CHANNEL_8 on (up to
	// _63), reading stops at the first missing slot.
	for i := 0; i < 64; i++ {
		key := fmt.Sprintf("EDGESTREAM_CHANNEL_%d", i)
		v := os.Getenv(key)
		if v == "" {
			if i >= 8 {
				break
			}
			continue
		}
		cfg.ChannelURLs = append(cfg.ChannelURLs, v)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}
