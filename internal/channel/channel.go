// Package channel implements the Channel data model and Channel Supervisor
// (spec.md §3, §4.9): one end-to-end pipeline from one input URL to one
// MJPEG output port, with automatic restart on stream failure.
package channel

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rkvision/edgestream/internal/annotate"
	"github.com/rkvision/edgestream/internal/convert"
	"github.com/rkvision/edgestream/internal/decode"
	"github.com/rkvision/edgestream/internal/dmabuf"
	"github.com/rkvision/edgestream/internal/nn"
	"github.com/rkvision/edgestream/internal/publish"
	"github.com/rkvision/edgestream/internal/router"
	"github.com/rkvision/edgestream/internal/snapshot"
)

// State is the Channel Supervisor's lifecycle state (spec.md §4.9).
type State int

const (
	StateInit State = iota
	StateRunning
	StateBackoff
	StateStopping
	StateTerminated
	StateSoftwareOnly
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateRunning:
		return "Running"
	case StateBackoff:
		return "Backoff"
	case StateStopping:
		return "Stopping"
	case StateTerminated:
		return "Terminated"
	case StateSoftwareOnly:
		return "SoftwareOnly"
	default:
		return "Unknown"
	}
}

// Options configures one Channel.
type Options struct {
	ID             string
	URL            string
	Port           int
	ModelPath      string
	Labels         []string
	SnapshotDir    string
	PreferHardware bool
	QueueCapacity  int
	JPEGQuality    int
	BackoffDelay   time.Duration
	MaxFailures    int
	DisplayWidth   int
	DisplayHeight  int
	ConfThreshold  float64
	NMSThreshold   float64
}

// Channel owns every resource of one end-to-end pipeline (spec.md §3
// "Channel"). Surfaces, NN context and publisher persist across decode-loop
// restarts; only the decoder is recreated (spec.md §4.9).
type Channel struct {
	opts Options

	pool      *dmabuf.Pool
	engine    nn.Engine
	tensor    nn.TensorDescriptor
	publisher *publish.Publisher
	snapper   *snapshot.Writer

	router *router.Router
	hw     convert.Converter
	sw     convert.Converter

	stop atomic.Bool

	fpsMu       sync.Mutex
	frameTimes  []time.Time
}

// New runs spec.md §4.9 "Init": allocate surfaces, load model, init
// converters, init publisher.
func New(opts Options) (*Channel, error) {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 5
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 95
	}
	if opts.BackoffDelay <= 0 {
		opts.BackoffDelay = 2 * time.Second
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	if opts.DisplayWidth <= 0 {
		opts.DisplayWidth = 1280
	}
	if opts.DisplayHeight <= 0 {
		opts.DisplayHeight = 720
	}
	if opts.ConfThreshold <= 0 {
		opts.ConfThreshold = 0.4
	}
	if opts.NMSThreshold <= 0 {
		opts.NMSThreshold = 0.45
	}

	c := &Channel{opts: opts}

	pool, err := dmabuf.NewPool(opts.ID)
	if err != nil {
		return nil, fmt.Errorf("channel %s: surface allocation: %w", opts.ID, err)
	}
	c.pool = pool
	if pool.SoftwareOnly {
		log.Printf("[Channel:%s] surfaces allocated software-only, disabling hardware converter", opts.ID)
	}

	c.engine = newEngine()
	tensor, err := c.engine.Load(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("channel %s: model load: %w", opts.ID, err)
	}
	c.tensor = tensor

	c.sw = convert.NewSoftware()
	if !pool.SoftwareOnly {
		c.hw = convert.NewHardware()
	}
	c.router = router.New(opts.ID, pool, c.hw, c.sw)

	c.publisher = publish.New(opts.ID, opts.Port, opts.QueueCapacity, opts.JPEGQuality)
	if err := c.publisher.Start(); err != nil {
		return nil, fmt.Errorf("channel %s: publisher bind: %w", opts.ID, err)
	}

	if opts.SnapshotDir != "" {
		c.snapper = snapshot.NewWriter(opts.ID, opts.SnapshotDir)
	}

	return c, nil
}

// Stop requests the decode loop and publisher to tear down (spec.md §4.9
// "Stopping"). Idempotent.
func (c *Channel) Stop() {
	c.stop.Store(true)
}

func (c *Channel) stopped() bool {
	return c.stop.Load()
}

// Teardown releases every resource owned by the Channel. Called once, after
// the supervisor has fully stopped the decode loop.
func (c *Channel) Teardown() {
	c.publisher.Stop()
	_ = c.engine.Close()
	c.pool.Release()
}

// runDecodeLoop executes spec.md §4.2-§4.7 until the Decoder Adapter
// reports end of stream or a stream-fatal error, Stop is called, or ctx is
// cancelled. Returns nil only when Stop or ctx cancellation was observed;
// any returned error is a stream-level failure the Supervisor converts into
// a backoff-and-restart.
func (c *Channel) runDecodeLoop(ctx context.Context) error {
	adapter := decode.NewGstAdapter()
	if err := adapter.Open(c.opts.URL, c.opts.PreferHardware); err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer adapter.Close()

	log.Printf("[Channel:%s] decode loop started (hardware=%v, codec=%s)",
		c.opts.ID, adapter.UsingHardware(), adapter.Codec())

	for {
		if c.stopped() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		event := adapter.Pull()
		switch event.Kind {
		case decode.EventAgain:
			continue
		case decode.EventEnd:
			return fmt.Errorf("stream ended")
		case decode.EventError:
			if event.ErrKind == decode.ErrorKindStreamFatal {
				return fmt.Errorf("decode: %w", event.Err)
			}
			log.Printf("[Channel:%s] transient frame error: %v", c.opts.ID, event.Err)
			continue
		case decode.EventFrame:
			c.processFrame(event.Frame)
			event.Frame.Release()
		}
	}
}

func (c *Channel) processFrame(frame *decode.Frame) {
	targets := router.Targets{
		ModelW:    c.tensor.ModelWidth,
		ModelH:    c.tensor.ModelHeight,
		DisplayW:  c.opts.DisplayWidth,
		DisplayH:  c.opts.DisplayHeight,
	}

	result := c.router.Route(frame, c.opts.PreferHardware, targets)
	if !result.NNReady || !result.DisplayReady {
		return
	}

	c.pool.NN.Lock()
	nnInput := append([]byte(nil), c.pool.NN.Bytes()[:c.tensor.ModelWidth*c.tensor.ModelHeight*c.tensor.Channels]...)
	c.pool.NN.Unlock()

	outputs, err := c.engine.Infer(nnInput)
	if err != nil {
		log.Printf("[Channel:%s] inference error: %v", c.opts.ID, err)
		return
	}
	defer c.engine.Release(outputs)

	dets := nn.PostProcess(outputs, c.tensor.OutputZeroPoints, c.tensor.OutputScales, nn.PostProcessParams{
		ModelWidth:    c.tensor.ModelWidth,
		ModelHeight:   c.tensor.ModelHeight,
		DisplayWidth:  c.opts.DisplayWidth,
		DisplayHeight: c.opts.DisplayHeight,
		ConfThreshold: c.opts.ConfThreshold,
		NMSThreshold:  c.opts.NMSThreshold,
		Labels:        c.opts.Labels,
	})

	c.pool.Display.Lock()
	displayBytes := append([]byte(nil), c.pool.Display.Bytes()[:c.opts.DisplayWidth*c.opts.DisplayHeight*3]...)
	c.pool.Display.Unlock()

	now := time.Now()
	annotated, err := annotate.Draw(displayBytes, c.opts.DisplayWidth, c.opts.DisplayHeight, annotate.Overlay{
		Detections: dets,
		Timestamp:  now,
		FPS:        c.currentFPS(now),
	})
	if err != nil {
		log.Printf("[Channel:%s] annotate error: %v", c.opts.ID, err)
		return
	}

	c.publisher.Push(publish.Frame{Image: annotated, ObjectCount: len(dets)})

	if c.snapper != nil {
		for _, det := range dets {
			c.snapper.Save(annotated, det, now)
		}
	}
}

func (c *Channel) currentFPS(now time.Time) float64 {
	c.fpsMu.Lock()
	defer c.fpsMu.Unlock()

	c.frameTimes = append(c.frameTimes, now)
	cutoff := now.Add(-1 * time.Second)
	i := 0
	for i < len(c.frameTimes) && c.frameTimes[i].Before(cutoff) {
		i++
	}
	c.frameTimes = c.frameTimes[i:]
	return float64(len(c.frameTimes))
}
