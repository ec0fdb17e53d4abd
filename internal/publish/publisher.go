package publish

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	boundary   = "mjpegstream"
	streamFPS  = 30
	streamTick = time.Second / streamFPS
)

// Publisher is one channel's MJPEG Publisher (spec.md §4.8): ingress queue,
// encoder goroutine, and HTTP server, all bound to one TCP port.
type Publisher struct {
	channelID  string
	port       int
	quality    int
	queue      *ingressQueue

	mu         sync.RWMutex
	latestJPEG []byte

	server   *http.Server
	listener net.Listener

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	framesEncoded   atomic.Int64
	clientsActive   atomic.Int64
	encodeMillisSum atomic.Int64
	encodeCount     atomic.Int64
}

// New builds an idle Publisher; call Start to bind the port and begin
// encoding.
func New(channelID string, port, queueCapacity, quality int) *Publisher {
	if queueCapacity <= 0 {
		queueCapacity = 5
	}
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	return &Publisher{
		channelID: channelID,
		port:      port,
		quality:   quality,
		queue:     newIngressQueue(queueCapacity),
		stopCh:    make(chan struct{}),
	}
}

// Push admits an annotated frame (spec.md §4.8 contract "push"). Never
// blocks: the ingress queue drops the oldest frame instead.
func (p *Publisher) Push(frame Frame) {
	p.queue.Push(frame)
}

// Start binds the listen socket and launches the encoder and HTTP accept
// goroutines.
func (p *Publisher) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", p.port))
	if err != nil {
		return fmt.Errorf("publish: listen on port %d: %w", p.port, err)
	}
	p.listener = listener
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		p.port = tcpAddr.Port
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mjpeg", p.handleMJPEG)
	mux.HandleFunc("/stream", p.handleMJPEG)
	mux.HandleFunc("/stats", p.handleStats)
	mux.HandleFunc("/multi", p.handleMulti)
	mux.HandleFunc("/", p.handleIndex)

	p.server = &http.Server{Handler: mux}

	p.wg.Add(2)
	go p.encodeLoop()
	go func() {
		defer p.wg.Done()
		if err := p.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[Publisher:%s] serve error: %v", p.channelID, err)
		}
	}()

	log.Printf("[Publisher:%s] listening on port %d", p.channelID, p.port)
	return nil
}

// Stop is a two-step teardown per spec.md §4.8 "Concurrency contract": set
// should_stop, close the listen socket, wake the queue, join threads.
// Idempotent.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.queue.Close()
		if p.server != nil {
			_ = p.server.Close()
		}
		p.wg.Wait()
	})
}

// Port reports the bound TCP port, stable across repeated Start/Stop cycles
// since the caller always supplies the same configured port.
func (p *Publisher) Port() int { return p.port }

func (p *Publisher) encodeLoop() {
	defer p.wg.Done()
	for {
		frame, ok := p.queue.PopLatest()
		if !ok {
			return
		}

		start := time.Now()
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: p.quality}); err != nil {
			log.Printf("[Publisher:%s] jpeg encode: %v", p.channelID, err)
			continue
		}
		elapsed := time.Since(start)

		p.mu.Lock()
		p.latestJPEG = buf.Bytes()
		p.mu.Unlock()

		p.framesEncoded.Add(1)
		p.encodeMillisSum.Add(elapsed.Milliseconds())
		p.encodeCount.Add(1)
	}
}

func (p *Publisher) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	p.clientsActive.Add(1)
	defer p.clientsActive.Add(-1)

	ticker := time.NewTicker(streamTick)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			jpg := p.latestJPEG
			p.mu.RUnlock()
			if jpg == nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpg)); err != nil {
				return
			}
			if _, err := w.Write(jpg); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type statsResponse struct {
	Status        string  `json:"status"`
	Clients       int64   `json:"clients"`
	FramesEncoded int64   `json:"frames_encoded"`
	FramesDropped int64   `json:"frames_dropped"`
	FramesPushed  int64   `json:"frames_pushed"`
	AvgEncodeMs   float64 `json:"avg_encode_ms"`
	FPS           float64 `json:"fps"`
}

func (p *Publisher) handleStats(w http.ResponseWriter, r *http.Request) {
	pushed, dropped := p.queue.Counters()
	encoded := p.framesEncoded.Load()

	var avgMs float64
	if n := p.encodeCount.Load(); n > 0 {
		avgMs = float64(p.encodeMillisSum.Load()) / float64(n)
	}
	var fps float64
	if avgMs > 0 {
		fps = 1000.0 / avgMs
	}

	resp := statsResponse{
		Status:        "running",
		Clients:       p.clientsActive.Load(),
		FramesEncoded: encoded,
		FramesDropped: dropped,
		FramesPushed:  pushed,
		AvgEncodeMs:   avgMs,
		FPS:           fps,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleMulti and handleIndex are wired up to the webassets dashboard
// templates through SetDashboardHandler (called by cmd/edgestream), which
// injects the full port list this Publisher alone doesn't know about; the
// zero-value handlers here serve a minimal fallback page so /multi and /
// never 404 on a Publisher started outside that wiring (e.g. in tests).
var dashboardHandler func(w http.ResponseWriter, r *http.Request, channelID string)

// SetDashboardHandler installs the shared dashboard renderer used for both
// /multi and the default index route.
func SetDashboardHandler(h func(w http.ResponseWriter, r *http.Request, channelID string)) {
	dashboardHandler = h
}

func (p *Publisher) handleMulti(w http.ResponseWriter, r *http.Request) {
	if dashboardHandler != nil {
		dashboardHandler(w, r, p.channelID)
		return
	}
	fmt.Fprintf(w, "<html><body><h1>edgestream channel %s</h1></body></html>", p.channelID)
}

func (p *Publisher) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	p.handleMulti(w, r)
}
