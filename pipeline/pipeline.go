// Package pipeline - Gates camera frames into the detection provider, one at a time.
package pipeline

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvr-ai/chroma/decoder"
	"github.com/nvr-ai/chroma/inference"
	"github.com/nvr-ai/chroma/logging"
	"github.com/pkg/errors"
)

// Frame is a single frame of video.
type Frame struct {
	// Timestamp increases by one for every submitted frame, dropped or not.
	Timestamp int64
	Image     image.Image
	Received  time.Time
}

// Result is the outcome of a completed detection.
type Result struct {
	Frame      Frame
	Detections []decoder.Detection
	Latency    time.Duration
}

// Detector is the detection provider a pipeline feeds.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]decoder.Detection, error)
}

// Sink receives completed results on the detection goroutine.
type Sink interface {
	Consume(r Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r Result)

// Consume calls f.
func (f SinkFunc) Consume(r Result) {
	f(r)
}

// Stats counts frames by outcome.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Completed uint64 `json:"completed"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout bounds each detection.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// Pipeline keeps at most one detection in flight. Frames submitted while a detection
// is running are dropped, not queued, so results always describe a recent frame.
type Pipeline struct {
	ctx      context.Context
	detector Detector
	sink     Sink
	timeout  time.Duration
	logger   logging.Logger

	busy      atomic.Bool
	timestamp atomic.Int64

	submitted atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	completed atomic.Uint64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a pipeline. Detections run with ctx, so canceling it aborts the
// in-flight detection.
//
// Arguments:
//   - ctx: The parent context of every detection.
//   - detector: The detection provider.
//   - sink: Receives successful results.
//   - opts: Optional settings.
//
// Returns:
//   - *Pipeline: The pipeline.
func New(ctx context.Context, detector Detector, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		ctx:      ctx,
		detector: detector,
		sink:     sink,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrNop(p.logger)
	return p
}

// Submit stamps img and starts detecting it unless a detection is already in flight.
//
// Arguments:
//   - img: The frame.
//
// Returns:
//   - Frame: The stamped frame.
//   - bool: True if the frame was accepted, false if it was dropped.
func (p *Pipeline) Submit(img image.Image) (Frame, bool) {
	frame := Frame{
		Timestamp: p.timestamp.Add(1),
		Image:     img,
		Received:  time.Now(),
	}
	p.submitted.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.ctx.Err() != nil || !p.busy.CompareAndSwap(false, true) {
		p.dropped.Add(1)
		return frame, false
	}

	p.wg.Add(1)
	go p.run(frame)
	return frame, true
}

func (p *Pipeline) run(frame Frame) {
	defer p.wg.Done()
	defer p.busy.Store(false)

	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	dets, err := p.detector.Detect(ctx, frame.Image)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warnw("detection failed, skipping frame",
			"timestamp", frame.Timestamp,
			"transient", errors.Is(err, inference.ErrTransient),
			"error", err)
		return
	}

	p.completed.Add(1)
	if p.sink != nil {
		p.sink.Consume(Result{Frame: frame, Detections: dets, Latency: time.Since(start)})
	}
}

// Busy reports whether a detection is in flight.
func (p *Pipeline) Busy() bool {
	return p.busy.Load()
}

// Stats returns the frame counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
		Completed: p.completed.Load(),
	}
}

// Close stops accepting frames and waits for the in-flight detection to finish.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
