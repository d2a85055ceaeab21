// Package inference - Detection providers: local model execution and remote services.
package inference

import (
	"context"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/nvr-ai/chroma/config"
	"github.com/nvr-ai/chroma/decoder"
	"github.com/nvr-ai/chroma/logging"
	"github.com/nvr-ai/chroma/remote"
	"github.com/pkg/errors"
)

// ErrTransient marks failures that only cost the current frame.
var ErrTransient = remote.ErrTransient

// Engine is a detection provider. A local engine reports boxes in network input pixels,
// a remote engine in the pixels of the uploaded image.
type Engine interface {
	Detect(ctx context.Context, img image.Image) ([]decoder.Detection, error)
	Close() error
}

// LocalEngine runs the model in-process and decodes its raw output grid.
type LocalEngine struct {
	session Session
	decoder *decoder.Decoder
	pixels  sync.Pool
	logger  logging.Logger
}

// NewLocalEngine wires a session to a decoder.
//
// Arguments:
//   - session: The model session.
//   - dec: The grid decoder; its input size is the model input size.
//   - quantized: Whether the session takes raw bytes.
//   - logger: The logger, nil for none.
//
// Returns:
//   - *LocalEngine: The engine.
func NewLocalEngine(session Session, dec *decoder.Decoder, quantized bool, logger logging.Logger) *LocalEngine {
	size := dec.Config().InputSize
	return &LocalEngine{
		session: session,
		decoder: dec,
		pixels: sync.Pool{New: func() interface{} {
			return NewPixels(size, quantized)
		}},
		logger: logging.OrNop(logger),
	}
}

// Detect preprocesses img, runs the model and decodes the output.
func (e *LocalEngine) Detect(ctx context.Context, img image.Image) ([]decoder.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	px := e.pixels.Get().(*Pixels)
	defer e.pixels.Put(px)

	if err := PrepareInput(img, px); err != nil {
		return nil, errors.Wrap(err, "failed to prepare input")
	}
	out, err := e.session.Run(px)
	if err != nil {
		return nil, err
	}
	dets, err := e.decoder.Decode(out)
	if err != nil {
		return nil, err
	}

	e.logger.Debugw("local detection", "detections", len(dets), "latency", time.Since(start))
	return dets, nil
}

// Decoder returns the grid decoder.
func (e *LocalEngine) Decoder() *decoder.Decoder {
	return e.decoder
}

// Close closes the session.
func (e *LocalEngine) Close() error {
	return e.session.Close()
}

// RemoteEngine fetches detections from a detection service.
type RemoteEngine struct {
	client *remote.Client
}

// NewRemoteEngine wraps a remote client.
func NewRemoteEngine(client *remote.Client) *RemoteEngine {
	return &RemoteEngine{client: client}
}

// Detect uploads img and returns the service's detections.
func (e *RemoteEngine) Detect(ctx context.Context, img image.Image) ([]decoder.Detection, error) {
	return e.client.Detect(ctx, img)
}

// Close releases idle connections.
func (e *RemoteEngine) Close() error {
	return e.client.Close()
}

// EngineBuilder builds an Engine from configuration with a fluent API. The first
// error stops the chain and is returned by Build.
type EngineBuilder struct {
	cfg     *config.Config
	labels  *decoder.LabelTable
	session Session
	http    *http.Client
	logger  logging.Logger
	err     error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{}
}

// WithConfig validates and sets the configuration.
//
// Arguments:
//   - cfg: The configuration; Provider.Mode selects the implementation.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithConfig(cfg config.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if err := cfg.Validate(); err != nil {
		b.err = err
		return b
	}
	b.cfg = &cfg
	return b
}

// WithLabels sets the label table instead of loading Decoder.Labels from disk.
func (b *EngineBuilder) WithLabels(labels decoder.LabelTable) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.labels = &labels
	return b
}

// WithSession sets the model session instead of opening Provider.ModelPath.
func (b *EngineBuilder) WithSession(s Session) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.session = s
	return b
}

// WithHTTPClient sets the HTTP client used in remote mode.
func (b *EngineBuilder) WithHTTPClient(c *http.Client) *EngineBuilder {
	b.http = c
	return b
}

// WithLogger sets the logger.
func (b *EngineBuilder) WithLogger(l logging.Logger) *EngineBuilder {
	b.logger = l
	return b
}

// HasError checks if the engine builder has errors.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build builds the engine.
//
// Returns:
//   - Engine: A *LocalEngine or *RemoteEngine.
//   - error: The first configuration or initialization error.
func (b *EngineBuilder) Build() (Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.cfg == nil {
		return nil, errors.Wrap(decoder.ErrConfiguration, "engine config not set")
	}

	switch b.cfg.Provider.Mode {
	case config.ModeRemote:
		client, err := remote.NewClient(b.cfg.Remote.URL,
			remote.WithTimeout(b.cfg.Remote.Timeout),
			remote.WithHTTPClient(b.http),
			remote.WithQuality(b.cfg.Remote.Quality),
			remote.WithLogger(b.logger),
		)
		if err != nil {
			return nil, err
		}
		return NewRemoteEngine(client), nil
	default:
		return b.buildLocal()
	}
}

func (b *EngineBuilder) buildLocal() (Engine, error) {
	var labels decoder.LabelTable
	if b.labels != nil {
		labels = *b.labels
	} else {
		l, err := decoder.LoadLabelsFile(b.cfg.Decoder.Labels)
		if err != nil {
			return nil, err
		}
		labels = l
	}

	anchors, err := b.cfg.Decoder.AnchorTemplate()
	if err != nil {
		return nil, err
	}
	dec, err := decoder.NewDecoder(anchors, labels, b.cfg.Decoder.Config)
	if err != nil {
		return nil, err
	}

	session := b.session
	if session == nil {
		p := b.cfg.Provider
		session, err = NewONNXSession(SessionConfig{
			ModelPath:  p.ModelPath,
			InputName:  p.InputName,
			OutputName: p.OutputName,
			InputSize:  b.cfg.Decoder.InputSize,
			GridSize:   p.GridSize,
			Channels:   dec.Channels(),
			Quantized:  p.Quantized,
			Runtime:    p.Runtime,
		})
		if err != nil {
			return nil, err
		}
	}

	logging.OrNop(b.logger).Infow("local engine ready",
		"classes", labels.Len(), "anchors", anchors.Len(), "input", b.cfg.Decoder.InputSize,
		"normalizer", b.cfg.Decoder.Normalizer.String(), "quantized", b.cfg.Provider.Quantized)
	return NewLocalEngine(session, dec, b.cfg.Provider.Quantized, b.logger), nil
}

// MustBuild builds the engine and panics if there is an error.
func (b *EngineBuilder) MustBuild() Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}
