package inference

import (
	"context"
	"errors"
	"image/color"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/nvr-ai/chroma/config"
	"github.com/nvr-ai/chroma/decoder"
	"github.com/nvr-ai/chroma/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSession returns a fixed grid and records its inputs.
type stubSession struct {
	grid   []float32
	err    error
	calls  atomic.Int32
	closed atomic.Bool
	last   *Pixels
}

func (s *stubSession) Run(input *Pixels) (decoder.RawOutputTensor, error) {
	s.calls.Add(1)
	s.last = input
	if s.err != nil {
		return decoder.RawOutputTensor{}, s.err
	}
	return decoder.NewRawOutputTensor(s.grid, 1, 13, 13, 60)
}

func (s *stubSession) Close() error {
	s.closed.Store(true)
	return nil
}

func holdLabels() decoder.LabelTable {
	return decoder.NewLabelTable("black", "blue", "green", "orange", "red", "white", "yellow")
}

// objectGrid places one object centered in the frame with class 4 dominant.
func objectGrid() []float32 {
	g := make([]float32, 13*13*60)
	base := (6*13 + 6) * 60
	g[base+2] = float32(math.Log(1.3 / 0.573))
	g[base+3] = float32(math.Log(1.3 / 0.677))
	g[base+4] = 20
	g[base+5+4] = 8
	return g
}

func TestLocalEngineDetect(t *testing.T) {
	session := &stubSession{grid: objectGrid()}
	engine, err := NewEngineBuilder().
		WithConfig(config.Default()).
		WithLabels(holdLabels()).
		WithSession(session).
		WithLogger(logging.NewTestLogger(t)).
		Build()
	require.NoError(t, err)
	require.IsType(t, &LocalEngine{}, engine)

	frame := imaging.New(416, 416, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	dets, err := engine.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "red", dets[0].Label)
	assert.InDelta(t, 187.2, dets[0].Box.Left, 0.05)
	assert.InDelta(t, 228.8, dets[0].Box.Bottom, 0.05)

	require.NotNil(t, session.last)
	assert.Equal(t, 416, session.last.Size)
	assert.InDelta(t, 0, session.last.Float[0], 1e-6)

	// The pixel buffer is reused across calls.
	_, err = engine.Detect(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, int32(2), session.calls.Load())

	require.NoError(t, engine.Close())
	assert.True(t, session.closed.Load())
}

func TestLocalEngineErrors(t *testing.T) {
	failure := errors.New("session exploded")
	session := &stubSession{err: failure}
	engine := NewEngineBuilder().
		WithConfig(config.Default()).
		WithLabels(holdLabels()).
		WithSession(session).
		MustBuild()

	frame := imaging.New(416, 416, color.Black)
	_, err := engine.Detect(context.Background(), frame)
	assert.ErrorIs(t, err, failure)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Detect(ctx, frame)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), session.calls.Load(), "canceled frames never reach the session")
}

func TestLocalEngineShapeMismatch(t *testing.T) {
	session := &stubSession{grid: objectGrid()}
	engine := NewEngineBuilder().
		WithConfig(config.Default()).
		WithLabels(decoder.NewLabelTable("a", "b", "c")).
		WithSession(session).
		MustBuild()

	_, err := engine.Detect(context.Background(), imaging.New(416, 416, color.Black))
	assert.ErrorIs(t, err, decoder.ErrConfiguration)
}

func TestEngineBuilderRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"probability": 0.4, "tagId": "0", "tagName": "black",
			"boundingBox": {"left": 1, "top": 2, "width": 3, "height": 4}}]`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Provider.Mode = config.ModeRemote
	cfg.Remote.URL = srv.URL

	engine, err := NewEngineBuilder().WithConfig(cfg).Build()
	require.NoError(t, err)
	require.IsType(t, &RemoteEngine{}, engine)
	defer engine.Close()

	dets, err := engine.Detect(context.Background(), imaging.New(416, 416, color.White))
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "black", dets[0].Label)
	assert.Equal(t, decoder.BoundingBox{Left: 1, Top: 2, Right: 4, Bottom: 6}, dets[0].Box)
}

func TestEngineBuilderRemoteStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Provider.Mode = config.ModeRemote
	cfg.Remote.URL = srv.URL

	engine := NewEngineBuilder().WithConfig(cfg).MustBuild()
	_, err := engine.Detect(context.Background(), imaging.New(8, 8, color.White))
	assert.ErrorIs(t, err, ErrTransient)
}

func TestEngineBuilderErrors(t *testing.T) {
	t.Run("no config", func(t *testing.T) {
		_, err := NewEngineBuilder().Build()
		assert.ErrorIs(t, err, decoder.ErrConfiguration)
	})

	t.Run("invalid mode", func(t *testing.T) {
		cfg := config.Default()
		cfg.Provider.Mode = "carrier-pigeon"
		b := NewEngineBuilder().WithConfig(cfg).WithLabels(holdLabels())
		assert.True(t, b.HasError())
		_, err := b.Build()
		assert.ErrorIs(t, err, decoder.ErrConfiguration)
	})

	t.Run("missing label file", func(t *testing.T) {
		cfg := config.Default()
		cfg.Decoder.Labels = t.TempDir() + "/missing.txt"
		_, err := NewEngineBuilder().WithConfig(cfg).WithSession(&stubSession{}).Build()
		assert.Error(t, err)
	})

	t.Run("must build panics", func(t *testing.T) {
		assert.Panics(t, func() { NewEngineBuilder().MustBuild() })
	})
}
