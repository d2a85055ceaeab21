package inference

import (
	"sync"

	"github.com/nvr-ai/chroma/decoder"
	"github.com/nvr-ai/chroma/inference/providers"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

// Session runs the network on one prepared input.
type Session interface {
	Run(input *Pixels) (decoder.RawOutputTensor, error)
	Close() error
}

// SessionConfig describes the model and its fixed tensor shapes.
type SessionConfig struct {
	ModelPath  string
	InputName  string
	OutputName string
	// InputSize is the side of the square [1, S, S, 3] input.
	InputSize int
	// GridSize and Channels give the [1, G, G, C] output shape.
	GridSize  int
	Channels  int
	Quantized bool
	Runtime   providers.Config
}

// ONNXSession is an onnxruntime session with preallocated input and output tensors.
// Run is serialized since the tensors are shared.
type ONNXSession struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	floatInput *ort.Tensor[float32]
	byteInput  *ort.Tensor[uint8]
	output     *ort.Tensor[float32]
	cfg        SessionConfig
}

// NewONNXSession loads the model and binds the input and output tensors.
//
// Arguments:
//   - cfg: The model description.
//
// Returns:
//   - *ONNXSession: The session.
//   - error: An error if the runtime, tensors or session cannot be created.
func NewONNXSession(cfg SessionConfig) (*ONNXSession, error) {
	if err := providers.InitEnvironment(cfg.Runtime); err != nil {
		return nil, err
	}

	s := &ONNXSession{cfg: cfg}
	var input ort.Value
	inputShape := ort.NewShape(1, int64(cfg.InputSize), int64(cfg.InputSize), 3)
	if cfg.Quantized {
		t, err := ort.NewEmptyTensor[uint8](inputShape)
		if err != nil {
			return nil, errors.Wrap(err, "error creating input tensor")
		}
		s.byteInput, input = t, t
	} else {
		t, err := ort.NewEmptyTensor[float32](inputShape)
		if err != nil {
			return nil, errors.Wrap(err, "error creating input tensor")
		}
		s.floatInput, input = t, t
	}

	output, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, int64(cfg.GridSize), int64(cfg.GridSize), int64(cfg.Channels)),
	)
	if err != nil {
		return nil, multierr.Append(errors.Wrap(err, "error creating output tensor"), s.Close())
	}
	s.output = output

	options, err := providers.NewSessionOptions(cfg.Runtime)
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "error creating session for %s", cfg.ModelPath), s.Close())
	}
	s.session = session

	return s, nil
}

// Run copies input into the bound tensor, runs the model and returns a copy of the
// output grid.
func (s *ONNXSession) Run(input *Pixels) (decoder.RawOutputTensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return decoder.RawOutputTensor{}, errors.New("session is closed")
	}
	if input.Quantized != s.cfg.Quantized || input.Size != s.cfg.InputSize {
		return decoder.RawOutputTensor{}, errors.Errorf("input %dpx quantized=%t does not match session %dpx quantized=%t",
			input.Size, input.Quantized, s.cfg.InputSize, s.cfg.Quantized)
	}

	if s.cfg.Quantized {
		copy(s.byteInput.GetData(), input.Bytes)
	} else {
		copy(s.floatInput.GetData(), input.Float)
	}

	if err := s.session.Run(); err != nil {
		return decoder.RawOutputTensor{}, errors.Wrap(err, "error running session")
	}

	out := append([]float32(nil), s.output.GetData()...)
	return decoder.NewRawOutputTensor(out, 1, s.cfg.GridSize, s.cfg.GridSize, s.cfg.Channels)
}

// Close destroys the session and its tensors.
func (s *ONNXSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		err = multierr.Append(err, s.session.Destroy())
		s.session = nil
	}
	if s.floatInput != nil {
		err = multierr.Append(err, s.floatInput.Destroy())
		s.floatInput = nil
	}
	if s.byteInput != nil {
		err = multierr.Append(err, s.byteInput.Destroy())
		s.byteInput = nil
	}
	if s.output != nil {
		err = multierr.Append(err, s.output.Destroy())
		s.output = nil
	}
	return err
}
