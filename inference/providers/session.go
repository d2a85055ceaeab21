package providers

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	envOnce sync.Once
	envErr  error
)

// InitEnvironment points onnxruntime at the shared library and initializes the native
// environment. Only the first call does any work; later calls return its result.
//
// Arguments:
//   - cfg: The runtime configuration.
//
// Returns:
//   - error: An error if the library is missing or fails to load.
func InitEnvironment(cfg Config) error {
	envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}

		libPath, err := cfg.SharedLibPath()
		if err != nil {
			envErr = err
			return
		}
		if _, err := os.Stat(libPath); err != nil {
			envErr = errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
			return
		}

		if cfg.Verbose {
			ort.SetEnvironmentLogLevel(ort.LoggingLevelVerbose)
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = errors.Wrap(err, "error initializing onnxruntime environment")
		}
	})
	return envErr
}

// NewSessionOptions creates session options with the thread count and execution
// provider of cfg applied. The caller owns the returned options.
//
// Returns:
//   - *ort.SessionOptions: The options.
//   - error: An error if the options or the execution provider cannot be set up.
func NewSessionOptions(cfg Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating session options")
	}

	if err := applyOptions(options, cfg); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func applyOptions(options *ort.SessionOptions, cfg Config) error {
	if err := options.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
		return errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return errors.Wrap(err, "error setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}

	switch cfg.Backend {
	case BackendCoreML:
		if err := options.AppendExecutionProviderCoreML(cfg.CoreMLFlags); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case BackendOpenVINO:
		if err := options.AppendExecutionProviderOpenVINO(OpenVINOOptions(cfg)); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	case BackendCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(CUDAOptions(cfg)); err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	}
	return nil
}

// CUDAOptions returns the CUDA provider options derived from cfg.
// See: https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html
func CUDAOptions(cfg Config) map[string]string {
	return map[string]string{
		"device_id":                 fmt.Sprintf("%d", cfg.DeviceID),
		"do_copy_in_default_stream": "1",
		"cudnn_conv_algo_search":    "DEFAULT",
	}
}

// OpenVINOOptions returns the OpenVINO provider options derived from cfg.
// See: https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html
func OpenVINOOptions(cfg Config) map[string]string {
	deviceType := cfg.DeviceType
	if deviceType == "" {
		deviceType = "CPU"
	}
	opts := map[string]string{
		"device_type": deviceType,
	}
	if cfg.NumThreads > 0 {
		opts["num_of_threads"] = fmt.Sprintf("%d", cfg.NumThreads)
	}
	return opts
}
