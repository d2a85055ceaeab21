// Package providers - onnxruntime environment and execution backend selection.
package providers

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// Backend names an onnxruntime execution provider.
type Backend string

const (
	// BackendCPU uses the default CPU execution provider.
	BackendCPU Backend = "cpu"
	// BackendCUDA uses NVIDIA CUDA.
	BackendCUDA Backend = "cuda"
	// BackendCoreML uses Apple CoreML for macOS/iOS acceleration.
	BackendCoreML Backend = "coreml"
	// BackendOpenVINO uses Intel OpenVINO.
	BackendOpenVINO Backend = "openvino"
)

// ErrInvalidConfig is returned for runtime configuration that cannot be applied.
var ErrInvalidConfig = errors.New("invalid runtime configuration")

// ParseBackend parses a backend name. Empty means CPU.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	switch b {
	case "":
		return BackendCPU, nil
	case BackendCPU, BackendCUDA, BackendCoreML, BackendOpenVINO:
		return b, nil
	default:
		return "", errors.Wrapf(ErrInvalidConfig, "unknown backend %q", s)
	}
}

// Config configures the runtime library and the execution provider of a session.
type Config struct {
	// Backend specifies the execution provider to append to the session.
	Backend Backend `json:"backend" yaml:"backend"`
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// NumThreads is the intra-op thread count. 0 lets onnxruntime decide.
	NumThreads int `json:"num_threads" yaml:"num_threads"`
	// DeviceID selects the GPU for CUDA.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// DeviceType is the OpenVINO device, e.g. CPU, GPU or NPU.
	DeviceType string `json:"device_type" yaml:"device_type"`
	// CoreMLFlags are passed through to the CoreML provider.
	CoreMLFlags uint32 `json:"coreml_flags" yaml:"coreml_flags"`
	// Verbose enables onnxruntime's own verbose logging.
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// DefaultConfig returns a four thread CPU configuration.
//
// @example
// cfg := providers.DefaultConfig()
// cfg.Backend = providers.BackendCoreML
func DefaultConfig() Config {
	return Config{
		Backend:    BackendCPU,
		NumThreads: 4,
		DeviceType: "CPU",
	}
}

// Validate checks the backend and thread count.
func (c Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if c.NumThreads < 0 {
		return errors.Wrapf(ErrInvalidConfig, "num_threads %d must be >= 0", c.NumThreads)
	}
	if c.DeviceID < 0 {
		return errors.Wrapf(ErrInvalidConfig, "device_id %d must be >= 0", c.DeviceID)
	}
	return nil
}

// SharedLibPath returns LibraryPath when set, otherwise the bundled library for the
// current platform.
//
// Returns:
//   - string: The path to the shared library.
//   - error: An error if no bundled library exists for this platform.
func (c Config) SharedLibPath() (string, error) {
	if c.LibraryPath != "" {
		return c.LibraryPath, nil
	}
	return DefaultSharedLibPath(runtime.GOOS, runtime.GOARCH)
}

// DefaultSharedLibPath returns the bundled onnxruntime library for goos/goarch.
func DefaultSharedLibPath(goos, goarch string) (string, error) {
	switch goos {
	case "windows":
		if goarch == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "./third_party/libonnxruntime.dylib", nil
	case "linux":
		if goarch == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", errors.Wrap(ErrInvalidConfig, fmt.Sprintf("no onnxruntime library for %s/%s", goos, goarch))
}
