package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{in: "", want: BackendCPU},
		{in: "CPU", want: BackendCPU},
		{in: " coreml ", want: BackendCoreML},
		{in: "cuda", want: BackendCUDA},
		{in: "openvino", want: BackendOpenVINO},
		{in: "tpu", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidConfig, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.NumThreads)

	cfg.NumThreads = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Backend = "tensorrt"
	assert.Error(t, cfg.Validate())
}

func TestSharedLibPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LibraryPath = "/opt/ort/libonnxruntime.so"
	path, err := cfg.SharedLibPath()
	require.NoError(t, err)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", path)

	path, err = DefaultSharedLibPath("linux", "arm64")
	require.NoError(t, err)
	assert.Equal(t, "./third_party/onnxruntime_arm64.so", path)

	path, err = DefaultSharedLibPath("darwin", "arm64")
	require.NoError(t, err)
	assert.Equal(t, "./third_party/libonnxruntime.dylib", path)

	_, err = DefaultSharedLibPath("plan9", "386")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProviderOptionMaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeviceID = 1
	assert.Equal(t, "1", CUDAOptions(cfg)["device_id"])

	cfg.DeviceType = ""
	opts := OpenVINOOptions(cfg)
	assert.Equal(t, "CPU", opts["device_type"])
	assert.Equal(t, "4", opts["num_of_threads"])
}
