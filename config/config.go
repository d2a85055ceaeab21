// Package config - Runtime configuration loaded from YAML files and the environment.
package config

import (
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nvr-ai/chroma/decoder"
	"github.com/nvr-ai/chroma/inference/providers"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Mode selects which detection provider implementation is used.
type Mode string

const (
	// ModeLocal runs the model in-process and decodes the raw tensor.
	ModeLocal Mode = "local"
	// ModeRemote uploads frames to a detection service.
	ModeRemote Mode = "remote"
)

// Config is the top level configuration.
type Config struct {
	LogLevel string         `json:"log_level" yaml:"log_level"`
	Decoder  DecoderConfig  `json:"decoder"   yaml:"decoder"`
	Provider ProviderConfig `json:"provider"  yaml:"provider"`
	Remote   RemoteConfig   `json:"remote"    yaml:"remote"`
	Server   ServerConfig   `json:"server"    yaml:"server"`
}

// DecoderConfig extends the decoding parameters with the anchor and label sources.
type DecoderConfig struct {
	decoder.Config `yaml:",inline"`
	// Anchors is a flat list of width/height priors. Empty means the reference priors.
	Anchors []float64 `json:"anchors,omitempty" yaml:"anchors,omitempty"`
	// Labels is the path of the newline-delimited label file.
	Labels string `json:"labels" yaml:"labels"`
}

// AnchorTemplate returns the configured anchors, or the reference priors.
func (c DecoderConfig) AnchorTemplate() (decoder.AnchorTemplate, error) {
	if len(c.Anchors) == 0 {
		return decoder.DefaultAnchors(), nil
	}
	return decoder.AnchorsFromPairs(c.Anchors)
}

// ProviderConfig configures the detection provider.
type ProviderConfig struct {
	Mode Mode `json:"mode" yaml:"mode"`
	// ModelPath is the ONNX model file used in local mode.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// InputName and OutputName are the model graph node names.
	InputName  string `json:"input_name"  yaml:"input_name"`
	OutputName string `json:"output_name" yaml:"output_name"`
	// Quantized models take raw uint8 pixels instead of normalized floats.
	Quantized bool `json:"quantized" yaml:"quantized"`
	// GridSize is the side of the output grid (13 for a 416px input).
	GridSize int `json:"grid_size" yaml:"grid_size"`
	// Runtime configures the onnxruntime library and execution backend.
	Runtime providers.Config `json:"runtime" yaml:"runtime"`
}

// RemoteConfig configures the remote detection client.
type RemoteConfig struct {
	URL     string        `json:"url"     yaml:"url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// Quality is the JPEG quality of uploaded frames.
	Quality int `json:"quality" yaml:"quality"`
}

// ServerConfig configures the detection service.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	// Threshold is the minimum probability of a returned prediction.
	Threshold      float64       `json:"threshold"        yaml:"threshold"`
	MaxUploadBytes int64         `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	ReadTimeout    time.Duration `json:"read_timeout"     yaml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"    yaml:"write_timeout"`
}

// Default returns the reference configuration.
//
// Returns:
//   - Config: Local mode, 416px input, 0.0018 decode threshold, 0.19 server threshold.
func Default() Config {
	return Config{
		LogLevel: "info",
		Decoder: DecoderConfig{
			Config: decoder.DefaultConfig(),
			Labels: "labels.txt",
		},
		Provider: ProviderConfig{
			Mode:       ModeLocal,
			ModelPath:  "model.onnx",
			InputName:  "data",
			OutputName: "model_outputs0",
			GridSize:   13,
			Runtime:    providers.DefaultConfig(),
		},
		Remote: RemoteConfig{
			URL:     "http://localhost:5000/",
			Timeout: 10 * time.Second,
			Quality: 100,
		},
		Server: ServerConfig{
			Addr:           ":5000",
			Threshold:      0.19,
			MaxUploadBytes: 10 << 20,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
		},
	}
}

// Load reads a YAML file over the defaults.
//
// Arguments:
//   - path: The YAML file path.
//
// Returns:
//   - Config: The merged configuration.
//   - error: An error if the file cannot be read or parsed.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, nil
}

// LoadEnv loads the given .env files (missing files are ignored) and applies CHROMA_*
// environment overrides to cfg.
func LoadEnv(cfg *Config, files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "failed to load env file %s", f)
		}
	}

	cfg.LogLevel = getEnv("CHROMA_LOG_LEVEL", cfg.LogLevel)

	cfg.Decoder.Labels = getEnv("CHROMA_LABELS", cfg.Decoder.Labels)
	cfg.Decoder.InputSize = getEnvAsInt("CHROMA_INPUT_SIZE", cfg.Decoder.InputSize)
	cfg.Decoder.Threshold = getEnvAsFloat("CHROMA_THRESHOLD", cfg.Decoder.Threshold)
	if v := os.Getenv("CHROMA_NORMALIZER"); v != "" {
		n, err := decoder.ParseNormalizer(v)
		if err != nil {
			return err
		}
		cfg.Decoder.Normalizer = n
	}

	cfg.Provider.Mode = Mode(getEnv("CHROMA_MODE", string(cfg.Provider.Mode)))
	cfg.Provider.ModelPath = getEnv("CHROMA_MODEL_PATH", cfg.Provider.ModelPath)
	cfg.Provider.Quantized = getEnvAsBool("CHROMA_QUANTIZED", cfg.Provider.Quantized)
	cfg.Provider.Runtime.LibraryPath = getEnv("CHROMA_ORT_LIBRARY", cfg.Provider.Runtime.LibraryPath)
	cfg.Provider.Runtime.Backend = providers.Backend(getEnv("CHROMA_BACKEND", string(cfg.Provider.Runtime.Backend)))
	cfg.Provider.Runtime.NumThreads = getEnvAsInt("CHROMA_NUM_THREADS", cfg.Provider.Runtime.NumThreads)

	cfg.Remote.URL = getEnv("CHROMA_REMOTE_URL", cfg.Remote.URL)
	cfg.Remote.Timeout = getEnvAsDuration("CHROMA_REMOTE_TIMEOUT", cfg.Remote.Timeout)

	cfg.Server.Addr = getEnv("CHROMA_SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.Threshold = getEnvAsFloat("CHROMA_SERVER_THRESHOLD", cfg.Server.Threshold)

	return nil
}

// Validate checks that the configuration can be used to build a provider.
func (c Config) Validate() error {
	if err := c.Decoder.Config.Validate(); err != nil {
		return err
	}
	if _, err := c.Decoder.AnchorTemplate(); err != nil {
		return err
	}

	switch c.Provider.Mode {
	case ModeLocal:
		if c.Provider.ModelPath == "" {
			return errors.Wrap(decoder.ErrConfiguration, "local mode needs a model path")
		}
		if c.Decoder.Labels == "" {
			return errors.Wrap(decoder.ErrConfiguration, "local mode needs a label file")
		}
		if c.Provider.GridSize <= 0 {
			return errors.Wrapf(decoder.ErrConfiguration, "grid size %d must be positive", c.Provider.GridSize)
		}
		if err := c.Provider.Runtime.Validate(); err != nil {
			return err
		}
	case ModeRemote:
		u, err := url.Parse(c.Remote.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Wrapf(decoder.ErrConfiguration, "invalid remote url %q", c.Remote.URL)
		}
		if c.Remote.Quality < 1 || c.Remote.Quality > 100 {
			return errors.Wrapf(decoder.ErrConfiguration, "jpeg quality %d out of range", c.Remote.Quality)
		}
	default:
		return errors.Wrapf(decoder.ErrConfiguration, "unknown provider mode %q", c.Provider.Mode)
	}

	if c.Server.Threshold < 0 || c.Server.Threshold > 1 {
		return errors.Wrapf(decoder.ErrConfiguration, "server threshold %v out of range", c.Server.Threshold)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
