// Package config loads the phase camera configuration.
//
// The file is YAML. ${VAR} references are expanded from the environment
// before parsing, so credentials can stay out of the file.
package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-phase/capture"
	"github.com/nvr-ai/go-phase/inference"
	"github.com/nvr-ai/go-phase/inference/onnx"
	"github.com/nvr-ai/go-phase/inference/opencv"
	"github.com/nvr-ai/go-phase/logging"
	"github.com/nvr-ai/go-phase/models/model"
	"github.com/nvr-ai/go-phase/models/preprocess"
	"github.com/nvr-ai/go-phase/mqtt"
	"github.com/nvr-ai/go-phase/phases"
	"github.com/nvr-ai/go-phase/storage"
)

// Defaults.
const (
	DefaultCameraURL      = "http://192.168.1.14/capture"
	DefaultModelPath      = "models/best_nano.onnx"
	DefaultArtifactPath   = "captured_images/current_capture.jpg"
	DefaultLogPath        = "logs/results_log.txt"
	DefaultBroker         = "192.168.1.8"
	DefaultInterval       = time.Hour
	DefaultNeutralCommand = 0
)

// Camera source kinds.
const (
	SourceHTTP      = "http"
	SourceDirectory = "directory"
)

// Error is a configuration error. It is fatal at startup.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

func fieldErr(field, format string, args ...interface{}) *Error {
	return &Error{Field: field, Err: errors.Errorf(format, args...)}
}

// Camera configures the frame source.
type Camera struct {
	Source         string  `yaml:"source"`
	URL            string  `yaml:"url"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	Directory      string  `yaml:"directory"`
}

// Model configures the inference backend and the postprocessor.
type Model struct {
	Kind                model.Kind           `yaml:"kind"`
	Backend             inference.EngineType `yaml:"backend"`
	Path                string               `yaml:"path"`
	SharedLibrary       string               `yaml:"shared_library"`
	Provider            string               `yaml:"provider"`
	Target              string               `yaml:"target"`
	InputName           string               `yaml:"input_name"`
	OutputName          string               `yaml:"output_name"`
	InputSize           int                  `yaml:"input_size"`
	NumClasses          int                  `yaml:"num_classes"`
	NumAnchors          int                  `yaml:"num_anchors"`
	ConfidenceThreshold float32              `yaml:"confidence_threshold"`
	IoUThreshold        float32              `yaml:"iou_threshold"`
	ColorMode           string               `yaml:"color_mode"`
	Softmax             bool                 `yaml:"softmax"`
	IntraOpThreads      int                  `yaml:"intra_op_threads"`
	CUDA                onnx.CUDAOptions     `yaml:"cuda"`
	OpenVINO            onnx.OpenVINOOptions `yaml:"openvino"`
}

// MQTT configures the command publisher.
type MQTT struct {
	Broker                string  `yaml:"broker"`
	Port                  int     `yaml:"port"`
	Topic                 string  `yaml:"topic"`
	ClientID              string  `yaml:"client_id"`
	QoS                   int     `yaml:"qos"`
	ConnectTimeoutSeconds float64 `yaml:"connect_timeout_seconds"`
}

// Config is the full process configuration.
type Config struct {
	Camera          Camera         `yaml:"camera"`
	ArtifactPath    string         `yaml:"artifact_path"`
	LogPath         string         `yaml:"log_path"`
	IntervalSeconds float64        `yaml:"interval_seconds"`
	Model           Model          `yaml:"model"`
	MQTT            MQTT           `yaml:"mqtt"`
	Phases          map[string]int `yaml:"phases"`
	NeutralCommand  int            `yaml:"neutral_command"`
	Storage         storage.Config `yaml:"storage"`
	Logging         logging.Config `yaml:"logging"`
}

// Default returns the configuration used when no file overrides a key.
func Default() *Config {
	return &Config{
		Camera: Camera{
			Source:         SourceHTTP,
			URL:            DefaultCameraURL,
			TimeoutSeconds: capture.DefaultTimeout.Seconds(),
		},
		ArtifactPath:    DefaultArtifactPath,
		LogPath:         DefaultLogPath,
		IntervalSeconds: DefaultInterval.Seconds(),
		Model: Model{
			Kind:                model.KindYOLOv8,
			Backend:             inference.EngineONNX,
			Path:                DefaultModelPath,
			Provider:            string(onnx.CPUExecutionProvider),
			InputSize:           preprocess.InputSize,
			ConfidenceThreshold: model.DefaultConfidenceThreshold,
			IoUThreshold:        model.DefaultIoUThreshold,
			ColorMode:           preprocess.ColorModeBGR.String(),
		},
		MQTT: MQTT{
			Broker:                DefaultBroker,
			Port:                  mqtt.DefaultPort,
			Topic:                 mqtt.DefaultTopic,
			ConnectTimeoutSeconds: mqtt.DefaultConnectTimeout.Seconds(),
		},
		Phases:         defaultPhases(),
		NeutralCommand: DefaultNeutralCommand,
		Storage: storage.Config{
			Backend: storage.BackendNone,
			Bucket:  storage.DefaultBucket,
			Table:   storage.DefaultTable,
			SQLite: storage.SQLiteConfig{
				Path: "data/phasecam.db",
			},
		},
		Logging: logging.Config{Level: "info"},
	}
}

func defaultPhases() map[string]int {
	out := map[string]int{}
	for _, name := range phases.Default().Names() {
		angle, _ := phases.Default().Angle(name)
		out[name] = angle
	}
	return out
}

// Load reads path, expands environment references, applies defaults and validates.
// Every returned error is a *Error.
func Load(path string) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, &Error{Err: errors.Wrapf(err, "read %s", path)}
	}
	return Parse(buf)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	// A phase table in the file replaces the default one instead of merging into it.
	cfg.Phases = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &Error{Err: errors.Wrap(err, "parse yaml")}
	}
	if cfg.Phases == nil {
		cfg.Phases = defaultPhases()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section. It returns a *Error for the first problem found.
func (c *Config) Validate() error {
	switch c.Camera.Source {
	case SourceHTTP:
		u, err := url.Parse(c.Camera.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fieldErr("camera.url", "must be an absolute URL, got %q", c.Camera.URL)
		}
	case SourceDirectory:
		if c.Camera.Directory == "" {
			return fieldErr("camera.directory", "required when camera.source is %q", SourceDirectory)
		}
	default:
		return fieldErr("camera.source", "must be %q or %q, got %q", SourceHTTP, SourceDirectory, c.Camera.Source)
	}
	if c.Camera.TimeoutSeconds <= 0 {
		return fieldErr("camera.timeout_seconds", "must be positive")
	}
	if c.ArtifactPath == "" {
		return fieldErr("artifact_path", "required")
	}
	if c.LogPath == "" {
		return fieldErr("log_path", "required")
	}
	if c.IntervalSeconds <= 0 {
		return fieldErr("interval_seconds", "must be positive")
	}

	if err := c.validateModel(); err != nil {
		return err
	}

	if c.MQTT.Broker == "" {
		return fieldErr("mqtt.broker", "required")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return fieldErr("mqtt.port", "out of range: %d", c.MQTT.Port)
	}
	if c.MQTT.Topic == "" {
		return fieldErr("mqtt.topic", "required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fieldErr("mqtt.qos", "must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	if _, err := c.PhaseTable(); err != nil {
		return &Error{Field: "phases", Err: err}
	}
	if c.NeutralCommand < phases.MinAngle || c.NeutralCommand > phases.MaxAngle {
		return fieldErr("neutral_command", "must be in [%d, %d], got %d", phases.MinAngle, phases.MaxAngle, c.NeutralCommand)
	}

	if !c.Storage.Backend.Valid() {
		return fieldErr("storage.backend", "unknown backend %q", c.Storage.Backend)
	}
	switch c.Storage.Backend {
	case storage.BackendSupabase:
		if c.Storage.Supabase.URL == "" || c.Storage.Supabase.Key == "" {
			return fieldErr("storage.supabase", "url and key are required")
		}
	case storage.BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return fieldErr("storage.sqlite.path", "required")
		}
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return &Error{Field: "logging.level", Err: err}
	}
	return nil
}

func (c *Config) validateModel() error {
	m := c.Model
	if m.Path == "" {
		return fieldErr("model.path", "required")
	}
	if !m.Backend.Valid() {
		return fieldErr("model.backend", "unknown backend %q", m.Backend)
	}
	if _, err := onnx.ParseProvider(m.Provider); err != nil {
		return &Error{Field: "model.provider", Err: err}
	}
	if _, err := opencv.ParseTarget(m.Target); err != nil {
		return &Error{Field: "model.target", Err: err}
	}
	if _, err := preprocess.ParseColorMode(m.ColorMode); err != nil {
		return &Error{Field: "model.color_mode", Err: err}
	}
	if m.InputSize <= 0 {
		return fieldErr("model.input_size", "must be positive")
	}
	if m.NumAnchors < 0 {
		return fieldErr("model.num_anchors", "must not be negative")
	}
	if err := c.ModelConfig().Validate(); err != nil {
		return &Error{Field: "model", Err: err}
	}
	return nil
}

// CaptureTimeout returns the camera request timeout.
func (c *Config) CaptureTimeout() time.Duration {
	return seconds(c.Camera.TimeoutSeconds)
}

// Interval returns the wait between cycles.
func (c *Config) Interval() time.Duration {
	return seconds(c.IntervalSeconds)
}

// PhaseTable builds the validated phase table.
func (c *Config) PhaseTable() (*phases.Table, error) {
	return phases.New(c.Phases)
}

// ModelConfig returns the postprocessor configuration.
func (c *Config) ModelConfig() model.Config {
	return model.Config{
		Kind:                c.Model.Kind,
		NumClasses:          c.Model.NumClasses,
		ConfidenceThreshold: c.Model.ConfidenceThreshold,
		IoUThreshold:        c.Model.IoUThreshold,
		Softmax:             c.Model.Softmax,
	}
}

// PreprocessConfig returns the preprocessor configuration.
func (c *Config) PreprocessConfig() preprocess.Config {
	mode, _ := preprocess.ParseColorMode(c.Model.ColorMode)
	return preprocess.Config{
		InputWidth:  c.Model.InputSize,
		InputHeight: c.Model.InputSize,
		ColorMode:   mode,
	}
}

// ONNXConfig returns the onnxruntime backend configuration.
//
// The input shape always follows input_size. The output shape is pinned only when
// the head size is configured; otherwise the model metadata decides.
func (c *Config) ONNXConfig() onnx.Config {
	provider, _ := onnx.ParseProvider(c.Model.Provider)
	size := int64(c.Model.InputSize)
	cfg := onnx.Config{
		ModelPath:      c.Model.Path,
		SharedLibrary:  c.Model.SharedLibrary,
		Provider:       provider,
		InputName:      c.Model.InputName,
		OutputName:     c.Model.OutputName,
		InputShape:     []int64{1, 3, size, size},
		IntraOpThreads: c.Model.IntraOpThreads,
		CUDA:           c.Model.CUDA,
		OpenVINO:       c.Model.OpenVINO,
	}
	switch {
	case c.Model.Kind == model.KindYOLOv8 && c.Model.NumClasses > 0 && c.Model.NumAnchors > 0:
		cfg.OutputShape = []int64{1, int64(4 + c.Model.NumClasses), int64(c.Model.NumAnchors)}
	case c.Model.Kind == model.KindClassifier && c.Model.NumClasses > 0:
		cfg.OutputShape = []int64{1, int64(c.Model.NumClasses)}
	}
	return cfg
}

// OpenCVConfig returns the OpenCV DNN backend configuration.
func (c *Config) OpenCVConfig() opencv.Config {
	target, _ := opencv.ParseTarget(c.Model.Target)
	return opencv.Config{
		ModelPath:  c.Model.Path,
		OutputName: c.Model.OutputName,
		Target:     target,
	}
}

// MQTTConfig returns the publisher configuration.
func (c *Config) MQTTConfig() mqtt.Config {
	return mqtt.Config{
		Broker:         c.MQTT.Broker,
		Port:           c.MQTT.Port,
		Topic:          c.MQTT.Topic,
		ClientID:       c.MQTT.ClientID,
		QoS:            byte(c.MQTT.QoS),
		ConnectTimeout: seconds(c.MQTT.ConnectTimeoutSeconds),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
