// Package onnx - onnxruntime inference backend.
package onnx

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-phase/inference"
)

// Config configures an onnxruntime backend.
type Config struct {
	// ModelPath is the path to the .onnx file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// SharedLibrary overrides the onnxruntime library path.
	SharedLibrary string `json:"shared_library" yaml:"shared_library"`
	// Provider selects the execution provider.
	Provider Provider `json:"provider" yaml:"provider"`
	// InputName is the model input node. Empty uses the first input.
	InputName string `json:"input_name" yaml:"input_name"`
	// OutputName is the model output node. Empty uses the first output.
	OutputName string `json:"output_name" yaml:"output_name"`
	// InputShape is the bound input shape. Empty uses the model's static shape.
	InputShape []int64 `json:"input_shape" yaml:"input_shape"`
	// OutputShape is the bound output shape. Empty uses the model's static shape.
	OutputShape []int64 `json:"output_shape" yaml:"output_shape"`
	// IntraOpThreads bounds node-level parallelism. 0 lets the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	// CUDA holds options for CUDAExecutionProvider.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`
	// OpenVINO holds options for OpenVINOExecutionProvider.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// Metrics are the cumulative timings of a backend.
type Metrics struct {
	// InferenceCount is the number of completed runs.
	InferenceCount int64 `json:"inference_count"`
	// Total is the summed run time.
	Total time.Duration `json:"total"`
	// Last is the duration of the latest run.
	Last time.Duration `json:"last"`
}

// Average returns the mean run time, or 0 before the first run.
func (m Metrics) Average() time.Duration {
	if m.InferenceCount == 0 {
		return 0
	}
	return m.Total / time.Duration(m.InferenceCount)
}

// Backend runs an ONNX model with preallocated, fixed-shape tensors.
type Backend struct {
	mu       sync.Mutex
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	inShape  []int64
	outShape []int64
	metrics  Metrics
	logger   *zap.SugaredLogger
}

// New creates an onnxruntime backend.
//
// Order of operations:
//  1. Model and library path checks.
//  2. Environment setup, once per process.
//  3. Node name and shape resolution from the configuration or the model metadata.
//  4. Tensor allocation for the fixed input and output shapes.
//  5. Session options and execution provider.
//  6. Session creation binding the tensors.
//
// Arguments:
//   - cfg: The backend configuration.
//   - logger: The logger for session lifecycle messages.
//
// Returns:
//   - *Backend: The backend. Call Close to release native resources.
//   - error: An error if any step fails.
func New(cfg Config, logger *zap.SugaredLogger) (*Backend, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model %s", cfg.ModelPath)
	}

	if err := initEnvironment(cfg.SharedLibrary); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading model metadata")
	}
	inName, inShape, err := pickNode("input", cfg.InputName, cfg.InputShape, inputs)
	if err != nil {
		return nil, err
	}
	outName, outShape, err := pickNode("output", cfg.OutputName, cfg.OutputShape, outputs)
	if err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(inShape...))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(outShape...))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			input.Destroy()
			output.Destroy()
			return nil, errors.Wrap(err, "error setting intra-op threads")
		}
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error setting graph optimization level")
	}
	if err := appendProvider(options, cfg); err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{inName},
		[]string{outName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	logger.Infow("onnx session ready",
		"model", cfg.ModelPath,
		"provider", cfg.Provider,
		"input", inName, "input_shape", inShape,
		"output", outName, "output_shape", outShape,
	)

	return &Backend{
		session:  session,
		input:    input,
		output:   output,
		inShape:  inShape,
		outShape: outShape,
		logger:   logger,
	}, nil
}

var envMu sync.Mutex

// initEnvironment loads the shared library and initializes the runtime once per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	if libPath == "" {
		var err error
		if libPath, err = DefaultSharedLibPath(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// pickNode resolves a node name and a fully static shape.
//
// A configured name must exist in the model; an empty one selects the first node.
// A configured shape wins over the model metadata, which must otherwise be static.
func pickNode(kind, name string, shape []int64, nodes []ort.InputOutputInfo) (string, []int64, error) {
	if len(nodes) == 0 {
		return "", nil, errors.Errorf("model has no %s nodes", kind)
	}

	node := nodes[0]
	if name != "" {
		found := false
		for _, n := range nodes {
			if n.Name == name {
				node, found = n, true
				break
			}
		}
		if !found {
			return "", nil, errors.Errorf("model has no %s named %q", kind, name)
		}
	}

	if len(shape) == 0 {
		shape = []int64(node.Dimensions)
	}
	for _, d := range shape {
		if d <= 0 {
			return "", nil, errors.Errorf("%s %q has dynamic shape %v; configure it explicitly", kind, node.Name, shape)
		}
	}

	return node.Name, append([]int64(nil), shape...), nil
}

// Run executes the model on input.
//
// The input shape must equal the bound input shape. The returned tensor owns
// a copy of the output data.
//
// Arguments:
//   - ctx: Checked before the run; a started run cannot be interrupted.
//   - input: The input tensor.
//
// Returns:
//   - []inference.Tensor: A single output tensor.
//   - error: An error if the input does not fit or the run fails.
func (b *Backend) Run(ctx context.Context, input inference.Tensor) ([]inference.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil, errors.New("onnx backend is closed")
	}
	if !sameShape(input.Shape, b.inShape) {
		return nil, errors.Errorf("input shape %v, model expects %v", input.Shape, b.inShape)
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	copy(b.input.GetData(), input.Data)

	start := time.Now()
	err := b.session.Run()
	elapsed := time.Since(start)
	if err != nil {
		return nil, errors.Wrap(err, "error running ORT session")
	}

	b.metrics.InferenceCount++
	b.metrics.Total += elapsed
	b.metrics.Last = elapsed
	b.logger.Debugw("onnx run", "elapsed", elapsed, "runs", b.metrics.InferenceCount)

	data := make([]float32, len(b.output.GetData()))
	copy(data, b.output.GetData())

	return []inference.Tensor{{Shape: append([]int64(nil), b.outShape...), Data: data}}, nil
}

// Metrics returns a snapshot of the cumulative timings.
func (b *Backend) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// Close releases the session and tensors.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.session != nil {
		err = multierr.Append(err, errors.Wrap(b.session.Destroy(), "error destroying ORT session"))
		b.session = nil
	}
	if b.input != nil {
		err = multierr.Append(err, b.input.Destroy())
		b.input = nil
	}
	if b.output != nil {
		err = multierr.Append(err, b.output.Destroy())
		b.output = nil
	}
	return err
}

func sameShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
