package engine

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/example/kidney-seg/internal/faults"
)

var ortInit sync.Once

// ONNXEngine runs the segmentation model through onnxruntime with
// pre-allocated input and output tensors. The session reuses those tensors
// across calls, so Run is serialized with a mutex; sessions across multiple
// streaming connections share this one engine.
type ONNXEngine struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputShape   []int64
	outputShape  []int64
}

// NewONNXEngine loads the model at modelPath and prepares a session with the
// given input and output shapes.
func NewONNXEngine(modelPath string, inputShape, outputShape []int64) (*ONNXEngine, error) {
	var initErr error
	ortInit.Do(func() {
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", initErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(inputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEngine{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputShape:   append([]int64(nil), inputShape...),
		outputShape:  append([]int64(nil), outputShape...),
	}, nil
}

// Infer copies input into the session tensor, runs the forward pass, and
// returns a copy of the raw scores. A wrong-sized input is a programming
// contract violation from the preprocessor, reported as an engine fault.
func (e *ONNXEngine) Infer(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Engine("engine.infer", err)
	}
	if len(input) != elementCount(e.inputShape) {
		return nil, faults.Engine("engine.infer",
			fmt.Errorf("input length %d does not match shape %v", len(input), e.inputShape))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputTensor.GetData(), input)
	if err := e.session.Run(); err != nil {
		return nil, faults.Engine("engine.infer", fmt.Errorf("inference failed: %w", err))
	}

	// Copy out so no caller aliases the session's reusable output buffer.
	out := make([]float32, len(e.outputTensor.GetData()))
	copy(out, e.outputTensor.GetData())
	return out, nil
}

// InputShape returns the expected input tensor shape.
func (e *ONNXEngine) InputShape() []int64 { return append([]int64(nil), e.inputShape...) }

// OutputShape returns the produced output tensor shape.
func (e *ONNXEngine) OutputShape() []int64 { return append([]int64(nil), e.outputShape...) }

// Close releases the session and its tensors.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	return nil
}
