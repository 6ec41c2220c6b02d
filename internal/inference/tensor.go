package inference

import (
	"fmt"

	"gorgonia.org/tensor"
)

// NewTensor builds a float32 tensor, checking that data fills the shape
func NewTensor(shape []int, data []float32) (*tensor.Dense, error) {
	size := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid tensor shape %v", shape)
		}
		size *= d
	}
	if len(shape) == 0 || size != len(data) {
		return nil, fmt.Errorf("tensor shape %v does not match %d values", shape, len(data))
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

// Float32s returns the backing values of a float32 tensor in row-major order
func Float32s(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("nil tensor")
	}
	switch data := t.Data().(type) {
	case []float32:
		return data, nil
	case float32:
		return []float32{data}, nil
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %v", t.Dtype())
	}
}

// wireTensor is the msgpack form of a tensor on the engine transport
type wireTensor struct {
	Shape []int     `msgpack:"shape"`
	Data  []float32 `msgpack:"data"`
}

func toWire(tensors map[string]*tensor.Dense) (map[string]wireTensor, error) {
	out := make(map[string]wireTensor, len(tensors))
	for name, t := range tensors {
		data, err := Float32s(t)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		out[name] = wireTensor{Shape: []int(t.Shape()), Data: data}
	}
	return out, nil
}

func fromWire(tensors map[string]wireTensor) (map[string]*tensor.Dense, error) {
	out := make(map[string]*tensor.Dense, len(tensors))
	for name, w := range tensors {
		t, err := NewTensor(w.Shape, w.Data)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}
