package inference

import (
	"context"
	"fmt"
	"time"

	"gorgonia.org/tensor"
)

// TensorInfo describes one named input or output of a network
type TensorInfo struct {
	Name  string
	Shape []int
}

// Network is a model descriptor that has been read but not bound to a device
type Network struct {
	Name    string
	Path    string
	Inputs  []TensorInfo
	Outputs []TensorInfo
}

// Input returns the declared input with the given name
func (n *Network) Input(name string) (TensorInfo, bool) {
	for _, in := range n.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return TensorInfo{}, false
}

// Output returns the declared output with the given name
func (n *Network) Output(name string) (TensorInfo, bool) {
	for _, out := range n.Outputs {
		if out.Name == name {
			return out, true
		}
	}
	return TensorInfo{}, false
}

// FirstInput returns the first declared input, used by single-input models
func (n *Network) FirstInput() (TensorInfo, error) {
	if len(n.Inputs) == 0 {
		return TensorInfo{}, fmt.Errorf("network %s declares no inputs", n.Name)
	}
	return n.Inputs[0], nil
}

// FirstOutput returns the first declared output, used by single-output models
func (n *Network) FirstOutput() (TensorInfo, error) {
	if len(n.Outputs) == 0 {
		return TensorInfo{}, fmt.Errorf("network %s declares no outputs", n.Name)
	}
	return n.Outputs[0], nil
}

// DescriptorFiles returns the topology and weights files for a model base path
func DescriptorFiles(path string) (topology, weights string) {
	return path + ".xml", path + ".bin"
}

// PerfCount is the execution profile of one network layer
type PerfCount struct {
	Status   string        `json:"status"`
	ExecType string        `json:"exec_type"`
	RealTime time.Duration `json:"real_time"`
	CPUTime  time.Duration `json:"cpu_time"`
}

// Engine is the inference runtime. It owns model parsing and device binding;
// callers only supply paths and device tokens.
type Engine interface {
	// ReadNetwork parses the descriptor pair identified by a base path
	ReadNetwork(ctx context.Context, path string) (*Network, error)

	// AddExtension registers a device extension library
	AddExtension(ctx context.Context, path string, device string) error

	// LoadNetwork binds a network to a device with a single infer request
	LoadNetwork(ctx context.Context, network *Network, device string) (ExecutableNetwork, error)
}

// ExecutableNetwork is a network bound to a device
type ExecutableNetwork interface {
	// Infer runs one blocking inference request
	Infer(ctx context.Context, inputs map[string]*tensor.Dense) (map[string]*tensor.Dense, error)

	// PerfCounts returns per-layer counters of the last request
	PerfCounts(ctx context.Context) (map[string]PerfCount, error)

	// Close releases the device binding
	Close() error
}
