// Package model wraps the four inference networks of the gaze pipeline.
// Each network goes through the same lifecycle: read the descriptor, bind it
// to a device, then answer one blocking request at a time.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"gazepointer/internal/inference"
)

// Spec identifies one model and where it runs
type Spec struct {
	Name       string
	Path       string
	Device     string
	Extensions []string
}

// Model is a network read from its descriptor pair and, after Load, bound to
// a device. It serializes inference requests.
type Model struct {
	spec    Spec
	engine  inference.Engine
	network *inference.Network
	log     logrus.FieldLogger

	mu   sync.Mutex
	exec inference.ExecutableNetwork
}

// Open reads the descriptor pair of spec.Path. A failure is a misconfigured
// deployment and is reported as *inference.ModelLoadError.
func Open(ctx context.Context, engine inference.Engine, spec Spec, logger logrus.FieldLogger) (*Model, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if spec.Path == "" {
		return nil, &inference.ModelLoadError{Model: spec.Name, Path: spec.Path, Err: fmt.Errorf("empty model path")}
	}

	network, err := engine.ReadNetwork(ctx, spec.Path)
	if err != nil {
		return nil, &inference.ModelLoadError{Model: spec.Name, Path: spec.Path, Err: err}
	}
	if len(network.Inputs) == 0 || len(network.Outputs) == 0 {
		return nil, &inference.ModelLoadError{
			Model: spec.Name,
			Path:  spec.Path,
			Err:   fmt.Errorf("network declares %d inputs and %d outputs", len(network.Inputs), len(network.Outputs)),
		}
	}
	if err := checkShapes(network); err != nil {
		return nil, &inference.ModelLoadError{Model: spec.Name, Path: spec.Path, Err: err}
	}

	return &Model{
		spec:    spec,
		engine:  engine,
		network: network,
		log:     logger.WithField("model", spec.Name),
	}, nil
}

// checkShapes rejects declared tensors with an empty or non-positive shape
func checkShapes(network *inference.Network) error {
	infos := append(append([]inference.TensorInfo(nil), network.Inputs...), network.Outputs...)
	for _, info := range infos {
		if len(info.Shape) == 0 {
			return fmt.Errorf("tensor %s has no shape", info.Name)
		}
		for _, d := range info.Shape {
			if d <= 0 {
				return fmt.Errorf("tensor %s has invalid shape %v", info.Name, info.Shape)
			}
		}
	}
	return nil
}

// Load registers the extension libraries for the device, then binds the
// network. Failures are reported as *inference.DeviceBindError.
func (m *Model) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec != nil {
		return nil
	}

	for _, ext := range m.spec.Extensions {
		if ext == "" {
			continue
		}
		if err := m.engine.AddExtension(ctx, ext, m.spec.Device); err != nil {
			return &inference.DeviceBindError{
				Model:  m.spec.Name,
				Device: m.spec.Device,
				Err:    fmt.Errorf("extension %s: %w", ext, err),
			}
		}
	}

	exec, err := m.engine.LoadNetwork(ctx, m.network, m.spec.Device)
	if err != nil {
		return &inference.DeviceBindError{Model: m.spec.Name, Device: m.spec.Device, Err: err}
	}
	m.exec = exec

	m.log.Debugf("[Model] %s loaded on %s", m.spec.Name, m.spec.Device)
	return nil
}

// Name returns the model name used in errors and logs
func (m *Model) Name() string {
	return m.spec.Name
}

// Network returns the descriptor read by Open
func (m *Model) Network() *inference.Network {
	return m.network
}

// infer runs one request. The lock keeps exactly one request in flight.
func (m *Model) infer(ctx context.Context, inputs map[string]*tensor.Dense) (map[string]*tensor.Dense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec == nil {
		return nil, fmt.Errorf("model %s is not loaded", m.spec.Name)
	}
	return m.exec.Infer(ctx, inputs)
}

// PerfCounts returns the per-layer counters of the last request
func (m *Model) PerfCounts(ctx context.Context) (map[string]inference.PerfCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec == nil {
		return nil, fmt.Errorf("model %s is not loaded", m.spec.Name)
	}
	return m.exec.PerfCounts(ctx)
}

// Close releases the device binding
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exec == nil {
		return nil
	}
	err := m.exec.Close()
	m.exec = nil
	return err
}
