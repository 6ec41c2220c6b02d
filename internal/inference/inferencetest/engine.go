// Package inferencetest provides an in-memory inference engine with
// scriptable models for tests.
package inferencetest

import (
	"context"
	"fmt"
	"sync"

	"gorgonia.org/tensor"

	"gazepointer/internal/inference"
)

// InferFunc computes the outputs of a fake model
type InferFunc func(inputs map[string]*tensor.Dense) (map[string]*tensor.Dense, error)

// Model is a fake network description plus its behaviour
type Model struct {
	Network inference.Network
	Infer   InferFunc
	Perf    map[string]inference.PerfCount
}

// Engine is an in-memory inference.Engine
type Engine struct {
	mu         sync.Mutex
	models     map[string]*Model
	devices    map[string]bool
	extensions []string
	loads      map[string]int
	calls      map[string]int
	closed     map[string]int
}

// NewEngine creates an engine that can bind networks on the given devices
func NewEngine(devices ...string) *Engine {
	e := &Engine{
		models:  make(map[string]*Model),
		devices: make(map[string]bool),
		loads:   make(map[string]int),
		calls:   make(map[string]int),
		closed:  make(map[string]int),
	}
	for _, d := range devices {
		e.devices[d] = true
	}
	return e
}

// AddModel makes a model readable under path
func (e *Engine) AddModel(path string, m *Model) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m.Network.Path == "" {
		m.Network.Path = path
	}
	e.models[path] = m
}

// SetInfer replaces the behaviour of a registered model
func (e *Engine) SetInfer(path string, fn InferFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.models[path]; ok {
		m.Infer = fn
	}
}

// Calls returns how many inference requests hit the model at path
func (e *Engine) Calls(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[path]
}

// Loads returns how many times the model at path was bound to a device
func (e *Engine) Loads(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads[path]
}

// Closed returns how many bindings of the model at path were released
func (e *Engine) Closed(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed[path]
}

// Extensions returns the registered extension libraries as "device:path"
func (e *Engine) Extensions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.extensions...)
}

func (e *Engine) ReadNetwork(_ context.Context, path string) (*inference.Network, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.models[path]
	if !ok {
		topology, _ := inference.DescriptorFiles(path)
		return nil, fmt.Errorf("%w: %s", inference.ErrUnknownModel, topology)
	}
	n := m.Network
	return &n, nil
}

func (e *Engine) AddExtension(_ context.Context, path string, device string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.devices[device] {
		return fmt.Errorf("%w: %s", inference.ErrDeviceUnavailable, device)
	}
	e.extensions = append(e.extensions, device+":"+path)
	return nil
}

func (e *Engine) LoadNetwork(_ context.Context, network *inference.Network, device string) (inference.ExecutableNetwork, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.devices[device] {
		return nil, fmt.Errorf("%w: %s", inference.ErrDeviceUnavailable, device)
	}
	if _, ok := e.models[network.Path]; !ok {
		return nil, fmt.Errorf("%w: %s", inference.ErrUnknownModel, network.Path)
	}
	e.loads[network.Path]++
	return &executable{engine: e, path: network.Path}, nil
}

type executable struct {
	engine *Engine
	path   string
}

func (x *executable) Infer(_ context.Context, inputs map[string]*tensor.Dense) (map[string]*tensor.Dense, error) {
	x.engine.mu.Lock()
	m := x.engine.models[x.path]
	x.engine.calls[x.path]++
	x.engine.mu.Unlock()

	if m == nil || m.Infer == nil {
		return nil, fmt.Errorf("no behaviour scripted for %s", x.path)
	}
	return m.Infer(inputs)
}

func (x *executable) PerfCounts(_ context.Context) (map[string]inference.PerfCount, error) {
	x.engine.mu.Lock()
	defer x.engine.mu.Unlock()
	counts := make(map[string]inference.PerfCount)
	if m := x.engine.models[x.path]; m != nil {
		for k, v := range m.Perf {
			counts[k] = v
		}
	}
	return counts, nil
}

func (x *executable) Close() error {
	x.engine.mu.Lock()
	defer x.engine.mu.Unlock()
	x.engine.closed[x.path]++
	return nil
}

// Ensure Engine implements inference.Engine
var _ inference.Engine = (*Engine)(nil)
