package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModel is returned when a model descriptor cannot be resolved.
	ErrUnknownModel = errors.New("model descriptor not found")
	// ErrDeviceUnavailable is returned when a device cannot host a network.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrUnknownHandle is returned for calls on an unloaded network.
	ErrUnknownHandle = errors.New("unknown network handle")
)

// ModelLoadError reports a model whose topology/weights pair could not be read.
// It is fatal: the deployment is misconfigured.
type ModelLoadError struct {
	Model string
	Path  string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("could not initialise %s model from %q (check the model path): %v", e.Model, e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// DeviceBindError reports a model that could not be bound to the requested device.
type DeviceBindError struct {
	Model  string
	Device string
	Err    error
}

func (e *DeviceBindError) Error() string {
	return fmt.Sprintf("could not load %s model on device %s: %v", e.Model, e.Device, e.Err)
}

func (e *DeviceBindError) Unwrap() error {
	return e.Err
}

// InferenceError is a per-call failure. Callers drop the current frame.
type InferenceError struct {
	Model string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference failed: %v", e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
