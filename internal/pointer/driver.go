// Package pointer moves the OS cursor from gaze vectors.
package pointer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Driver is the OS pointer API
type Driver interface {
	// Position returns the current cursor position in screen pixels
	Position() (x, y int, err error)

	// ScreenSize returns the screen size in pixels
	ScreenSize() (w, h int, err error)

	// MoveTo places the cursor at an absolute position
	MoveTo(x, y int) error
}

// DriverFactory builds a driver by name
type DriverFactory func(logger logrus.FieldLogger) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]DriverFactory{
		"xdotool": func(logger logrus.FieldLogger) (Driver, error) { return NewXdotool(logger), nil },
		"none": func(logrus.FieldLogger) (Driver, error) {
			return NewVirtual(1920, 1080), nil
		},
	}
)

// RegisterDriver makes a driver available to NewDriver
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// Drivers lists the registered driver names
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDriver builds the named driver
func NewDriver(name string, logger logrus.FieldLogger) (Driver, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown pointer driver %q (available: %v)", name, Drivers())
	}
	return factory(logger)
}
