//go:build robotgo

package pointer

import (
	"github.com/go-vgo/robotgo"
	"github.com/sirupsen/logrus"
)

func init() {
	RegisterDriver("robotgo", func(logrus.FieldLogger) (Driver, error) {
		return Robotgo{}, nil
	})
}

// Robotgo drives the pointer through robotgo. Requires cgo.
type Robotgo struct{}

func (Robotgo) Position() (int, int, error) {
	x, y := robotgo.Location()
	return x, y, nil
}

func (Robotgo) ScreenSize() (int, int, error) {
	w, h := robotgo.GetScreenSize()
	return w, h, nil
}

func (Robotgo) MoveTo(x, y int) error {
	robotgo.Move(x, y)
	return nil
}
