package pointer

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Precision is how many pixels one unit of gaze moves the cursor
type Precision string

const (
	PrecisionHigh   Precision = "high"
	PrecisionMedium Precision = "medium"
	PrecisionLow    Precision = "low"
)

var precisionPixels = map[Precision]float64{
	PrecisionHigh:   100,
	PrecisionMedium: 500,
	PrecisionLow:    1000,
}

// Speed is how long one move takes to complete
type Speed string

const (
	SpeedFast   Speed = "fast"
	SpeedMedium Speed = "medium"
	SpeedSlow   Speed = "slow"
)

var speedDurations = map[Speed]time.Duration{
	SpeedFast:   100 * time.Millisecond,
	SpeedMedium: 250 * time.Millisecond,
	SpeedSlow:   500 * time.Millisecond,
}

// stepInterval is the pause between two interpolated cursor positions
const stepInterval = 10 * time.Millisecond

// Controller turns gaze projections into relative, bounded cursor moves
type Controller struct {
	driver    Driver
	precision Precision
	speed     Speed
	sleep     func(time.Duration)
	log       logrus.FieldLogger
}

// New validates precision and speed and creates a controller
func New(driver Driver, precision, speed string, logger logrus.FieldLogger) (*Controller, error) {
	if driver == nil {
		return nil, fmt.Errorf("pointer driver is required")
	}
	p := Precision(precision)
	if _, ok := precisionPixels[p]; !ok {
		return nil, fmt.Errorf("invalid precision %q (want high, medium or low)", precision)
	}
	s := Speed(speed)
	if _, ok := speedDurations[s]; !ok {
		return nil, fmt.Errorf("invalid speed %q (want fast, medium or slow)", speed)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{driver: driver, precision: p, speed: s, sleep: time.Sleep, log: logger}, nil
}

// Move displaces the cursor by (x, -y) × precision from where it is now.
// Targets past the screen edge are clamped, never rejected.
func (c *Controller) Move(x, y float64) error {
	startX, startY, err := c.driver.Position()
	if err != nil {
		return fmt.Errorf("error reading pointer position: %w", err)
	}
	w, h, err := c.driver.ScreenSize()
	if err != nil {
		return fmt.Errorf("error reading screen size: %w", err)
	}

	scale := precisionPixels[c.precision]
	targetX := clamp(float64(startX)+finite(x)*scale, w)
	targetY := clamp(float64(startY)-finite(y)*scale, h)

	steps := int(speedDurations[c.speed] / stepInterval)
	for i := 1; i <= steps; i++ {
		px := startX + (targetX-startX)*i/steps
		py := startY + (targetY-startY)*i/steps
		if err := c.driver.MoveTo(px, py); err != nil {
			return fmt.Errorf("error moving pointer: %w", err)
		}
		if i < steps {
			c.sleep(stepInterval)
		}
	}

	c.log.Debugf("[Pointer] (%d,%d) -> (%d,%d)", startX, startY, targetX, targetY)
	return nil
}

// finite maps NaN and infinities to zero displacement
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v float64, size int) int {
	if size <= 0 || v < 0 {
		return 0
	}
	if limit := float64(size - 1); v > limit {
		return size - 1
	}
	return int(math.Round(v))
}
