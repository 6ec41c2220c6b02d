package pointer

import (
	"errors"
	"image"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, d Driver, precision, speed string) (*Controller, *[]time.Duration) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c, err := New(d, precision, speed, logger)
	require.NoError(t, err)
	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	return c, &slept
}

func TestNewValidatesKnobs(t *testing.T) {
	screen := NewVirtual(100, 100)

	_, err := New(screen, "ultra", "fast", nil)
	assert.Error(t, err)
	_, err = New(screen, "low", "warp", nil)
	assert.Error(t, err)
	_, err = New(nil, "low", "fast", nil)
	assert.Error(t, err)
	_, err = New(screen, "high", "slow", nil)
	assert.NoError(t, err)
}

func TestMoveIsRelativeAndInterpolated(t *testing.T) {
	screen := NewVirtual(1920, 1080) // cursor at (960, 540)
	c, slept := newTestController(t, screen, "high", "fast")

	require.NoError(t, c.Move(0.5, 0.25))

	moves := screen.Moves()
	require.Len(t, moves, 10) // 100ms in 10ms steps
	assert.Equal(t, image.Pt(965, 538), moves[0])
	assert.Equal(t, image.Pt(1010, 515), moves[len(moves)-1])
	assert.Len(t, *slept, 9)
	for _, d := range *slept {
		assert.Equal(t, 10*time.Millisecond, d)
	}

	// The next move starts from where the last one ended
	require.NoError(t, c.Move(-0.1, 0))
	moves = screen.Moves()
	assert.Equal(t, image.Pt(1000, 515), moves[len(moves)-1])
}

func TestMoveSpeedSetsStepCount(t *testing.T) {
	cases := map[string]int{"fast": 10, "medium": 25, "slow": 50}
	for speed, steps := range cases {
		screen := NewVirtual(800, 600)
		c, _ := newTestController(t, screen, "low", speed)
		require.NoError(t, c.Move(0.01, 0))
		assert.Len(t, screen.Moves(), steps, speed)
	}
}

func TestMoveClampsToScreen(t *testing.T) {
	screen := NewVirtual(800, 600)
	c, _ := newTestController(t, screen, "low", "fast")

	require.NoError(t, c.Move(5, -7))
	x, y, _ := screen.Position()
	assert.Equal(t, 799, x)
	assert.Equal(t, 599, y)

	require.NoError(t, c.Move(-50, 50))
	x, y, _ = screen.Position()
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)

	for _, p := range screen.Moves() {
		assert.True(t, p.In(image.Rect(0, 0, 800, 600)), "%v off screen", p)
	}
}

func TestMoveIgnoresNonFiniteInput(t *testing.T) {
	screen := NewVirtual(800, 600)
	c, _ := newTestController(t, screen, "medium", "fast")

	require.NoError(t, c.Move(math.NaN(), math.Inf(1)))
	x, y, _ := screen.Position()
	assert.Equal(t, 400, x)
	assert.Equal(t, 300, y)
}

type failingDriver struct{ *Virtual }

func (failingDriver) MoveTo(int, int) error { return errors.New("display closed") }

func TestMoveReportsDriverErrors(t *testing.T) {
	c, _ := newTestController(t, failingDriver{NewVirtual(10, 10)}, "low", "fast")
	assert.ErrorContains(t, c.Move(0.1, 0.1), "display closed")
}

func TestXdotoolParsesOutput(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewXdotool(logger)
	var calls []string
	d.run = func(args ...string) ([]byte, error) {
		calls = append(calls, strings.Join(args, " "))
		switch args[0] {
		case "getmouselocation":
			return []byte("X=640\nY=360\nSCREEN=0\nWINDOW=12345\n"), nil
		case "getdisplaygeometry":
			return []byte("1280 720\n"), nil
		}
		return nil, nil
	}

	x, y, err := d.Position()
	require.NoError(t, err)
	assert.Equal(t, 640, x)
	assert.Equal(t, 360, y)

	w, h, err := d.ScreenSize()
	require.NoError(t, err)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
	_, _, _ = d.ScreenSize()

	require.NoError(t, d.MoveTo(10, 20))
	assert.Equal(t, []string{"getmouselocation --shell", "getdisplaygeometry", "mousemove 10 20"}, calls)
}

func TestXdotoolReportsGarbage(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewXdotool(logger)
	d.run = func(args ...string) ([]byte, error) {
		return []byte("Error: Can't open display"), nil
	}

	_, _, err := d.Position()
	assert.Error(t, err)
	_, _, err = d.ScreenSize()
	assert.Error(t, err)
}

func TestNewDriver(t *testing.T) {
	d, err := NewDriver("none", nil)
	require.NoError(t, err)
	w, h, err := d.ScreenSize()
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	_, err = NewDriver("wayland", nil)
	assert.Error(t, err)
	assert.Contains(t, Drivers(), "xdotool")
}
