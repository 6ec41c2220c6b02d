package pointer

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Xdotool drives the X11 pointer through the xdotool command
type Xdotool struct {
	run func(args ...string) ([]byte, error)
	log logrus.FieldLogger

	once   sync.Once
	width  int
	height int
	err    error
}

// NewXdotool creates a driver that shells out to xdotool
func NewXdotool(logger logrus.FieldLogger) *Xdotool {
	return &Xdotool{
		run: func(args ...string) ([]byte, error) {
			return exec.Command("xdotool", args...).Output()
		},
		log: logger,
	}
}

// Position parses `xdotool getmouselocation --shell`
func (d *Xdotool) Position() (int, int, error) {
	out, err := d.run("getmouselocation", "--shell")
	if err != nil {
		return 0, 0, fmt.Errorf("xdotool getmouselocation: %w", err)
	}

	x, y := -1, -1
	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		switch key {
		case "X":
			x = n
		case "Y":
			y = n
		}
	}
	if x < 0 || y < 0 {
		return 0, 0, fmt.Errorf("unexpected xdotool output %q", strings.TrimSpace(string(out)))
	}
	return x, y, nil
}

// ScreenSize parses `xdotool getdisplaygeometry` once and caches it
func (d *Xdotool) ScreenSize() (int, int, error) {
	d.once.Do(func() {
		out, err := d.run("getdisplaygeometry")
		if err != nil {
			d.err = fmt.Errorf("xdotool getdisplaygeometry: %w", err)
			return
		}
		fields := strings.Fields(string(out))
		if len(fields) != 2 {
			d.err = fmt.Errorf("unexpected xdotool output %q", strings.TrimSpace(string(out)))
			return
		}
		w, errW := strconv.Atoi(fields[0])
		h, errH := strconv.Atoi(fields[1])
		if errW != nil || errH != nil || w <= 0 || h <= 0 {
			d.err = fmt.Errorf("unexpected xdotool output %q", strings.TrimSpace(string(out)))
			return
		}
		d.width, d.height = w, h
		d.log.Infof("[Pointer] Screen size %dx%d", w, h)
	})
	return d.width, d.height, d.err
}

// MoveTo runs `xdotool mousemove x y`
func (d *Xdotool) MoveTo(x, y int) error {
	if _, err := d.run("mousemove", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return fmt.Errorf("xdotool mousemove: %w", err)
	}
	return nil
}
