package pointer

import (
	"image"
	"sync"
)

// Virtual is an in-memory screen. It backs -pointer=none and tests.
type Virtual struct {
	mu     sync.Mutex
	width  int
	height int
	pos    image.Point
	moves  []image.Point
}

// NewVirtual creates a screen of w×h with the cursor in the centre
func NewVirtual(w, h int) *Virtual {
	return &Virtual{width: w, height: h, pos: image.Pt(w/2, h/2)}
}

func (v *Virtual) Position() (int, int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pos.X, v.pos.Y, nil
}

func (v *Virtual) ScreenSize() (int, int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.width, v.height, nil
}

func (v *Virtual) MoveTo(x, y int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pos = image.Pt(x, y)
	v.moves = append(v.moves, v.pos)
	return nil
}

// Moves returns every position the cursor was placed at
func (v *Virtual) Moves() []image.Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]image.Point(nil), v.moves...)
}
