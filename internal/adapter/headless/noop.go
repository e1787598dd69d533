package headless

import (
	"context"

	"github.com/ballardtrucks/roundup/internal/errclass"
)

// Noop implements Renderer but always fails, indicating that headless
// rendering is not available. Sources configured to require it then
// surface a configuration failure instead of hanging.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render returns a configuration error since no browser is available.
func (Noop) Render(context.Context, string) (string, error) {
	return "", &errclass.ConfigError{Reason: "headless renderer not configured"}
}
