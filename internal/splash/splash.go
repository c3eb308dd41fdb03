// Package splash implements the error-splash state machine: on any
// terminal load failure, subsystems are reinitialized with the default
// runtime configuration and a minimal event loop renders a fallback
// image and message instead of the guest application.
package splash

import (
	"context"
	"fmt"

	"github.com/sandboxrt/sandboxrt/internal/bundle"
	"github.com/sandboxrt/sandboxrt/internal/config"
)

// State is one of the three splash states.
type State int

const (
	StateNoError State = iota
	StateDefaultSplash
	StateBundleSplash
)

// String renders the state for diagnostics.
func (s State) String() string {
	switch s {
	case StateNoError:
		return "no-error"
	case StateDefaultSplash:
		return "default-splash"
	case StateBundleSplash:
		return "bundle-splash"
	default:
		return "unknown"
	}
}

// DefaultImage and DefaultMessage back the no-bundle-available case.
const (
	DefaultImage   = "builtin://default-splash.png"
	DefaultMessage = "The application failed to start."
)

// Splash holds the resolved image/message pair and the state that
// produced it, plus the runtime configuration subsystems should be
// reinitialized with while the splash is showing.
type Splash struct {
	State         State
	ImagePath     string
	ImageData     []byte
	Message       string
	RuntimeConfig config.RuntimeConfig
}

// Reinitializer tears down and rebuilds the subsystems the splash path
// needs to run its own minimal event loop (render device, canvas,
// event ring), since a terminal load failure may have left them
// partially constructed or torn down entirely.
type Reinitializer interface {
	Reinitialize(ctx context.Context, cfg config.RuntimeConfig) error
}

// Resolve picks the fallback image and message for a terminal load
// failure. If handle is non-nil and a bundle is mounted, it walks the
// bundle's fixed fallback-image priority list; otherwise it falls back
// to the built-in default image and message.
func Resolve(handle *bundle.Handle, bundleErrorMessage string) (Splash, error) {
	cfg := config.Default()

	if handle != nil {
		if data, path, ok := handle.FirstFallbackImage(); ok {
			message := bundleErrorMessage
			if message == "" {
				message = DefaultMessage
			}
			return Splash{
				State:         StateBundleSplash,
				ImagePath:     path,
				ImageData:     data,
				Message:       message,
				RuntimeConfig: cfg,
			}, nil
		}
	}

	return Splash{
		State:         StateDefaultSplash,
		ImagePath:     DefaultImage,
		Message:       DefaultMessage,
		RuntimeConfig: cfg,
	}, nil
}

// Enter resolves a splash and reinitializes subsystems through r with
// the default runtime configuration before returning.
func Enter(ctx context.Context, handle *bundle.Handle, bundleErrorMessage string, r Reinitializer) (Splash, error) {
	s, err := Resolve(handle, bundleErrorMessage)
	if err != nil {
		return Splash{}, err
	}
	if r != nil {
		if err := r.Reinitialize(ctx, s.RuntimeConfig); err != nil {
			return Splash{}, fmt.Errorf("splash: reinitializing subsystems: %w", err)
		}
	}
	return s, nil
}
