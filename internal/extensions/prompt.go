package extensions

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/sandboxrt/sandboxrt/internal/capabilities"
)

// HuhPrompter gates a capability grant behind a charmbracelet/huh
// confirmation prompt. Use it only when the host's stdin is a terminal;
// constructing one on a non-interactive host would block forever on a
// prompt nobody can answer.
type HuhPrompter struct{}

// NewHuhPrompter returns a Prompter backed by an interactive confirm
// prompt.
func NewHuhPrompter() *HuhPrompter {
	return &HuhPrompter{}
}

// Confirm asks the user whether to grant cap, describing it in terms of
// the kind/pattern pair rather than raw extension internals.
func (p *HuhPrompter) Confirm(cap capabilities.Capability) (bool, error) {
	var allow bool
	err := huh.NewConfirm().
		Title("Extension requests permission").
		Description(describeCapability(cap)).
		Affirmative("Allow").
		Negative("Deny").
		Value(&allow).
		Run()
	if err != nil {
		return false, err
	}
	return allow, nil
}

func describeCapability(cap capabilities.Capability) string {
	return fmt.Sprintf("%s: %s", cap.Kind, cap.Pattern)
}

// IsInteractive reports whether the host's stdin is attached to a
// terminal, matching the teacher's own TTY-detection strategy.
func IsInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
