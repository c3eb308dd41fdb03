// Package hostfuncs implements the host function façades a guest WASM
// application imports: HTTP, logging, and the other host services.
package hostfuncs

import (
	"fmt"

	"github.com/sandboxrt/sandboxrt/internal/capabilities"
)

// CapabilityChecker gates a host function call against the capability
// grant held by the running guest application.
type CapabilityChecker struct {
	policy  *capabilities.Policy
	granted capabilities.Grant
}

// NewCapabilityChecker builds a checker scoped to a single grant.
func NewCapabilityChecker(granted capabilities.Grant) *CapabilityChecker {
	return &CapabilityChecker{
		policy:  capabilities.NewPolicy(),
		granted: granted,
	}
}

// Check verifies a requested capability against the held grant.
func (c *CapabilityChecker) Check(kind, pattern string) error {
	requested := capabilities.Capability{Kind: kind, Pattern: pattern}
	if c.policy.IsGranted(requested, c.granted) {
		return nil
	}
	return fmt.Errorf("capability denied: %s:%s", kind, pattern)
}
