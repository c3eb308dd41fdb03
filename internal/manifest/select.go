package manifest

import (
	"hash/crc64"
	"log/slog"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Selector picks an integer in [0, totalWeight) identifying which
// cumulative-weight bucket wins. The default implementation is
// deterministic per device id; tests may substitute their own.
type Selector func(totalWeight int) int

var crc64Table = crc64.MakeTable(crc64.ECMA)

// DeviceCRCSelector returns the default selector: seeded from a CRC-64 of
// the device id, so the same device always selects the same variant until
// the manifest itself changes.
func DeviceCRCSelector(deviceID string) Selector {
	sum := crc64.Checksum([]byte(deviceID), crc64Table)
	return func(totalWeight int) int {
		if totalWeight <= 0 {
			return 0
		}
		return int(sum % uint64(totalWeight))
	}
}

// SelectVariant applies the A/B weighted-selection algorithm: each variant
// contributes its weight to a running total, and the first variant whose
// cumulative weight exceeds the selector's pick wins.
func SelectVariant(variants []BundleVariant, selector Selector) (BundleVariant, bool) {
	total := 0
	for _, v := range variants {
		total += v.Weight()
	}
	if total == 0 {
		return BundleVariant{}, false
	}

	pick := selector(total)
	cumulative := 0
	for _, v := range variants {
		cumulative += v.Weight()
		if pick < cumulative {
			return v, true
		}
	}
	return variants[len(variants)-1], true
}

// ParseInterpreterConstraint splits a manifest variant's "interpreter"
// field of the form "name@constraint" into its name and semver
// constraint. A bare name with no "@" has no constraint and always
// satisfies the gate.
func ParseInterpreterConstraint(field string) (name string, constraint *semver.Constraints, err error) {
	name = field
	if idx := strings.IndexByte(field, '@'); idx >= 0 {
		name = field[:idx]
		c, cerr := semver.NewConstraint(field[idx+1:])
		if cerr != nil {
			return name, nil, cerr
		}
		constraint = c
	}
	return name, constraint, nil
}

// SatisfiesInterpreter reports whether installedVersion satisfies the
// variant's interpreter constraint (if any) and matches the installed
// interpreter's name. A variant naming a different interpreter entirely
// never satisfies the gate, regardless of version.
func SatisfiesInterpreter(variant BundleVariant, installedName, installedVersion string, logger *slog.Logger) bool {
	if variant.Interpreter == "" {
		return true
	}
	if logger == nil {
		logger = slog.Default()
	}

	name, constraint, err := ParseInterpreterConstraint(variant.Interpreter)
	if err != nil {
		logger.Warn("manifest: invalid interpreter constraint, skipping variant", "interpreter", variant.Interpreter, "error", err)
		return false
	}
	if !strings.EqualFold(name, installedName) {
		return false
	}
	if constraint == nil {
		return true
	}

	v, err := semver.NewVersion(installedVersion)
	if err != nil {
		logger.Warn("manifest: installed interpreter version is not semver, skipping gate", "version", installedVersion, "error", err)
		return true
	}
	if !constraint.Check(v) {
		logger.Warn("manifest: interpreter version does not satisfy constraint, falling through", "constraint", variant.Interpreter, "installed", installedVersion)
		return false
	}
	return true
}
