package manifest

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DeviceMetrics is the closed set of system properties a manifest option's
// rules may predicate on. Property names are matched case-insensitively.
type DeviceMetrics struct {
	Vendor      string
	Device      string
	Firmware    string
	CPU         string
	GPU         string
	Region      string
	Revision    string
	CoreVersion string
	Software    string
	Config      string
	DeviceID    string
}

// field looks up a metric by case-insensitive property name, reporting
// whether the name belongs to the closed set at all.
func (m DeviceMetrics) field(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "vendor":
		return m.Vendor, true
	case "device":
		return m.Device, true
	case "firmware":
		return m.Firmware, true
	case "cpu":
		return m.CPU, true
	case "gpu":
		return m.GPU, true
	case "region":
		return m.Region, true
	case "revision":
		return m.Revision, true
	case "core_version":
		return m.CoreVersion, true
	case "software":
		return m.Software, true
	case "config":
		return m.Config, true
	case "device_id":
		return m.DeviceID, true
	default:
		return "", false
	}
}

// exprRule is the shape of a rule value that escapes into expr-lang:
// {"expr": "<bool expression>"}, evaluated with DeviceMetrics as its
// environment. This is an addition layered above the mandatory any-of
// matching below, never a replacement for it.
type exprRule struct {
	Expr string `json:"expr"`
}

// Matches reports whether every rule in an option is satisfied by the
// given device metrics. Unknown property names are ignored with a
// warning. An option with rules is matched with "any-of" semantics per
// property: at least one listed value must equal the device's value for
// that property.
func Matches(rules map[string]json.RawMessage, metrics DeviceMetrics, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}

	for prop, raw := range rules {
		var er exprRule
		if err := json.Unmarshal(raw, &er); err == nil && er.Expr != "" {
			ok, err := evalExprRule(er.Expr, metrics)
			if err != nil {
				logger.Warn("manifest: expr rule evaluation failed", "property", prop, "error", err)
				return false
			}
			if !ok {
				return false
			}
			continue
		}

		value, known := metrics.field(prop)
		if !known {
			logger.Warn("manifest: unknown rule property ignored", "property", prop)
			continue
		}

		var candidates []string
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			candidates = []string{single}
		} else if err := json.Unmarshal(raw, &candidates); err != nil {
			logger.Warn("manifest: malformed rule value ignored", "property", prop)
			continue
		}

		if !anyOfMatch(value, candidates) {
			return false
		}
	}
	return true
}

func anyOfMatch(value string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(value, c) {
			return true
		}
	}
	return false
}

var compiledExprCache = map[string]*vm.Program{}

func evalExprRule(source string, metrics DeviceMetrics) (bool, error) {
	program, ok := compiledExprCache[source]
	if !ok {
		env := map[string]interface{}{
			"vendor":       metrics.Vendor,
			"device":       metrics.Device,
			"firmware":     metrics.Firmware,
			"cpu":          metrics.CPU,
			"gpu":          metrics.GPU,
			"region":       metrics.Region,
			"revision":     metrics.Revision,
			"core_version": metrics.CoreVersion,
			"software":     metrics.Software,
			"config":       metrics.Config,
			"device_id":    metrics.DeviceID,
		}
		compiled, err := expr.Compile(source, expr.Env(env), expr.AsBool())
		if err != nil {
			return false, err
		}
		compiledExprCache[source] = compiled
		program = compiled
	}

	out, err := expr.Run(program, map[string]interface{}{
		"vendor":       metrics.Vendor,
		"device":       metrics.Device,
		"firmware":     metrics.Firmware,
		"cpu":          metrics.CPU,
		"gpu":          metrics.GPU,
		"region":       metrics.Region,
		"revision":     metrics.Revision,
		"core_version": metrics.CoreVersion,
		"software":     metrics.Software,
		"config":       metrics.Config,
		"device_id":    metrics.DeviceID,
	})
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}
