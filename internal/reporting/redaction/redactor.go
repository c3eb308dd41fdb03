// Package redaction scrubs secrets out of telemetry before it leaves the
// process: span attributes, heap-metric tags, and guest-trap diagnostic
// messages most of all, since a crash report is exactly the place a raw
// credential or signed URL tends to end up verbatim.
package redaction

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// Scrubber sanitizes telemetry payloads before they reach a reporting
// sink. Safe for concurrent use: every field is read-only after New.
type Scrubber struct {
	patterns []*regexp.Regexp
	paths    []string
	hashMode bool
	salt     string

	detector *detect.Detector
}

// Config configures a Scrubber.
type Config struct {
	// Patterns are additional regexes redacted alongside gitleaks' own
	// rule set, e.g. a bundle signature key format specific to this host.
	Patterns []string
	// Paths are dot-notation attribute paths always redacted outright,
	// regardless of their value (e.g. "bundle.signature").
	Paths []string
	// HashMode replaces a match with a truncated HMAC instead of a fixed
	// "[REDACTED]" marker, so repeated occurrences of the same secret
	// across a crash report still correlate.
	HashMode bool
	Salt     string
	// DisableGitleaks restricts scrubbing to Patterns only, skipping the
	// full gitleaks rule set.
	DisableGitleaks bool
}

// New builds a Scrubber from cfg.
func New(cfg Config) (*Scrubber, error) {
	s := &Scrubber{
		paths:    cfg.Paths,
		hashMode: cfg.HashMode,
		salt:     cfg.Salt,
		patterns: make([]*regexp.Regexp, 0, len(cfg.Patterns)+len(builtinPatterns)),
	}

	if !cfg.DisableGitleaks {
		detector, err := newGitleaksDetector()
		if err == nil {
			s.detector = detector
		}
	}

	for _, p := range builtinPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction: compiling built-in pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, re)
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction: compiling custom pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, re)
	}

	return s, nil
}

func newGitleaksDetector() (*detect.Detector, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(strings.NewReader(config.DefaultConfig)); err != nil {
		return nil, fmt.Errorf("reading gitleaks default config: %w", err)
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return nil, fmt.Errorf("unmarshaling gitleaks config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return nil, fmt.Errorf("translating gitleaks config: %w", err)
	}

	return detect.NewDetector(cfg), nil
}

// Scrub redacts a telemetry payload in place (maps/slices) or returns a
// redacted copy (strings). Supported shapes: string, map[string]any,
// []any, and nested combinations of the three.
func (s *Scrubber) Scrub(value interface{}) interface{} {
	return s.walk(value, "")
}

// ScrubString redacts every secret gitleaks or the custom pattern set
// recognizes inside a single string.
func (s *Scrubber) ScrubString(input string) string {
	if input == "" {
		return ""
	}

	result := input

	if s.detector != nil {
		findings := s.detector.Detect(detect.Fragment{Raw: result})
		for _, finding := range findings {
			replacement := "[REDACTED]"
			if s.hashMode {
				replacement = s.hash(finding.Secret)
			}
			result = strings.ReplaceAll(result, finding.Secret, replacement)
		}
	}

	for _, re := range s.patterns {
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			if s.hashMode {
				return s.hash(match)
			}
			return "[REDACTED]"
		})
	}

	return result
}

func (s *Scrubber) walk(value interface{}, path string) interface{} {
	switch v := value.(type) {
	case string:
		if s.pathMatches(path) {
			if s.hashMode {
				return s.hash(v)
			}
			return "[REDACTED]"
		}
		return s.ScrubString(v)

	case map[string]interface{}:
		for k, child := range v {
			next := k
			if path != "" {
				next = path + "." + k
			}
			v[k] = s.walk(child, next)
		}
		return v

	case []interface{}:
		for i, child := range v {
			v[i] = s.walk(child, path)
		}
		return v

	default:
		return v
	}
}

// pathMatches reports whether path is exactly, or ends with, one of the
// Scrubber's configured always-redact paths.
func (s *Scrubber) pathMatches(path string) bool {
	for _, p := range s.paths {
		if p == path || strings.HasSuffix(path, "."+p) {
			return true
		}
	}
	return false
}

// hash returns a truncated, salted HMAC-SHA256 of secret so repeated
// occurrences correlate without the original value ever appearing.
func (s *Scrubber) hash(secret string) string {
	mac := hmac.New(sha256.New, []byte(s.salt))
	mac.Write([]byte(secret))
	sum := mac.Sum(nil)
	return fmt.Sprintf("[hmac:%s]", hex.EncodeToString(sum)[:16])
}

var builtinPatterns = []string{
	`\b((?:AKIA|ABIA|ACCA|ASIA)[0-9A-Z]{16})\b`,
	`-----BEGIN [A-Z ]+ PRIVATE KEY-----`,
	`gh[pousr]_[A-Za-z0-9_]{36,255}`,
	`xox[baprs]-([0-9a-zA-Z]{10,48})?`,
}
