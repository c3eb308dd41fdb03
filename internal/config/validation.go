package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// guardPageModes and periodicLoggingModes are the closed enums the schema
// enforces; kept as Go values too so callers can validate without a schema
// round-trip when they already have a parsed SysParams.
var (
	guardPageModes       = map[string]bool{"enabled": true, "minimal": true, "disabled": true}
	periodicLoggingModes = map[string]bool{"disabled": true, "tty": true, "metrics": true, "tty_and_metrics": true}
	reportingLevels      = map[string]bool{"debug": true, "info": true, "warning": true, "error": true, "fatal": true}
)

// runtimeConfigSchemaJSON is the structural schema for the overlaid
// sys_params document; it enforces the closed enums the prose spec calls
// out, leaving free-form platform_settings unconstrained.
const runtimeConfigSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "sys_params": {
      "type": "object",
      "properties": {
        "guard_page_mode": {"enum": ["enabled", "minimal", "disabled"]},
        "thread_pool_thread_count": {"type": "integer", "minimum": 1},
        "reporting": {
          "type": "object",
          "properties": {
            "minimum_event_level": {"enum": ["debug", "info", "warning", "error", "fatal"]}
          }
        },
        "adk_websocket": {
          "type": "object",
          "properties": {
            "backend": {"enum": ["http2", "websocket", "null"]}
          }
        }
      }
    }
  }
}`

// SchemaCompiler caches compiled JSON schemas to avoid repeated compilation
// overhead across many validations of the same document shape.
type SchemaCompiler struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaCompiler returns an empty compiler cache.
func NewSchemaCompiler() *SchemaCompiler {
	return &SchemaCompiler{cache: make(map[string]*jsonschema.Schema)}
}

// Compile compiles and caches the schema registered under key, compiling it
// only on the first call for that key.
func (sc *SchemaCompiler) Compile(key string, schemaJSON string) (*jsonschema.Schema, error) {
	sc.mu.RLock()
	if schema, ok := sc.cache[key]; ok {
		sc.mu.RUnlock()
		return schema, nil
	}
	sc.mu.RUnlock()

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(key, bytes.NewReader([]byte(schemaJSON))); err != nil {
		return nil, fmt.Errorf("config: add schema resource %s: %w", key, err)
	}
	schema, err := compiler.Compile(key)
	if err != nil {
		return nil, fmt.Errorf("config: compile schema %s: %w", key, err)
	}

	sc.mu.Lock()
	sc.cache[key] = schema
	sc.mu.Unlock()
	return schema, nil
}

var defaultCompiler = NewSchemaCompiler()

// ValidateRuntimeConfigDocument validates a raw runtime-configuration JSON
// document (as found in a bundle's .config or a manifest's runtime_config)
// against the closed enums the spec defines, before it is ever merged into
// a RuntimeConfig.
func ValidateRuntimeConfigDocument(doc []byte) error {
	schema, err := defaultCompiler.Compile("runtime-config.json", runtimeConfigSchemaJSON)
	if err != nil {
		return err
	}

	var v interface{}
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("config: invalid JSON: %w", err)
	}

	if err := schema.Validate(v); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return formatSchemaValidationError(verr)
		}
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return nil
}

func formatSchemaValidationError(err *jsonschema.ValidationError) error {
	var messages []string
	var collect func(*jsonschema.ValidationError)
	collect = func(e *jsonschema.ValidationError) {
		if e.Message != "" {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "(root)"
			}
			messages = append(messages, fmt.Sprintf("%s: %s", loc, e.Message))
		}
		for _, cause := range e.Causes {
			collect(cause)
		}
	}
	collect(err)

	if len(messages) == 0 {
		return fmt.Errorf("config: validation failed")
	}
	return fmt.Errorf("config: validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}
