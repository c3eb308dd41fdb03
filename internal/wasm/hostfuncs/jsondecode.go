package hostfuncs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tetratelabs/wazero/api"
)

// JSONDecode is the host function backing the schema-guided JSON decode
// façade: the guest hands over a JSON document and a JSON Schema, and the
// host validates it on a worker rather than shipping a schema validator
// into every guest binary.
func JSONDecode(ctx context.Context, mod api.Module, stack []uint64) {
	request, errDetail := readJSONDecodeRequest(ctx, mod, stack[0])
	if errDetail != nil {
		stack[0] = hostWriteResponse(ctx, mod, JSONDecodeResponseWire{Error: errDetail})
		return
	}

	stack[0] = hostWriteResponse(ctx, mod, validateJSONAgainstSchema(request))
}

func readJSONDecodeRequest(ctx context.Context, mod api.Module, requestPacked uint64) (*JSONDecodeRequestWire, *ErrorDetail) {
	requestBytes, errDetail := readGuestBytes(ctx, mod, requestPacked, "json_decode request")
	if errDetail != nil {
		return nil, errDetail
	}

	var request JSONDecodeRequestWire
	if err := json.Unmarshal(requestBytes, &request); err != nil {
		errMsg := fmt.Sprintf("hostfuncs: failed to unmarshal json_decode request: %v", err)
		slog.ErrorContext(ctx, errMsg)
		return nil, &ErrorDetail{Message: errMsg, Type: "internal"}
	}

	return &request, nil
}

func validateJSONAgainstSchema(request *JSONDecodeRequestWire) JSONDecodeResponseWire {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("schema.json", bytes.NewReader([]byte(request.Schema))); err != nil {
		return JSONDecodeResponseWire{Error: &ErrorDetail{Message: fmt.Sprintf("invalid schema: %v", err), Type: "validation"}}
	}

	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return JSONDecodeResponseWire{Error: &ErrorDetail{Message: fmt.Sprintf("failed to compile schema: %v", err), Type: "validation"}}
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(request.JSON), &doc); err != nil {
		return JSONDecodeResponseWire{Error: &ErrorDetail{Message: fmt.Sprintf("invalid json: %v", err), Type: "validation"}}
	}

	if err := schema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return JSONDecodeResponseWire{Valid: false, Errors: flattenValidationErrors(verr)}
		}
		return JSONDecodeResponseWire{Valid: false, Errors: []string{err.Error()}}
	}

	return JSONDecodeResponseWire{Valid: true}
}

func flattenValidationErrors(verr *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if e.Message != "" {
			out = append(out, fmt.Sprintf("%s: %s", e.InstanceLocation, e.Message))
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return out
}
