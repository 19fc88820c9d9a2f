package mcp

import (
	"fmt"
	"math"
	"sort"
)

// ValidationError describes the first constraint a raw argument object
// violates against a tool's schema.
type ValidationError struct {
	Tool   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Detail)
}

// validateArgs checks raw against the tool's schema and returns the validated
// argument map with defaults applied. Field values come back as concrete Go
// types: string, int, bool, []string. No adapter I/O may happen before this
// succeeds.
func validateArgs(tool *Tool, raw map[string]any) (map[string]any, error) {
	schema := tool.InputSchema
	fail := func(format string, a ...any) error {
		return &ValidationError{Tool: tool.Name, Detail: fmt.Sprintf(format, a...)}
	}

	// Deterministic field order so the "first violation" is stable.
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any, len(schema.Properties))
	for _, name := range names {
		prop, ok := schema.Properties[name]
		if !ok {
			return nil, fail("unknown field %q", name)
		}
		value, err := coerceValue(name, prop, raw[name])
		if err != nil {
			return nil, fail("%s", err)
		}
		out[name] = value
	}

	for _, req := range schema.Required {
		if _, ok := out[req]; !ok {
			return nil, fail("missing required field %q", req)
		}
	}

	for name, prop := range schema.Properties {
		if _, ok := out[name]; ok || prop.Default == nil {
			continue
		}
		out[name] = prop.Default
	}

	return out, nil
}

func coerceValue(name string, prop Property, v any) (any, error) {
	switch prop.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %q must be a string", name)
		}
		if len(prop.Enum) > 0 {
			allowed := false
			for _, e := range prop.Enum {
				if s == e {
					allowed = true
					break
				}
			}
			if !allowed {
				return nil, fmt.Errorf("field %q must be one of %v", name, prop.Enum)
			}
		}
		return s, nil

	case "integer":
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("field %q must be an integer", name)
		}
		n := int(f)
		if prop.Minimum != nil && f < *prop.Minimum {
			return nil, fmt.Errorf("field %q must be >= %v", name, *prop.Minimum)
		}
		if prop.Maximum != nil && f > *prop.Maximum {
			return nil, fmt.Errorf("field %q must be <= %v", name, *prop.Maximum)
		}
		return n, nil

	case "boolean":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("field %q must be a boolean", name)
		}
		return b, nil

	case "array":
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("field %q must be an array", name)
		}
		if prop.Items == nil || prop.Items.Type == "string" {
			out := make([]string, 0, len(arr))
			for i, el := range arr {
				s, ok := el.(string)
				if !ok {
					return nil, fmt.Errorf("field %q element %d must be a string", name, i)
				}
				out = append(out, s)
			}
			return out, nil
		}
		return nil, fmt.Errorf("field %q has unsupported element type %q", name, prop.Items.Type)

	default:
		return nil, fmt.Errorf("field %q has unsupported type %q", name, prop.Type)
	}
}

func argString(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func argInt(args map[string]any, name string) int {
	switch v := args[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func argBool(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}

func argStrings(args map[string]any, name string) []string {
	s, _ := args[name].([]string)
	return s
}
