package oracle

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// SchemaFor reflects the JSON schema handed to providers that support
// structured output.
func SchemaFor(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// collapseOpeningBraces undoes a doubled opening brace, which models emit
// often enough that the repair pass alone does not recover it.
func collapseOpeningBraces(s string) string {
	s = strings.TrimSpace(s)
	for strings.HasPrefix(s, "{") {
		rest := strings.TrimLeft(s[1:], " \t\r\n")
		if !strings.HasPrefix(rest, "{") {
			break
		}
		s = rest
	}
	return s
}

// UnmarshalFlexible decodes model output that may be fenced, double encoded
// or slightly malformed JSON. The text is tried as is, then unwrapped from a
// JSON string, and only then repaired.
func UnmarshalFlexible(input string, out any) error {
	text := stripCodeFence(input)
	candidates := []string{text}
	var wrapped string
	if json.Unmarshal([]byte(text), &wrapped) == nil {
		text = stripCodeFence(wrapped)
		candidates = append(candidates, text)
	}
	for _, candidate := range candidates {
		if json.Unmarshal([]byte(candidate), out) == nil {
			return nil
		}
	}

	repaired, err := jsonrepair.JSONRepair(collapseOpeningBraces(text))
	if err != nil {
		return fmt.Errorf("repairing response json: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("decoding repaired response: %w", err)
	}
	return nil
}

// Decode fills out from raw only if the whole response decodes and
// validates; out is left untouched otherwise.
func Decode(raw string, out any) error {
	target := reflect.ValueOf(out)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", out)
	}

	fresh := reflect.New(target.Elem().Type())
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("empty response")
	}
	if err := UnmarshalFlexible(raw, fresh.Interface()); err != nil {
		return err
	}
	if v, ok := fresh.Interface().(Validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	target.Elem().Set(fresh.Elem())
	return nil
}
