package configutil

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/callbridge/pkg/errorsx"
)

// Schema defines required and optional keys for a settings map.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// Keys lists every key the schema accepts.
func (s Schema) Keys() []string {
	out := make([]string, 0, len(s.Required)+len(s.Optional))
	out = append(out, s.Required...)
	out = append(out, s.Optional...)
	sort.Strings(out)
	return out
}

// ValidateSettings checks a settings map found at path (for example
// "vendors.stt.settings") against a schema. Keys are compared ignoring case,
// underscores and hyphens.
func ValidateSettings(path string, input map[string]any, schema Schema) error {
	required := make(map[string]string, len(schema.Required))
	allowed := make(map[string]struct{}, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Required {
		required[normalizeKey(k)] = k
		allowed[normalizeKey(k)] = struct{}{}
	}
	for _, k := range schema.Optional {
		allowed[normalizeKey(k)] = struct{}{}
	}

	var missing, unknown []string
	seen := make(map[string]bool, len(input))
	for k, v := range input {
		nk := normalizeKey(k)
		seen[nk] = true
		if _, ok := allowed[nk]; !ok && !schema.AllowUnknown {
			unknown = append(unknown, k)
		}
		if reqKey, ok := required[nk]; ok && isEmptyValue(v) {
			missing = append(missing, reqKey)
		}
	}
	for nk, reqKey := range required {
		if !seen[nk] {
			missing = append(missing, reqKey)
		}
	}
	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}

	sort.Strings(missing)
	sort.Strings(unknown)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "), "accepted: "+strings.Join(schema.Keys(), ", "))
	}
	return errorsx.Wrap(fmt.Errorf("%s: %s", path, strings.Join(parts, "; ")), errorsx.ReasonConfigInvalid)
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
