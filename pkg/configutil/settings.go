package configutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/mitchellh/mapstructure"
)

// DecodeSettings decodes a free-form settings map into a typed struct.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	cfg := &mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return errorsx.Wrap(fmt.Errorf("decode settings: %w", err), errorsx.ReasonConfigInvalid)
	}
	return nil
}

// RequireString ensures a value is present for a required config field.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return errorsx.Wrap(fmt.Errorf("%s is required", path), errorsx.ReasonConfigInvalid)
	}
	return nil
}

// StringOrEnv returns value, or the named environment variable when value is
// blank.
func StringOrEnv(value, env string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return os.Getenv(env)
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}
