package connector

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// A single validator instance is used, because it caches struct parsing.
var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// DecodeConfig decodes the raw source config into out (a pointer to a config struct
// tagged with `json` and `validate`) and validates it. Every failure is a *ConfigError.
func DecodeConfig(sourceType string, raw json.RawMessage, out any) error {
	var blob map[string]any
	if len(strings.TrimSpace(string(raw))) == 0 || strings.TrimSpace(string(raw)) == "null" {
		blob = map[string]any{}
	} else if err := json.Unmarshal(raw, &blob); err != nil {
		return &ConfigError{Type: sourceType, Reason: "config must be a JSON object", Err: err}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "json",
	})
	if err != nil {
		return fmt.Errorf("build config decoder: %w", err)
	}
	if err := decoder.Decode(blob); err != nil {
		return decodeError(sourceType, err)
	}

	if err := validate.Struct(out); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			first := validationErrors[0]
			return &ConfigError{
				Type:   sourceType,
				Key:    first.Field(),
				Reason: validationReason(first),
				Err:    err,
			}
		}
		return &ConfigError{Type: sourceType, Err: err}
	}
	return nil
}

func decodeError(sourceType string, err error) error {
	var mapErr *mapstructure.Error
	if errors.As(err, &mapErr) && len(mapErr.Errors) > 0 {
		// mapstructure reports "'key' expected type 'string', got ..."
		msg := mapErr.Errors[0]
		key := ""
		if start := strings.Index(msg, "'"); start >= 0 {
			if end := strings.Index(msg[start+1:], "'"); end >= 0 {
				key = msg[start+1 : start+1+end]
			}
		}
		return &ConfigError{Type: sourceType, Key: key, Reason: msg, Err: err}
	}
	return &ConfigError{Type: sourceType, Err: err}
}

func validationReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be an absolute URL"
	case "email":
		return "must be an e-mail address"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
