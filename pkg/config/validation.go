package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Tag     string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	switch e.Tag {
	case "required":
		return fmt.Sprintf("%s is required", e.Field)
	case "min", "gte", "gt":
		return fmt.Sprintf("%s is below its minimum", e.Field)
	case "max", "lte":
		return fmt.Sprintf("%s is above its maximum", e.Field)
	case "oneof":
		return fmt.Sprintf("%s must be one of the allowed values", e.Field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", e.Field)
	default:
		return fmt.Sprintf("%s failed validation", e.Field)
	}
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// Validator provides configuration validation.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new configuration validator.
func NewValidator() (*Validator, error) {
	return &Validator{validate: validator.New()}, nil
}

// ValidateConfig validates a configuration struct.
func (v *Validator) ValidateConfig(config *Config) error {
	if config == nil {
		return ValidationErrors{
			ValidationError{
				Field:   "config",
				Tag:     "required",
				Value:   nil,
				Message: "config is nil",
			},
		}
	}

	var validationErrors ValidationErrors

	if err := v.validate.Struct(config); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range errs {
				validationErrors = append(validationErrors, ValidationError{
					Field: e.Namespace(),
					Tag:   e.Tag(),
					Value: e.Value(),
				})
			}
		} else {
			validationErrors = append(validationErrors, ValidationError{
				Message: err.Error(),
			})
		}
	}

	validationErrors = append(validationErrors, v.validateCustomRules(config)...)

	if len(validationErrors) > 0 {
		return validationErrors
	}
	return nil
}

// validateCustomRules covers constraints struct tags cannot express.
func (v *Validator) validateCustomRules(config *Config) ValidationErrors {
	var errs ValidationErrors

	aliases := make(map[string]bool)
	for i, cred := range config.Credentials {
		if aliases[cred.Alias] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("Credentials[%d].Alias", i),
				Tag:     "unique",
				Value:   cred.Alias,
				Message: fmt.Sprintf("duplicate credential alias %q", cred.Alias),
			})
		}
		aliases[cred.Alias] = true

		if cred.APIKey == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("Credentials[%d].APIKey", i),
				Tag:     "required",
				Message: fmt.Sprintf("credential %q has no API key after resolution", cred.Alias),
			})
		}
	}

	return errs
}
