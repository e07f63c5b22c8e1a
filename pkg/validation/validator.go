package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dd0wney/cluso-kv/pkg/record"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// Validation constants
	MaxKeyLength   = record.MaxFieldLen
	MaxValueLength = record.MaxFieldLen

	// LogLevels are the accepted values of the loglevel tag.
	LogLevels = []string{"debug", "info", "warn", "error", "fatal"}
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		level := strings.ToLower(fl.Field().String())
		for _, l := range LogLevels {
			if level == l {
				return true
			}
		}
		return false
	})
}

// ValidateStruct validates a struct using its `validate` tags
func ValidateStruct(s any) error {
	if s == nil {
		return errors.New("value to validate cannot be nil")
	}
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateKey validates a key before it reaches the engine
func ValidateKey(key []byte) error {
	if len(key) > MaxKeyLength {
		return fmt.Errorf("key: length %d exceeds maximum of %d bytes", len(key), MaxKeyLength)
	}
	if err := record.Validate(key, nil); err != nil {
		return fmt.Errorf("key: %w", err)
	}
	return nil
}

// ValidateValue validates a value before it reaches the engine
func ValidateValue(value []byte) error {
	if len(value) > MaxValueLength {
		return fmt.Errorf("value: length %d exceeds maximum of %d bytes", len(value), MaxValueLength)
	}
	if err := record.Validate(nil, value); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	return nil
}

// ValidateArity checks that a command received between min and max arguments,
// the command name included. A negative max means unbounded.
func ValidateArity(command string, args, min, max int) error {
	if args < min || (max >= 0 && args > max) {
		return fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command))
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Field()
		tag := e.Tag()
		param := e.Param()

		switch tag {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min", "gte":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max", "lte":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "hostname_port":
			return fmt.Errorf("%s: must be a host:port address", field)
		case "loglevel":
			return fmt.Errorf("%s: must be one of %v", field, LogLevels)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, tag)
		}
	}

	return err
}
