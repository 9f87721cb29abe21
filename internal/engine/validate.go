package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateOptions checks the validate tags of an options struct and reports
// the first failing field in lower case.
func validateOptions(opts any) error {
	err := validate.Struct(opts)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}
	fe := fields[0]
	name := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", name)
	case "max":
		return fmt.Errorf("invalid %s: longer than %s characters", name, fe.Param())
	default:
		return fmt.Errorf("invalid %s %q", name, fe.Value())
	}
}
