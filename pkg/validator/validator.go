package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ErrorResponse struct {
	FailedField string
	Tag         string
	Value       string
}

var validate = validator.New()

func init() {
	// notblank rejects strings that are empty after trimming whitespace
	if err := validate.RegisterValidation("notblank", notBlank); err != nil {
		panic(fmt.Sprintf("validator: register notblank: %v", err))
	}
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func ValidateStruct(data interface{}) []*ErrorResponse {
	var errors []*ErrorResponse
	err := validate.Struct(data)
	if err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return []*ErrorResponse{{FailedField: "", Tag: err.Error()}}
		}
		for _, err := range verrs {
			var element ErrorResponse
			element.FailedField = err.StructNamespace()
			element.Tag = err.Tag()
			element.Value = err.Param()
			errors = append(errors, &element)
		}
	}
	return errors
}

// FirstError describes the first failed field in a human readable form, or "" when valid.
func FirstError(data interface{}) string {
	errs := ValidateStruct(data)
	if len(errs) == 0 {
		return ""
	}
	e := errs[0]
	field := e.FailedField
	if i := strings.LastIndex(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch e.Tag {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", strings.ToLower(field))
	case "min", "max":
		return fmt.Sprintf("%s failed on '%s=%s'", strings.ToLower(field), e.Tag, e.Value)
	default:
		return fmt.Sprintf("Field '%s' failed on tag '%s'", field, e.Tag)
	}
}
