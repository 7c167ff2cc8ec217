package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := f.Tag.Get("query")
		if name == "" {
			name = strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		}
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// logQuery is the host/path pair every log endpoint takes.
type logQuery struct {
	Host string `query:"host" validate:"required,notblank,hostname_port"`
	Path string `query:"path" validate:"required,notblank"`
}

type rollQuery struct {
	logQuery
	Skip  int `query:"skip" validate:"min=0"`
	Limit int `query:"limit" validate:"min=0"`
}

type auditQuery struct {
	Limit int `query:"limit" validate:"min=0"`
}

// validationMessage turns the first failed rule into a client-facing message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := fe.Field()

	switch fe.Tag() {
	case "required", "notblank":
		if strings.Contains(field, "[") {
			return field + " is empty"
		}
		return field + " is required"
	case "min":
		return field + " must be a non-negative integer"
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port (got %q)", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
