package signal

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dkeye/Stage/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("roomid", func(fl validator.FieldLevel) bool {
		return domain.ValidRoomID(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// validationMessage turns the first failing field into the
// client-facing error string.
func validationMessage(err error) string {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		if fe.Tag() == "roomid" {
			return "Invalid room ID"
		}
		return "Missing or invalid field: " + fe.Field()
	}
	return "Invalid message"
}
