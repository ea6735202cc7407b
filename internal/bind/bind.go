// Package bind provides request binding and validation for the HTTP surface.
//
// JSON bodies and query parameters are decoded into request structs and
// validated with go-playground/validator struct tags. Validation failures
// become structured field errors in the response state:
//
//	r.Post("/v1/conversations", func(w http.ResponseWriter, r *http.Request) {
//	    var req createConversationRequest
//	    if !bind.JSON(r, &req) {
//	        return
//	    }
//	    ...
//	})
package bind

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nhalm/infergate/internal/api"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		if name := strings.SplitN(fld.Tag.Get("query"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		return fld.Name
	})
}

// JSON decodes the request body into dest and validates it.
// Returns true if binding and validation succeeded. On failure an error is
// set in the response state and the handler should return immediately.
//
// Requests that exceed an active api.MaxBodySize limit during decode produce
// a 413, which covers chunked transfers and lying Content-Length headers.
func JSON(r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			api.SetError(r, api.ErrPayloadTooLarge.With("Request body too large"))
		} else {
			api.SetError(r, api.ErrBadRequest.With("Invalid JSON body"))
		}
		return false
	}

	return runValidation(r, dest)
}

// Query decodes query parameters (by `query` tag) into dest and validates it.
// Returns true if binding and validation succeeded.
func Query(r *http.Request, dest any) bool {
	if err := decodeQuery(r, dest); err != nil {
		api.SetError(r, api.ErrBadRequest.With("Invalid query parameters"))
		return false
	}

	return runValidation(r, dest)
}

func runValidation(r *http.Request, dest any) bool {
	if err := validate.Struct(dest); err != nil {
		api.SetError(r, api.NewValidationError(translateErrors(err)))
		return false
	}
	return true
}

func translateErrors(err error) []api.FieldError {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []api.FieldError{{
			Code:    "validation",
			Message: err.Error(),
		}}
	}
	result := make([]api.FieldError, len(errs))
	for i, e := range errs {
		result[i] = api.FieldError{
			Param:   e.Field(),
			Code:    e.Tag(),
			Message: formatMessage(e.Tag(), e.Param()),
		}
	}
	return result
}

func formatMessage(tag, param string) string {
	switch tag {
	case "required":
		return "required"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "oneof":
		return "must be one of: " + param
	case "uuid":
		return "must be a valid UUID"
	default:
		if param != "" {
			return tag + "=" + param
		}
		return tag
	}
}

func decodeQuery(r *http.Request, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("dest must be non-nil pointer to struct")
	}
	v := rv.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("dest must be pointer to struct, got pointer to %s", v.Kind())
	}
	t := v.Type()

	query := r.URL.Query()

	for i := range t.NumField() {
		structField := t.Field(i)
		tag := structField.Tag.Get("query")
		if tag == "" || tag == "-" {
			continue
		}

		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		name := strings.SplitN(tag, ",", 2)[0]
		value := query.Get(name)
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
	}

	return nil
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported type: %s", field.Kind())
	}
	return nil
}
