package http

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the `validate` tags of a struct (or pointer to one). Other
// values always pass.
func Validate(v any) *Errors {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	return ValidationErrors(err)
}

// Errors is the validation error bag.
// JSON output: {"errors": {"field": ["msg1", "msg2"]}}
type Errors struct {
	Bag map[string][]string `json:"errors"`
}

// Add appends a message for field.
func (e *Errors) Add(field, msg string) {
	if e.Bag == nil {
		e.Bag = make(map[string][]string)
	}
	e.Bag[field] = append(e.Bag[field], msg)
}

// Has returns true if there are any errors.
func (e *Errors) Has() bool { return len(e.Bag) > 0 }

// First returns the first error for a field.
func (e *Errors) First(field string) string {
	if msgs, ok := e.Bag[field]; ok && len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// ValidationErrors converts validator errors into a bag keyed by the
// lower-cased field name. It returns nil for any other error.
func ValidationErrors(err error) *Errors {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	bag := &Errors{}
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		bag.Add(field, message(field, fe))
	}
	return bag
}

func message(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "The " + field + " field is required."
	case "email":
		return "The " + field + " must be a valid email address."
	case "min":
		return "The " + field + " must be at least " + fe.Param() + "."
	case "max":
		return "The " + field + " may not be greater than " + fe.Param() + "."
	case "oneof":
		return "The selected " + field + " is invalid."
	case "numeric", "number":
		return "The " + field + " must be a number."
	}
	return "The " + field + " is invalid (" + fe.Tag() + ")."
}
