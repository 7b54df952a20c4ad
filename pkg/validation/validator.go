package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedJSON is returned when a request body is not decodable JSON
var ErrMalformedJSON = errors.New("Invalid JSON in request body")

// ValidationError collects human-readable messages for one request
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, ", ")
}

// Add appends a message
func (e *ValidationError) Add(message string) {
	e.Messages = append(e.Messages, message)
}

// Empty reports whether no message was recorded
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Messages) == 0
}

// Err returns e as an error, or nil when it holds no messages
func (e *ValidationError) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

// IsValidationError reports whether err carries validation messages
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Messages maps "<json field>.<rule>" to the message reported when that rule fails.
// "<json field>.type" is used when the JSON value has the wrong type.
type Messages map[string]string

func (m Messages) lookup(field, rule string) string {
	if msg, ok := m[field+"."+rule]; ok {
		return msg
	}
	if msg, ok := m[field+".*"]; ok {
		return msg
	}
	return fmt.Sprintf("%s is invalid", field)
}

// Validator checks request structs against their validate tags
type Validator struct {
	validate *validator.Validate
}

// New creates a validator reporting fields by their json names, with the
// iso8601 rule registered
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("iso8601", func(fl validator.FieldLevel) bool {
		_, err := ParseISO8601(fl.Field().String())
		return err == nil
	})
	return &Validator{validate: v}
}

// Struct validates s and appends one message per failed rule to into
func (v *Validator) Struct(s interface{}, messages Messages, into *ValidationError) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate request: %w", err)
	}
	for _, fe := range fieldErrs {
		into.Add(messages.lookup(fe.Field(), fe.Tag()))
	}
	return nil
}

// Var validates a single value against a tag expression
func (v *Validator) Var(value interface{}, tag string) bool {
	return v.validate.Var(value, tag) == nil
}

// DecodeJSON decodes r into dest. Syntax errors return ErrMalformedJSON; a value of
// the wrong type is recorded on into using the "<field>.type" message and decoding
// carries on with the remaining fields.
func DecodeJSON(r io.Reader, dest interface{}, messages Messages, into *ValidationError) error {
	err := json.NewDecoder(r).Decode(dest)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		into.Add(messages.lookup(typeErr.Field, "type"))
		return nil
	}
	return ErrMalformedJSON
}

var iso8601Layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISO8601 parses the ISO 8601 date and date-time forms browsers emit.
// Values without a zone are taken as UTC.
func ParseISO8601(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range iso8601Layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO 8601 date %q", s)
}
