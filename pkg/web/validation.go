package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ritzau/unitconv/pkg/model"
	"github.com/ritzau/unitconv/pkg/paths"
)

// maxJSONBody bounds JSON request bodies
const maxJSONBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ruleRequest is the body of create and update
type ruleRequest struct {
	FromUnit       string   `json:"fromUnit" validate:"required,max=64"`
	ToUnit         string   `json:"toUnit" validate:"required,max=64"`
	ConversionRate *float64 `json:"conversionRate" validate:"required"`
	Category       string   `json:"category" validate:"required"`
	Note           string   `json:"note" validate:"max=500"`
}

func (r ruleRequest) rule() model.ConversionRule {
	return model.ConversionRule{
		FromUnit:       r.FromUnit,
		ToUnit:         r.ToUnit,
		ConversionRate: *r.ConversionRate,
		Category:       model.Category(r.Category),
		Note:           r.Note,
	}
}

type validateCycleRequest struct {
	FromUnit  string `json:"fromUnit" validate:"required,max=64"`
	ToUnit    string `json:"toUnit" validate:"required,max=64"`
	ExcludeID string `json:"excludeId"`
}

type calculatePathRequest struct {
	FromUnit string `json:"fromUnit" validate:"required,max=64"`
	ToUnit   string `json:"toUnit" validate:"required,max=64"`
	MaxSteps *int   `json:"maxSteps" validate:"omitempty,gte=0,lte=32"`
}

type convertRequest struct {
	FromUnit string   `json:"fromUnit" validate:"required,max=64"`
	ToUnit   string   `json:"toUnit" validate:"required,max=64"`
	Quantity *float64 `json:"quantity" validate:"required"`
	Category string   `json:"category"`
	MaxSteps *int     `json:"maxSteps" validate:"omitempty,gte=0,lte=32"`
}

// stepBudget maps an omitted maxSteps to the service default
func stepBudget(maxSteps *int) int {
	if maxSteps == nil {
		return paths.UseDefaultSteps
	}
	return *maxSteps
}

// requestError is a malformed or invalid request body
type requestError struct {
	msg string
}

func (e *requestError) Error() string {
	return e.msg
}

// decodeJSON reads a single JSON object into dst and validates it
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &requestError{msg: "request body is empty"}
		}
		return &requestError{msg: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return validateStruct(dst)
}

// validateStruct validates a struct based on its validation tags
func validateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			msgs := make([]string, 0, len(fieldErrors))
			for _, fe := range fieldErrors {
				msgs = append(msgs, formatFieldError(fe))
			}
			return &requestError{msg: strings.Join(msgs, "; ")}
		}
		return err
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
