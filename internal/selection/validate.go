package selection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationErrors collects every rejected field of a cart item.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	messages := make([]string, 0, len(v))
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// Unwrap lets callers match ErrInvalidInput with errors.Is.
func (v ValidationErrors) Unwrap() error {
	return ErrInvalidInput
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateDateRange, DateRange{})
	return v
}

func validateDateRange(sl validator.StructLevel) {
	r := sl.Current().Interface().(DateRange)
	if r.From.IsZero() && r.To.IsZero() {
		return
	}
	if !r.Valid() {
		sl.ReportError(r.To, "To", "to", "after_from", "")
	}
}

// Validate checks a cart item against its declared constraints.
func Validate(item *CartItem) error {
	var out ValidationErrors
	if err := validate.Struct(item); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		out = append(out, translate(fieldErrs)...)
	}
	out = append(out, checkParams("params", item.Params, item.Specs)...)
	for id, addon := range item.Addons {
		prefix := "addons." + id
		if addon.ProductGroup && len(addon.Params) > 0 {
			out = append(out, ValidationError{Field: prefix + ".params", Message: "product groups carry no parameters"})
		}
		if !addon.ProductGroup && addon.Child != nil {
			out = append(out, ValidationError{Field: prefix + ".child", Message: "only product groups accept a child"})
		}
		if addon.Policy == PolicyCustom {
			if !addon.Window.Valid() {
				out = append(out, ValidationError{Field: prefix + ".window", Message: "custom add-ons need a configured window"})
			} else if !addon.Range.IsZero() && !addon.Range.Within(addon.Window) {
				out = append(out, ValidationError{Field: prefix + ".range", Message: "range must stay inside the configured window"})
			}
		}
		out = append(out, checkParams(prefix+".params", addon.Params, addon.Specs)...)
		if addon.Child != nil {
			out = append(out, checkParams(prefix+".child.params", addon.Child.Params, addon.Child.Specs)...)
		}
	}
	if len(out) > 0 {
		return out
	}
	return nil
}

func checkParams(field string, params map[string]int, specs map[string]ParamSpec) ValidationErrors {
	var out ValidationErrors
	for param, spec := range specs {
		if spec.Max > 0 && spec.Max < spec.Min {
			out = append(out, ValidationError{Field: field + "." + param, Message: "max must not be below min"})
			continue
		}
		if err := checkQuantity(specs, param, params[param]); err != nil {
			out = append(out, ValidationError{Field: field + "." + param, Message: strings.TrimSuffix(err.Error(), ": "+ErrInvalidInput.Error())})
		}
	}
	for param, qty := range params {
		if qty < 0 {
			out = append(out, ValidationError{Field: field + "." + param, Message: "quantity must not be negative"})
		}
	}
	return out
}

func translate(errs validator.ValidationErrors) ValidationErrors {
	out := make(ValidationErrors, 0, len(errs))
	for _, err := range errs {
		message := err.Error()
		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "gte":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of [%s]", err.Field(), err.Param())
		case "after_from":
			message = "end date must be after start date"
		}
		out = append(out, ValidationError{Field: err.Namespace(), Message: message})
	}
	return out
}
