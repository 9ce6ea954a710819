package apperror

import (
	"errors"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"farmdash/entities"
)

var (
	errRequired        = errors.New("is required")
	errMustBePositive  = errors.New("must be a positive number")
	errMustBeFinite    = errors.New("must be a finite number")
	errUnknownCategory = errors.New("must be one of Seeds, Fertilizer, Pesticides, Labor, Irrigation, Machinery, Other")
	errTooLong         = errors.New("is too long")
	errOutOfRange      = errors.New("must be between 0 and 100")
)

var customErrors = map[string]error{
	"ExpenseInput.Amount.required":           errRequired,
	"ExpenseInput.Amount.finite":             errMustBeFinite,
	"ExpenseInput.Amount.gt":                 errMustBePositive,
	"ExpenseInput.Category.required":         errRequired,
	"ExpenseInput.Category.expense_category": errUnknownCategory,
	"ExpenseInput.Description.max":           errTooLong,
	"FieldInput.FieldName.required":          errRequired,
	"FieldInput.FieldName.max":               errTooLong,
	"FieldInput.CropType.required":           errRequired,
	"FieldInput.Acreage.required":            errRequired,
	"FieldInput.Acreage.finite":              errMustBeFinite,
	"FieldInput.Acreage.gt":                  errMustBePositive,
	"FieldInput.SowingDate.required":         errRequired,
	"ReadingInput.FieldID.required":          errRequired,
	"ReadingInput.Value.finite":              errMustBeFinite,
	"ReadingInput.Value.gte":                 errOutOfRange,
	"ReadingInput.Value.lte":                 errOutOfRange,
	"ReadingInput.Timestamp.required":        errRequired,
}

// NewValidator returns a validator with the farmdash custom tags registered.
// Field names in reported errors follow the json tag.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	_ = v.RegisterValidation("expense_category", func(fl validator.FieldLevel) bool {
		return entities.ExpenseCategory(fl.Field().String()).Valid()
	})
	return v
}

// Validate runs v against s and converts failures into a ValidationError.
func Validate(v *validator.Validate, s any) error {
	if err := v.Struct(s); err != nil {
		return FromValidator(err)
	}
	return nil
}

// FromValidator converts validator errors into a ValidationError keyed by
// field name.
func FromValidator(err error) *ValidationError {
	out := &ValidationError{Fields: map[string]string{}, Err: err}

	var validationErr validator.ValidationErrors
	if !errors.As(err, &validationErr) {
		return out
	}
	for _, e := range validationErr {
		key := e.StructNamespace() + "." + e.Tag()
		msg := "is invalid"
		if v, ok := customErrors[key]; ok {
			msg = v.Error()
		}
		out.Fields[e.Field()] = msg
	}
	return out
}
