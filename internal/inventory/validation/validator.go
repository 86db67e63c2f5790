// Package validation checks inventory items before a month is persisted.
package validation

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/medflow/pharmacy-ledger/internal/ledger"
	"github.com/medflow/pharmacy-ledger/pkg/errors"
)

// MaxDay is the highest day key accepted in a day map.
const MaxDay = 31

// ItemValidator validates ledger items with go-playground/validator and the
// ledger-specific tags declared on ledger.InventoryItem.
type ItemValidator struct {
	validate *validator.Validate
}

// New creates an ItemValidator with the custom ledger tags registered.
func New() *ItemValidator {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// decimal.Decimal is a struct; expose it to tags as its string form.
	v.RegisterCustomTypeFunc(func(f reflect.Value) interface{} {
		if d, ok := f.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	must(v.RegisterValidation("money_nonnegative", moneyNonNegative))
	must(v.RegisterValidation("day_quantities", dayQuantities))
	must(v.RegisterValidation("day_sources", daySources))

	return &ItemValidator{validate: v}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// ValidateItem returns a validation AppError describing every invalid field.
func (v *ItemValidator) ValidateItem(item ledger.InventoryItem) error {
	err := v.validate.Struct(item)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.BadRequest(err.Error())
	}

	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describe(fe)
	}
	return errors.Validation(details)
}

// ValidateItems validates a full month list, reporting the first invalid item.
func (v *ItemValidator) ValidateItems(items []ledger.InventoryItem) error {
	for i, item := range items {
		if err := v.ValidateItem(item); err != nil {
			var appErr *errors.AppError
			if errors.As(err, &appErr) {
				appErr.Params = map[string]string{"index": fmt.Sprint(i)}
			}
			return err
		}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must not be negative"
	case "money_nonnegative":
		return "must be a non-negative amount"
	case "day_quantities":
		return fmt.Sprintf("days must be 1 to %d with non-negative quantities", MaxDay)
	case "day_sources":
		return fmt.Sprintf("days must be 1 to %d tagged factory, company or scissors", MaxDay)
	default:
		return "invalid value"
	}
}

func moneyNonNegative(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return false
	}
	return !d.IsNegative()
}

func dayQuantities(fl validator.FieldLevel) bool {
	m, ok := fl.Field().Interface().(ledger.DayMap)
	if !ok {
		return false
	}
	for day, qty := range m {
		if !validDay(day) {
			return false
		}
		f := qty.Float()
		if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func daySources(fl validator.FieldLevel) bool {
	m, ok := fl.Field().Interface().(ledger.SourceMap)
	if !ok {
		return false
	}
	for day, src := range m {
		if !validDay(day) || !src.IsValid() {
			return false
		}
	}
	return true
}

func validDay(day int) bool {
	return day >= 1 && day <= MaxDay
}
