package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
// Field errors are reported under their JSON names.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterTagNameFunc(jsonName)

	// the claimed total must equal the sum of quantity * unit price
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	var sum int64
	for _, it := range req.Items {
		sum += int64(it.Quantity) * it.UnitPriceCents
	}
	if sum != req.TotalCents {
		sl.ReportError(req.TotalCents, "total_cents", "TotalCents", "total_matches_items", "")
	}
}
