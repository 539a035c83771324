package validation

import (
	"regexp"

	validatorv10 "github.com/go-playground/validator/v10"
)

var (
	// ASINs are ten uppercase alphanumerics. Marketplace ids follow the
	// same alphabet but run a little longer (e.g. A1PA6795UKMFR9).
	asinPattern        = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	marketplacePattern = regexp.MustCompile(`^[A-Z0-9]{10,16}$`)
)

// New returns a configured validator with the marketplace_id tag registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// registration only fails for a nil func or empty tag
	_ = v.RegisterValidation("marketplace_id", func(fl validatorv10.FieldLevel) bool {
		return marketplacePattern.MatchString(fl.Field().String())
	})

	return v
}

// ValidASIN reports whether s is a well-formed ASIN. Path parameters do not
// pass through struct validation, so handlers call this directly.
func ValidASIN(s string) bool {
	return asinPattern.MatchString(s)
}
