// Package options defines the interface shared by every option group and
// helpers to combine them.
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// IOptions is implemented by each option group of the leaf server.
type IOptions interface {
	// Validate reports every invalid field, not only the first.
	Validate() []error

	// AddFlags registers the group's flags on fs under the given prefixes.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// Join turns prefixes into a flag name prefix: Join("a", "b") is "a.b."
// and Join() is "".
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" {
		joined += "."
	}
	return joined
}

// ValidateAll collects the validation errors of every group in order.
// Nil groups are skipped.
func ValidateAll(groups ...IOptions) []error {
	var errs []error
	for _, g := range groups {
		if g == nil {
			continue
		}
		errs = append(errs, g.Validate()...)
	}
	return errs
}
