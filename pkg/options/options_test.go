package options

import (
	"errors"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

type stubOptions struct{ errs []error }

func (s *stubOptions) Validate() []error                  { return s.errs }
func (s *stubOptions) AddFlags(*pflag.FlagSet, ...string) {}

func TestJoin(t *testing.T) {
	assert.Equal(t, "", Join())
	assert.Equal(t, "a.", Join("a"))
	assert.Equal(t, "a.b.", Join("a", "b"))
}

func TestValidateAll(t *testing.T) {
	first, second := errors.New("first"), errors.New("second")
	errs := ValidateAll(&stubOptions{errs: []error{first}}, nil, &stubOptions{}, &stubOptions{errs: []error{second}})
	assert.Equal(t, []error{first, second}, errs)
	assert.Empty(t, ValidateAll())
}
