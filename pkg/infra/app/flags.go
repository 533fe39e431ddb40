package app

import "github.com/spf13/pflag"

// NamedFlagSets groups flags by section, in registration order.
type NamedFlagSets struct {
	// Order is the order in which sections were first requested.
	Order []string
	// FlagSets maps a section name to its flags.
	FlagSets map[string]*pflag.FlagSet
}

// FlagSet returns the flag set for name, creating it on first use.
func (nfs *NamedFlagSets) FlagSet(name string) *pflag.FlagSet {
	if nfs.FlagSets == nil {
		nfs.FlagSets = map[string]*pflag.FlagSet{}
	}
	if _, ok := nfs.FlagSets[name]; !ok {
		nfs.FlagSets[name] = pflag.NewFlagSet(name, pflag.ExitOnError)
		nfs.Order = append(nfs.Order, name)
	}
	return nfs.FlagSets[name]
}

// CliOptions is implemented by the options of an App.
type CliOptions interface {
	// Flags returns the option flags grouped by section.
	Flags() NamedFlagSets
	// Complete fills in defaults that depend on other options.
	Complete() error
	// Validate validates the options.
	Validate() error
}
