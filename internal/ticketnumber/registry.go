package ticketnumber

import (
	"fmt"
	"strings"
)

// Names lists the configurable generators.
var Names = []string{"Increment", "Date", "DateChecksum", "Random"}

// Resolve maps a configured generator name (case insensitive) to a Generator.
func Resolve(name, systemID string, opts ...Option) (Generator, error) {
	o := Options{SystemID: systemID}
	for _, opt := range opts {
		opt(&o)
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "increment", "autoincrement":
		return &Increment{opts: o}, nil
	case "date":
		return &Date{opts: o}, nil
	case "datechecksum", "":
		return &DateChecksum{opts: o}, nil
	case "random":
		return newRandom(o), nil
	default:
		return nil, fmt.Errorf("unknown ticket number generator %q (want one of %s)", name, strings.Join(Names, ", "))
	}
}
