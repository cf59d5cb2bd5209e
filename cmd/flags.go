package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/pflag"
)

// portValue is an int flag that rejects values outside 1-65535 at parse
// time.
type portValue int

var _ pflag.Value = (*portValue)(nil)

func newPortValue(def int, p *int) *portValue {
	*p = def
	return (*portValue)(p)
}

func (v *portValue) String() string { return strconv.Itoa(int(*v)) }

func (v *portValue) Type() string { return "port" }

func (v *portValue) Set(s string) error {
	if err := ValidatePort(s); err != nil {
		return err
	}
	n, _ := strconv.Atoi(s)
	*v = portValue(n)
	return nil
}

// ValidatePort checks that s is a usable TCP port.
func ValidatePort(s string) error {
	port, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", s)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}
