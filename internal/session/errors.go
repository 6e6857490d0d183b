package session

import (
	"fmt"

	"firestige.xyz/pseudoconn/internal/core"
)

// OptionError reports a connection option that was not recognized or could
// not be used. errors.Is(err, core.ErrInvalidOption) holds for it.
type OptionError struct {
	Key    string
	Reason string
}

func (e *OptionError) Error() string {
	switch {
	case e.Key == "":
		return fmt.Sprintf("%v: %s", core.ErrInvalidOption, e.Reason)
	case e.Reason == "":
		return fmt.Sprintf("%v: %s", core.ErrInvalidOption, e.Key)
	default:
		return fmt.Sprintf("%v: %s: %s", core.ErrInvalidOption, e.Key, e.Reason)
	}
}

func (e *OptionError) Unwrap() error { return core.ErrInvalidOption }

// AddressError reports an address value of an unsupported form.
// errors.Is(err, core.ErrAddressFormat) holds for it.
type AddressError struct {
	Key   string
	Value any
	Err   error
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%v: %s: %v", core.ErrAddressFormat, e.Key, e.Err)
}

func (e *AddressError) Unwrap() []error {
	if e.Err == nil {
		return []error{core.ErrAddressFormat}
	}
	return []error{core.ErrAddressFormat, e.Err}
}
