package slot

import (
	"errors"
	"fmt"
	"strings"
)

// Slot identifies one of the two interchangeable service instances.
// The string values are the identifiers used on the wire.
type Slot string

const (
	Server1 Slot = "server1"
	Server2 Slot = "server2"
)

// ErrUnknownSlot is returned by Parse for anything other than server1/server2.
var ErrUnknownSlot = errors.New("unknown slot")

// All returns both slots in a stable order.
func All() []Slot { return []Slot{Server1, Server2} }

// Other returns the counterpart slot.
func (s Slot) Other() Slot {
	if s == Server1 {
		return Server2
	}
	return Server1
}

func (s Slot) Valid() bool { return s == Server1 || s == Server2 }

func (s Slot) String() string { return string(s) }

// Parse accepts "server1"/"server2" and the short aliases "a"/"b".
func Parse(v string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "server1", "a":
		return Server1, nil
	case "server2", "b":
		return Server2, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSlot, v)
}
