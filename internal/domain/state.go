package domain

import (
	"fmt"
	"strconv"
)

// State is a user's position in the pairing lifecycle. It is a real
// enum rather than a loose string so that an impossible value cannot
// be stored.
type State int

const (
	StateIdle State = iota
	StatePendingOutgoing
	StatePendingIncoming
	StatePaired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingOutgoing:
		return "pending_out"
	case StatePendingIncoming:
		return "pending_in"
	case StatePaired:
		return "paired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *State) UnmarshalJSON(data []byte) error {
	name, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("state must be a JSON string: %w", err)
	}
	switch name {
	case "idle":
		*s = StateIdle
	case "pending_out":
		*s = StatePendingOutgoing
	case "pending_in":
		*s = StatePendingIncoming
	case "paired":
		*s = StatePaired
	default:
		return fmt.Errorf("unknown state %q", name)
	}
	return nil
}
