package swap

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Status uint

// Values are persisted, append new statuses at the end.
const (
	Unknown Status = iota
	Announced
	SrcFunded
	DstFunded
	Claimed
	Settled
	Cancelling
	Cancelled
	Expired
	Failed
)

var statusNames = map[Status]string{
	Unknown:    "UNKNOWN",
	Announced:  "ANNOUNCED",
	SrcFunded:  "SRC_FUNDED",
	DstFunded:  "DST_FUNDED",
	Claimed:    "CLAIMED",
	Settled:    "SETTLED",
	Cancelling: "CANCELLING",
	Cancelled:  "CANCELLED",
	Expired:    "EXPIRED",
	Failed:     "FAILED",
}

var transitions = map[Status][]Status{
	Announced:  {SrcFunded, Cancelling, Failed},
	SrcFunded:  {DstFunded, Cancelling},
	DstFunded:  {Claimed, Cancelling},
	Claimed:    {Settled, Expired},
	Cancelling: {Cancelled, Expired, Claimed},
}

func (status Status) String() string {
	if name, ok := statusNames[status]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", uint(status))
}

func ParseStatus(s string) (Status, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for status, name := range statusNames {
		if name == s {
			return status, nil
		}
	}
	return Unknown, fmt.Errorf("unknown status %q", s)
}

// IsTerminal reports whether no further transition is permitted.
func (status Status) IsTerminal() bool {
	switch status {
	case Settled, Cancelled, Expired, Failed:
		return true
	default:
		return false
	}
}

// IsFunded reports whether at least one escrow may hold funds in this status.
func (status Status) IsFunded() bool {
	switch status {
	case SrcFunded, DstFunded, Claimed, Cancelling:
		return true
	default:
		return false
	}
}

func (status Status) CanTransition(to Status) bool {
	for _, next := range transitions[status] {
		if next == to {
			return true
		}
	}
	return false
}

func (status Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(status.String())
}

func (status *Status) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseStatus(s)
	if err != nil {
		return err
	}
	*status = parsed
	return nil
}
