package enums

import "fmt"

// ChargeStatus records the outcome of a billing cycle charge.
type ChargeStatus string

const (
	ChargeStatusSucceeded ChargeStatus = "succeeded"
	ChargeStatusFailed    ChargeStatus = "failed"
)

var validChargeStatuses = []ChargeStatus{
	ChargeStatusSucceeded,
	ChargeStatusFailed,
}

// String implements fmt.Stringer.
func (s ChargeStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s ChargeStatus) IsValid() bool {
	for _, candidate := range validChargeStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseChargeStatus converts raw input into a ChargeStatus.
func ParseChargeStatus(value string) (ChargeStatus, error) {
	for _, candidate := range validChargeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid charge status %q", value)
}
