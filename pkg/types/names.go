package types

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	// VolumeNumberMin and VolumeNumberMax bound logical volume numbers
	VolumeNumberMin = 0
	VolumeNumberMax = (1 << 20) - 1

	maxNameLength = 48
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// InvalidNameError reports a name that fails validation
type InvalidNameError struct {
	What string
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.What, e.Name)
}

// ValueOutOfRangeError reports a number outside of its allowed range
type ValueOutOfRangeError struct {
	What  string
	Value int64
	Min   int64
	Max   int64
}

func (e *ValueOutOfRangeError) Error() string {
	return fmt.Sprintf("%s %d out of range [%d, %d]", e.What, e.Value, e.Min, e.Max)
}

// ValidateName checks node, resource, snapshot and storage pool names
func ValidateName(what, name string) error {
	if len(name) == 0 || len(name) > maxNameLength || !namePattern.MatchString(name) {
		return &InvalidNameError{What: what, Name: name}
	}
	return nil
}

// ValidateVolumeNumber checks that nr is a valid logical volume number
func ValidateVolumeNumber(nr int64) (int, error) {
	if nr < VolumeNumberMin || nr > VolumeNumberMax {
		return 0, &ValueOutOfRangeError{What: "volume number", Value: nr, Min: VolumeNumberMin, Max: VolumeNumberMax}
	}
	return int(nr), nil
}

// ParseVolumeNumber parses a textual volume number
func ParseVolumeNumber(s string) (int, error) {
	nr, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &InvalidNameError{What: "volume number", Name: s}
	}
	return ValidateVolumeNumber(nr)
}

// Ranges of replication ports and minor numbers
const (
	TCPPortMin = 1
	TCPPortMax = 65535
	MinorNrMin = 0
	MinorNrMax = 1048575
)

// ValidateTCPPort checks a replication port
func ValidateTCPPort(port int64) (int, error) {
	if port < TCPPortMin || port > TCPPortMax {
		return 0, &ValueOutOfRangeError{What: "tcp port", Value: port, Min: TCPPortMin, Max: TCPPortMax}
	}
	return int(port), nil
}

// ValidateMinorNr checks a replication device minor number
func ValidateMinorNr(minor int64) (int, error) {
	if minor < MinorNrMin || minor > MinorNrMax {
		return 0, &ValueOutOfRangeError{What: "minor number", Value: minor, Min: MinorNrMin, Max: MinorNrMax}
	}
	return int(minor), nil
}
