// Package sysprop reads the OS version used to gate namespace features.
package sysprop

import (
	"errors"
	"strconv"
	"strings"
)

// SDKProperty holds the Android API level.
const SDKProperty = "ro.build.version.sdk"

// propValueMax is PROP_VALUE_MAX from <sys/system_properties.h>.
const propValueMax = 92

var ErrUnavailable = errors.New("sysprop: system properties unavailable")

// ParseAPILevel parses a property value such as "34".
func ParseAPILevel(value string) (int, error) {
	level, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if level <= 0 {
		return 0, errors.New("sysprop: non-positive api level")
	}
	return level, nil
}

// APILevel returns the running Android API level.
func APILevel() (int, error) {
	value, err := Get(SDKProperty)
	if err != nil {
		return 0, err
	}
	return ParseAPILevel(value)
}
