package appointment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// H:MM or HH:MM, optional :SS, optional AM/PM suffix.
var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?\s*([AaPp][Mm])?$`)

// NormalizeTime converts a user supplied clock time into canonical 24-hour
// HH:MM. Seconds are accepted and dropped.
func NormalizeTime(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
	}

	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if minute > 59 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
	}
	if m[3] != "" {
		if sec, _ := strconv.Atoi(m[3]); sec > 59 {
			return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
		}
	}

	if meridiem := strings.ToUpper(m[4]); meridiem != "" {
		if hour < 1 || hour > 12 {
			return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
		}
		switch {
		case meridiem == "AM" && hour == 12:
			hour = 0
		case meridiem == "PM" && hour != 12:
			hour += 12
		}
	} else if hour > 23 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}
