package events

import "fmt"

const (
	SystemPrefix   = "[SYSTEM] "
	CriticalPrefix = "[CRITICAL ERROR] "
)

func Systemf(format string, args ...any) string {
	return SystemPrefix + fmt.Sprintf(format, args...)
}

func Criticalf(format string, args ...any) string {
	return CriticalPrefix + fmt.Sprintf(format, args...)
}

// ShortID trims a peer id for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
