package dispatch

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidConfig is matched by every *ConfigError via errors.Is
var ErrInvalidConfig = errors.New("invalid dispatcher configuration")

// ConfigError reports a dispatcher configuration problem found at construction time.
// The service must not start when one is returned.
type ConfigError struct {
	// Endpoint is the offending endpoint id (or its position when the id is missing); empty for global fields
	Endpoint string
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("provider %s: %s: %s", e.Endpoint, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func quote(s string) string {
	return strconv.Quote(s)
}
