package config

import "fmt"

// ConfigurationError reports an invalid option. It is fatal and is raised before
// any simulation starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}
