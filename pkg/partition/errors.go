package partition

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationConflictError indicates a peer's record for a known group
// disagrees on the group name or type. Conflicts are never merged; the
// offending delta is rejected and the manager keeps its current view.
type ConfigurationConflictError struct {
	Name       string
	LocalType  string
	RemoteType string
}

func (e *ConfigurationConflictError) Error() string {
	return fmt.Sprintf("configuration conflict for partition group %#v: local type %#v, remote type %#v",
		e.Name, e.LocalType, e.RemoteType)
}

// IsConfigurationConflict reports whether err is a configuration conflict.
func IsConfigurationConflict(err error) bool {
	_, ok := errors.Cause(err).(*ConfigurationConflictError)
	return ok
}
