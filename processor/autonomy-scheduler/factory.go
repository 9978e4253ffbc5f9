package autonomyscheduler

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the autonomy scheduler component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        ComponentName,
		Factory:     NewComponent,
		Schema:      schedulerSchema,
		Type:        "processor",
		Protocol:    "workflow",
		Domain:      "autonomy",
		Description: "Drives workflow executions through their gates and escalates to humans",
		Version:     "0.1.0",
	})
}
