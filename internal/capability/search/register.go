package search

import (
	"grip/internal/capability"
)

// RegisterAll registers the search capabilities with the given registry.
func RegisterAll(registry *capability.Registry) error {
	all := []*capability.Descriptor{
		GrepSearchCapability(),
		GlobFindCapability(),
	}

	for _, d := range all {
		if err := registry.Register(d); err != nil {
			return err
		}
	}
	return nil
}
