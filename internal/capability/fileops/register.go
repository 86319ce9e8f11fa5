package fileops

import (
	"grip/internal/capability"
)

// RegisterAll registers the file operation capabilities with the given
// registry.
func RegisterAll(registry *capability.Registry) error {
	all := []*capability.Descriptor{
		ReadFileCapability(),
		WriteFileCapability(),
		ListFilesCapability(),
	}

	for _, d := range all {
		if err := registry.Register(d); err != nil {
			return err
		}
	}
	return nil
}
