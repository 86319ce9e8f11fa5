package shell

import (
	"grip/internal/capability"
	"grip/internal/session"
)

// RegisterAll registers the shell capabilities with the given registry.
func RegisterAll(registry *capability.Registry, sessions *session.Registry) error {
	all := []*capability.Descriptor{
		RunCommandCapability(sessions),
		SessionStatsCapability(sessions),
	}

	for _, d := range all {
		if err := registry.Register(d); err != nil {
			return err
		}
	}
	return nil
}
