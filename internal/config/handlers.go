package config

import "fmt"

// ShowActive renders the currently running configuration tree, the way the
// `config-mgmt show` subcommand does against a live agent (spec §9 open
// question: kept distinct from ShowSchema, never unified).
func (m *Manager) ShowActive() map[string]any {
	c := m.Current()
	return map[string]any{
		"database":   c.Database,
		"kafka":      c.Kafka,
		"api_server": c.APIServer,
		"logging":    c.Logging,
		"providers":  c.Providers,
		"cleanup":    c.Cleanup,
		"features":   c.Features,
	}
}

// ShowSchema renders the static shape of the configuration tree plus the
// recognized template names, the way the `config show` subcommand does
// without needing a running agent (spec §9 open question: kept distinct
// from ShowActive, never unified).
func ShowSchema() map[string]any {
	return map[string]any{
		"sections":  []string{"database", "kafka", "api_server", "logging", "providers", "cleanup", "features"},
		"templates": TemplateNames(),
	}
}

// Describe formats a single key's current value and provenance for
// diagnostics, e.g. for a `config-mgmt show --key logging.level` flag.
func (m *Manager) Describe(key string) (string, error) {
	prov, ok := m.ProvenanceOf(key)
	if !ok {
		return "", fmt.Errorf("unknown config key %q", key)
	}
	switch prov.Source {
	case "env":
		return fmt.Sprintf("%s (source=env var=%s)", key, prov.EnvVar), nil
	case "file":
		return fmt.Sprintf("%s (source=file path=%s)", key, prov.Path), nil
	default:
		return fmt.Sprintf("%s (source=%s)", key, prov.Source), nil
	}
}
