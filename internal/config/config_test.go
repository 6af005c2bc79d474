package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	c := Defaults()
	if violations := c.Validate(); len(violations) != 0 {
		t.Fatalf("defaults should validate clean, got %v", violations)
	}
}

func TestNewManagerDefaultsOnly(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Current()

	tests := []struct {
		name  string
		check bool
	}{
		{"default engine is embedded", cfg.Database.Engine == "embedded"},
		{"default api host", cfg.APIServer.Host == "0.0.0.0"},
		{"default api port", cfg.APIServer.Port == 8080},
		{"default log level", cfg.Logging.Level == "info"},
		{"default log format", cfg.Logging.Format == "json"},
		{"listen addr format", cfg.ListenAddr() == "0.0.0.0:8080"},
		{"kafka bootstrap non-empty", len(cfg.Kafka.BootstrapServers) == 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check {
				t.Errorf("expected true")
			}
		})
	}
}

func TestNewManagerEnvOverridesDefaults(t *testing.T) {
	t.Setenv("KAFKAOPS_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")

	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Current()
	if cfg.APIServer.Port != 9090 {
		t.Errorf("expected port 9090 from env, got %d", cfg.APIServer.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug log level from env, got %s", cfg.Logging.Level)
	}

	prov, ok := m.ProvenanceOf("api_server.port")
	if !ok || prov.Source != "env" {
		t.Errorf("expected api_server.port provenance to be env, got %+v", prov)
	}
}

func TestNewManagerFileOverridesDefaultsButNotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"warn"},"api_server":{"port":7000}}`), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	t.Setenv("KAFKAOPS_PORT", "9999")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Current()
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected file to set logging.level=warn, got %s", cfg.Logging.Level)
	}
	if cfg.APIServer.Port != 9999 {
		t.Errorf("expected env to win over file for port, got %d", cfg.APIServer.Port)
	}
}

func TestValidateRejectsMissingBootstrapServers(t *testing.T) {
	c := Defaults()
	c.Kafka.BootstrapServers = nil
	violations := c.Validate()
	if len(violations) != 1 {
		t.Fatalf("expected exactly 1 violation, got %d: %v", len(violations), violations)
	}
}

func TestValidateRejectsUnrecognizedProvider(t *testing.T) {
	c := Defaults()
	c.Providers.Default = "bogus"
	violations := c.Validate()
	if len(violations) == 0 {
		t.Fatalf("expected a violation for unrecognized provider")
	}
}

func TestValidateRejectsPostgresWithoutCredentials(t *testing.T) {
	c := Defaults()
	c.Database.Engine = "postgres"
	violations := c.Validate()
	if len(violations) == 0 {
		t.Fatalf("expected a violation for postgres without credentials")
	}
}

func TestValidateReportsAllViolationsAsList(t *testing.T) {
	c := Defaults()
	c.Kafka.BootstrapServers = nil
	c.Providers.Default = "bogus"
	violations := c.Validate()
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations reported together, got %d", len(violations))
	}
}

func TestApplyRuntimePatchDispatchesChangeEvent(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	var got ConfigChangeEvent
	m.OnChange(func(ev ConfigChangeEvent) { got = ev })

	patch := &Config{Logging: LoggingConfig{Level: "debug"}}
	if err := m.ApplyRuntimePatch(patch, false); err != nil {
		t.Fatalf("ApplyRuntimePatch: %v", err)
	}

	if got.Source != "runtime-patch" {
		t.Errorf("expected source runtime-patch, got %s", got.Source)
	}
	found := false
	for _, k := range got.ChangedKeys {
		if k == "logging.level" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected logging.level in changed keys, got %v", got.ChangedKeys)
	}
	if m.Current().Logging.Level != "debug" {
		t.Errorf("expected patch applied to current config")
	}
}

func TestApplyRuntimePatchRejectsInvalidResult(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	patch := &Config{Providers: ProvidersConfig{Default: "bogus"}}
	if err := m.ApplyRuntimePatch(patch, false); err == nil {
		t.Fatalf("expected validation error for invalid runtime patch")
	}
}

func TestTemplatesAreRecognized(t *testing.T) {
	for _, name := range []string{"development", "testing", "staging", "production", "container-local", "orchestrator", "cloud-a", "cloud-b", "cloud-c"} {
		tpl := LookupTemplate(name)
		if tpl == nil {
			t.Fatalf("expected template %q to be registered", name)
		}
		c := tpl()
		if !validProviderKinds[c.Providers.Default] {
			t.Errorf("template %q has unrecognized default provider %q", name, c.Providers.Default)
		}
		if len(c.Kafka.BootstrapServers) == 0 {
			t.Errorf("template %q has empty bootstrap servers", name)
		}
	}
}

func TestLookupTemplateUnknown(t *testing.T) {
	if tpl := LookupTemplate("does-not-exist"); tpl != nil {
		t.Errorf("expected nil for unknown template")
	}
}

func TestShowSchemaAndShowActiveAreDistinct(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	active := m.ShowActive()
	schema := ShowSchema()

	if _, ok := active["database"]; !ok {
		t.Errorf("expected ShowActive to include database section")
	}
	if _, ok := schema["templates"]; !ok {
		t.Errorf("expected ShowSchema to include templates")
	}
}
