package config

// Template is a named deployment profile: a pure constructor of a default
// tree. Consumers merge a template's output with their own overrides via
// mergeInto (recursive dict merge), matching spec §4.2's template model.
type Template func() *Config

// templates holds every named deployment profile spec §4.2 lists.
var templates = map[string]Template{
	"development":     developmentTemplate,
	"testing":         testingTemplate,
	"staging":         stagingTemplate,
	"production":      productionTemplate,
	"container-local": containerLocalTemplate,
	"orchestrator":    orchestratorTemplate,
	"cloud-a":         cloudTemplate("cloud-a"),
	"cloud-b":         cloudTemplate("cloud-b"),
	"cloud-c":         cloudTemplate("cloud-c"),
}

// LookupTemplate returns the named template constructor, or nil if name is
// not recognized.
func LookupTemplate(name string) Template {
	return templates[name]
}

// TemplateNames lists every recognized template name.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for n := range templates {
		names = append(names, n)
	}
	return names
}

func developmentTemplate() *Config {
	c := Defaults()
	c.Database.Engine = "embedded"
	c.Logging.Level = "debug"
	c.Logging.Format = "text"
	c.Providers.Default = "container-engine"
	c.Providers.Enabled = []string{"container-engine"}
	return c
}

func testingTemplate() *Config {
	c := Defaults()
	c.Database.Engine = "embedded"
	c.Logging.Level = "warn"
	c.Kafka.BootstrapServers = []string{"localhost:19092"}
	c.Providers.Default = "container-engine"
	return c
}

func stagingTemplate() *Config {
	c := Defaults()
	c.Database.Engine = "postgres"
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Providers.Default = "orchestrator"
	c.Providers.Enabled = []string{"container-engine", "orchestrator"}
	return c
}

func productionTemplate() *Config {
	c := Defaults()
	c.Database.Engine = "postgres"
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Kafka.SSLEnabled = true
	c.Providers.Default = "orchestrator"
	c.Providers.Enabled = []string{"orchestrator", "iaas"}
	return c
}

func containerLocalTemplate() *Config {
	c := Defaults()
	c.Providers.Default = "container-engine"
	c.Providers.Enabled = []string{"container-engine"}
	return c
}

func orchestratorTemplate() *Config {
	c := Defaults()
	c.Database.Engine = "postgres"
	c.Providers.Default = "orchestrator"
	c.Providers.Enabled = []string{"orchestrator"}
	return c
}

// cloudTemplate returns a Template for one of the cloud-{A,B,C} profiles.
// All three share the same iaas-backed shape; they are kept as distinct
// named profiles (rather than parameterizing a single "cloud" profile) to
// match spec §4.2's enumeration and leave room for per-cloud defaults to
// diverge later without changing the template name a caller asks for.
func cloudTemplate(name string) Template {
	return func() *Config {
		c := Defaults()
		c.Database.Engine = "postgres"
		c.Kafka.SSLEnabled = true
		c.Providers.Default = "iaas"
		c.Providers.Enabled = []string{"iaas"}
		c.Features["cloud_profile_"+name] = true
		return c
	}
}
