// Package config implements the layered configuration system of spec §4.2:
// environment variables override a config file which overrides built-in
// defaults, with per-key provenance tracked for diagnostics, hot reload on
// file change, and a programmatic runtime-patch path.
package config

import (
	"fmt"
	"sync"
	"time"
)

// DatabaseConfig configures the metadata/audit store backend.
type DatabaseConfig struct {
	Engine   string `json:"engine" yaml:"engine" env:"KAFKAOPS_DB_ENGINE"` // "postgres" or "embedded"
	URL      string `json:"url" yaml:"url" env:"DATABASE_URL"`
	Username string `json:"username" yaml:"username" env:"DATABASE_USERNAME"`
	Password string `json:"password" yaml:"password" env:"DATABASE_PASSWORD"`
}

// KafkaConfig configures the admin client pool's target cluster.
type KafkaConfig struct {
	BootstrapServers []string `json:"bootstrap_servers" yaml:"bootstrap_servers" env:"KAFKA_BOOTSTRAP_SERVERS" envSeparator:","`
	SASLMechanism    string   `json:"sasl_mechanism" yaml:"sasl_mechanism" env:"KAFKA_SASL_MECHANISM"`
	SASLUsername     string   `json:"sasl_username" yaml:"sasl_username" env:"KAFKA_SASL_USERNAME"`
	SASLPassword     string   `json:"sasl_password" yaml:"sasl_password" env:"KAFKA_SASL_PASSWORD"`
	SSLEnabled       bool     `json:"ssl_enabled" yaml:"ssl_enabled" env:"KAFKA_SSL_ENABLED"`
}

// APIServerConfig configures the HTTP listener.
type APIServerConfig struct {
	Host               string   `json:"host" yaml:"host" env:"KAFKAOPS_HOST"`
	Port               int      `json:"port" yaml:"port" env:"KAFKAOPS_PORT"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" env:"KAFKAOPS_CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// LoggingConfig configures the process-wide slog logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// ProvidersConfig configures the runtime provider registry.
type ProvidersConfig struct {
	Default string   `json:"default" yaml:"default" env:"KAFKAOPS_DEFAULT_PROVIDER"` // container-engine | orchestrator | iaas
	Enabled []string `json:"enabled" yaml:"enabled" env:"KAFKAOPS_ENABLED_PROVIDERS" envSeparator:","`

	WorkDir          string `json:"work_dir" yaml:"work_dir" env:"KAFKAOPS_PROVIDER_WORK_DIR"`
	BrokerImage      string `json:"broker_image" yaml:"broker_image" env:"KAFKAOPS_BROKER_IMAGE"`
	CoordinatorImage string `json:"coordinator_image" yaml:"coordinator_image" env:"KAFKAOPS_COORDINATOR_IMAGE"`
	KubeconfigPath   string `json:"kubeconfig_path" yaml:"kubeconfig_path" env:"KAFKAOPS_KUBECONFIG"`
	ServiceExposure  string `json:"service_exposure" yaml:"service_exposure" env:"KAFKAOPS_SERVICE_EXPOSURE"` // cluster-internal | node-port | load-balancer

	IaaS IaaSConfig `json:"iaas" yaml:"iaas"`
}

// IaaSConfig mirrors provider.IaaSConfig's fields one-to-one so the layered
// config system can populate it without pkg/provider depending back on
// internal/config.
type IaaSConfig struct {
	TerraformBinary string `json:"terraform_binary" yaml:"terraform_binary" env:"KAFKAOPS_IAAS_TERRAFORM_BINARY"`
	Region          string `json:"region" yaml:"region" env:"KAFKAOPS_IAAS_REGION"`
	AccessKey       string `json:"access_key" yaml:"access_key" env:"KAFKAOPS_IAAS_ACCESS_KEY"`
	SecretKey       string `json:"secret_key" yaml:"secret_key" env:"KAFKAOPS_IAAS_SECRET_KEY"`
	InstanceType    string `json:"instance_type" yaml:"instance_type" env:"KAFKAOPS_IAAS_INSTANCE_TYPE"`
	AMI             string `json:"ami" yaml:"ami" env:"KAFKAOPS_IAAS_AMI"`
	KeyPairName     string `json:"key_pair_name" yaml:"key_pair_name" env:"KAFKAOPS_IAAS_KEY_PAIR_NAME"`
	SubnetID        string `json:"subnet_id" yaml:"subnet_id" env:"KAFKAOPS_IAAS_SUBNET_ID"`
}

// SlackConfig configures the ops-alert notifier. Leaving BotToken empty
// disables Slack delivery without affecting any other subsystem.
type SlackConfig struct {
	BotToken string `json:"bot_token" yaml:"bot_token" env:"SLACK_BOT_TOKEN"`
	Channel  string `json:"channel" yaml:"channel" env:"SLACK_ALERT_CHANNEL"`
}

// CleanupConfig configures scheduler cleanup task defaults.
type CleanupConfig struct {
	TopicCleanupCron   string `json:"topic_cleanup_cron" yaml:"topic_cleanup_cron" env:"CLEANUP_TOPIC_CRON"`
	ClusterCleanupCron string `json:"cluster_cleanup_cron" yaml:"cluster_cleanup_cron" env:"CLEANUP_CLUSTER_CRON"`
	HealthCheckCron    string `json:"health_check_cron" yaml:"health_check_cron" env:"CLEANUP_HEALTH_CHECK_CRON"`
}

// Config is the single frozen configuration tree. Treat a value returned by
// Manager.Current as a snapshot; mutate the tree only through Manager.
type Config struct {
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Kafka     KafkaConfig     `json:"kafka" yaml:"kafka"`
	APIServer APIServerConfig `json:"api_server" yaml:"api_server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Cleanup   CleanupConfig   `json:"cleanup" yaml:"cleanup"`
	Slack     SlackConfig     `json:"slack" yaml:"slack"`
	Features  map[string]bool `json:"features" yaml:"features"`

	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	RedisURL     string `json:"redis_url" yaml:"redis_url" env:"REDIS_URL"`
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.APIServer.Host, c.APIServer.Port)
}

// validProviderKinds mirrors provider.Kind. Duplicated rather than imported
// to avoid internal/config depending on pkg/provider.
var validProviderKinds = map[string]bool{
	"container-engine": true,
	"orchestrator":     true,
	"iaas":             true,
}

// Validate checks rules that go beyond type/range and returns every
// violation found, not just the first (spec §4.2: "reported as a list").
func (c *Config) Validate() []error {
	var errs []error

	if c.Database.Engine == "postgres" && (c.Database.Username == "" || c.Database.Password == "") {
		errs = append(errs, fmt.Errorf("database: username and password are required when engine=postgres"))
	}

	if len(c.Kafka.BootstrapServers) == 0 {
		errs = append(errs, fmt.Errorf("kafka: bootstrap_servers must be non-empty"))
	}

	if !validProviderKinds[c.Providers.Default] {
		errs = append(errs, fmt.Errorf("providers: default %q is not a recognized provider", c.Providers.Default))
	}

	if c.APIServer.Port > 0 && c.APIServer.Port < 1024 {
		errs = append(errs, fmt.Errorf("api_server: port %d requires elevated privilege", c.APIServer.Port))
	}

	return errs
}

// Clone returns a copy safe to mutate independently of the receiver.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Kafka.BootstrapServers = append([]string(nil), c.Kafka.BootstrapServers...)
	cp.Providers.Enabled = append([]string(nil), c.Providers.Enabled...)
	cp.APIServer.CORSAllowedOrigins = append([]string(nil), c.APIServer.CORSAllowedOrigins...)
	cp.Features = make(map[string]bool, len(c.Features))
	for k, v := range c.Features {
		cp.Features[k] = v
	}
	return &cp
}

// ValidationError wraps the list of violations spec §4.2 requires reported
// as a list rather than a single error.
type ValidationError struct {
	Violations []error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%d configuration violation(s):", len(e.Violations))
	for _, v := range e.Violations {
		msg += "\n  - " + v.Error()
	}
	return msg
}

// Provenance records where a single config key's value came from.
type Provenance struct {
	Source string // "default", "file", "env", "runtime-patch"
	Path   string // file path, when Source=="file"
	EnvVar string // env var name, when Source=="env"
	SetAt  time.Time
}

// Manager owns the current Config snapshot plus its provenance map, and
// dispatches ConfigChangeEvent to registered handlers on every change.
type Manager struct {
	mu         sync.RWMutex
	current    *Config
	provenance map[string]Provenance
	handlers   []Handler
	watcher    *watcher
}

// NewManager builds a Manager from the layered sources: defaults, then an
// optional file (filePath may be empty to skip that layer), then
// environment variables, in increasing order of precedence.
func NewManager(filePath string) (*Manager, error) {
	return newManager(Defaults(), filePath)
}

// NewManagerFromTemplate is NewManager but starting from a named deployment
// profile (spec §4.2) instead of the bare defaults.
func NewManagerFromTemplate(templateName, filePath string) (*Manager, error) {
	tpl := LookupTemplate(templateName)
	if tpl == nil {
		return nil, fmt.Errorf("unknown config template %q", templateName)
	}
	return newManager(tpl(), filePath)
}

func newManager(cfg *Config, filePath string) (*Manager, error) {
	m := &Manager{provenance: make(map[string]Provenance)}
	m.setProvenance(defaultKeys(), "default", "", "")

	if filePath != "" {
		fileValues, err := loadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		keys := mergeInto(cfg, fileValues)
		m.setProvenance(keys, "file", filePath, "")
	}

	envValues, envKeys := loadEnv()
	keys := mergeInto(cfg, envValues)
	for _, k := range keys {
		m.provenance[k] = Provenance{Source: "env", EnvVar: envKeys[k], SetAt: time.Now()}
	}

	if violations := cfg.Validate(); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	m.current = cfg
	return m, nil
}

func (m *Manager) setProvenance(keys []string, source, path, envVar string) {
	for _, k := range keys {
		m.provenance[k] = Provenance{Source: source, Path: path, EnvVar: envVar, SetAt: time.Now()}
	}
}

// Current returns a snapshot of the configuration. Safe for concurrent use.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// ProvenanceOf returns provenance for a single dotted key (e.g. "logging.level").
func (m *Manager) ProvenanceOf(key string) (Provenance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.provenance[key]
	return p, ok
}

// AllProvenance returns a copy of the full per-key provenance map.
func (m *Manager) AllProvenance() map[string]Provenance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Provenance, len(m.provenance))
	for k, v := range m.provenance {
		out[k] = v
	}
	return out
}

// Close stops the file watcher, if one was started via Watch.
func (m *Manager) Close() error {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.close()
}
