// Package adminpool implements the Kafka admin client pool of spec §4.5:
// a registry of long-lived kadm.Client connections keyed by instance id,
// with periodic health-checking and idle eviction.
package adminpool

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/kafkaops/agent/internal/resilience"
	"github.com/kafkaops/agent/internal/telemetry"
	"github.com/kafkaops/agent/pkg/model"
)

// breakerConfig tunes the per-entry circuit breaker (spec §4.1): five
// consecutive failures trips it, a half-open probe after 30s, two
// consecutive successes closes it again.
func breakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// breakerStateValue maps a breaker State onto the CircuitBreakerState gauge
// values documented there (0=closed, 1=half_open, 2=open).
func breakerStateValue(s resilience.State) float64 {
	switch s {
	case resilience.StateOpen:
		return 2
	case resilience.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Entry is one pooled connection and its bookkeeping (spec §4.5).
type Entry struct {
	mu sync.Mutex

	InstanceID string
	Admin      *kadm.Client
	client     *kgo.Client
	CreatedAt  time.Time
	LastUsed   time.Time
	UseCount   int64
	IsHealthy  bool

	breaker *resilience.Breaker
}

// Call runs fn through the entry's retry policy and circuit breaker (spec
// §4.1: "apply breaker inside retry, each retry attempt is one breaker
// call"), covering every admin-protocol round trip made against this
// connection, not just the background health check.
func (e *Entry) Call(ctx context.Context, fn func(context.Context) error) error {
	return resilience.Call(ctx, resilience.DefaultRetryPolicy(), e.breaker, fn)
}

func (e *Entry) touch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LastUsed = time.Now()
	e.UseCount++
}

func (e *Entry) idleFor(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Sub(e.LastUsed)
}

func (e *Entry) setHealthy(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.IsHealthy = v
}

func (e *Entry) healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.IsHealthy
}

func (e *Entry) close() {
	e.client.Close()
}

// Config tunes the pool's capacity and background job cadence (spec §4.5).
type Config struct {
	MaxConnections  int
	HealthInterval  time.Duration
	CleanupInterval time.Duration
	MaxIdleTime     time.Duration
}

// DefaultConfig matches spec §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections:  50,
		HealthInterval:  60 * time.Second,
		CleanupInterval: 120 * time.Second,
		MaxIdleTime:     300 * time.Second,
	}
}

// Pool is the admin-connection registry. One lock protects the map;
// per-entry operations take the entry's own lock, so an admin operation
// holds the pool lock only long enough to look up and bump stats.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New starts a Pool's background health-check and cleanup jobs.
func New(cfg Config, logger *slog.Logger) *Pool {
	p := &Pool{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*Entry),
		stopCh:  make(chan struct{}),
	}
	p.wg.Add(2)
	go p.runPeriodic(cfg.HealthInterval, p.healthCheckAllLocked)
	go p.runPeriodic(cfg.CleanupInterval, p.evictIdle)
	return p
}

func (p *Pool) runPeriodic(interval time.Duration, fn func(ctx context.Context)) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			fn(context.Background())
		}
	}
}

// Register stores an address-book entry and opens the underlying admin
// connection, applying SSL/SASL settings from connInfo (spec §4.5).
func (p *Pool) Register(ctx context.Context, instanceID string, connInfo *model.ConnectionInfo) error {
	p.mu.Lock()
	if len(p.entries) >= p.cfg.MaxConnections {
		p.mu.Unlock()
		p.evictIdle(ctx)
		p.mu.Lock()
		if len(p.entries) >= p.cfg.MaxConnections {
			p.mu.Unlock()
			return fmt.Errorf("admin pool at capacity (%d connections)", p.cfg.MaxConnections)
		}
	}
	p.mu.Unlock()

	client, admin, err := buildAdminClient(connInfo)
	if err != nil {
		return fmt.Errorf("building admin client for %s: %w", instanceID, err)
	}

	breaker := resilience.NewBreaker(instanceID, breakerConfig())
	breaker.OnStateChange(func(name string, state resilience.State) {
		telemetry.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(state))
	})

	now := time.Now()
	entry := &Entry{
		InstanceID: instanceID,
		Admin:      admin,
		client:     client,
		CreatedAt:  now,
		LastUsed:   now,
		IsHealthy:  true,
		breaker:    breaker,
	}

	p.mu.Lock()
	if old, ok := p.entries[instanceID]; ok {
		old.close()
	}
	p.entries[instanceID] = entry
	p.mu.Unlock()
	return nil
}

func buildAdminClient(connInfo *model.ConnectionInfo) (*kgo.Client, *kadm.Client, error) {
	if connInfo == nil || len(connInfo.BootstrapEndpoints) == 0 {
		return nil, nil, fmt.Errorf("connection_info must carry at least one bootstrap endpoint")
	}

	opts := []kgo.Opt{kgo.SeedBrokers(connInfo.BootstrapEndpoints...)}

	if connInfo.SSL != nil {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{}))
	}

	if connInfo.SASL != nil {
		mechanism, err := saslMechanism(connInfo.SASL)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, kgo.SASL(mechanism))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, err
	}
	return client, kadm.NewClient(client), nil
}

func saslMechanism(m *model.SASLMaterial) (sasl.Mechanism, error) {
	switch m.Mechanism {
	case model.SASLPlain:
		return plain.Auth{User: m.Username, Pass: m.Password}.AsMechanism(), nil
	case model.SASLScramSHA256:
		return scram.Auth{User: m.Username, Pass: m.Password}.AsSha256Mechanism(), nil
	case model.SASLScramSHA512:
		return scram.Auth{User: m.Username, Pass: m.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism %q", m.Mechanism)
	}
}

// Get returns a healthy pooled connection, evicting the entry first if it
// is marked unhealthy (spec §4.5); idle entries are left to the cleanup job.
// Returns nil, false if no healthy entry exists.
func (p *Pool) Get(instanceID string) (*Entry, bool) {
	p.mu.Lock()
	entry, ok := p.entries[instanceID]
	if !ok {
		p.mu.Unlock()
		return nil, false
	}
	p.mu.Unlock()

	if !entry.healthy() {
		p.Remove(instanceID)
		return nil, false
	}

	entry.touch()
	return entry, true
}

// Remove closes and forgets the entry for instanceID.
func (p *Pool) Remove(instanceID string) {
	p.mu.Lock()
	entry, ok := p.entries[instanceID]
	if ok {
		delete(p.entries, instanceID)
	}
	p.mu.Unlock()
	if ok {
		entry.close()
		telemetry.CircuitBreakerState.DeleteLabelValues(instanceID)
	}
}

// healthCheckAllLocked visits every entry's describe-cluster call,
// marking unhealthy on failure (spec §4.5 background job).
func (p *Pool) healthCheckAllLocked(ctx context.Context) {
	p.mu.Lock()
	entries := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		healthy := p.describeClusterOK(ctx, e)
		e.setHealthy(healthy)
		if !healthy {
			p.logger.Warn("admin pool entry unhealthy, evicting", "instance_id", e.InstanceID)
			p.Remove(e.InstanceID)
		}
	}
}

func (p *Pool) describeClusterOK(ctx context.Context, e *Entry) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := e.Call(ctx, func(ctx context.Context) error {
		_, err := e.Admin.Metadata(ctx)
		return err
	})
	return err == nil
}

// HealthCheckAll runs the same sweep the background job does, exposed for
// callers that want an on-demand check (e.g. an admin API endpoint).
func (p *Pool) HealthCheckAll(ctx context.Context) {
	p.healthCheckAllLocked(ctx)
}

// evictIdle removes entries idle beyond MaxIdleTime (spec §4.5 cleanup job).
func (p *Pool) evictIdle(ctx context.Context) {
	now := time.Now()
	p.mu.Lock()
	var stale []string
	for id, e := range p.entries {
		if e.idleFor(now) > p.cfg.MaxIdleTime {
			stale = append(stale, id)
		}
	}
	p.mu.Unlock()

	for _, id := range stale {
		p.logger.Info("evicting idle admin pool entry", "instance_id", id)
		p.Remove(id)
	}
}

// Size reports the current entry count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close drains both periodic jobs and closes every entry.
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.entries {
		e.close()
		delete(p.entries, id)
	}
	return nil
}
