package provider

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kafkaops/agent/pkg/model"
)

// composeService is one entry under a compose file's services: map.
type composeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Networks      []string          `yaml:"networks"`
	Ports         []string          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	DependsOn     []string          `yaml:"depends_on,omitempty"`
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]map[string]any `yaml:"volumes"`
	Networks map[string]map[string]any `yaml:"networks"`
}

// ContainerEngineProvider generates docker-compose manifests and drives
// them with the docker CLI directly (spec §4.4). One manifest directory
// per instance under workDir.
type ContainerEngineProvider struct {
	workDir     string
	brokerImage string
	coordImage  string
	logger      *slog.Logger
}

// NewContainerEngineProvider returns a provider rooted at workDir. Images
// default to well-known Kafka/ZooKeeper-style images when empty.
func NewContainerEngineProvider(workDir, brokerImage, coordImage string, logger *slog.Logger) *ContainerEngineProvider {
	if brokerImage == "" {
		brokerImage = "bitnami/kafka:latest"
	}
	if coordImage == "" {
		coordImage = "bitnami/zookeeper:latest"
	}
	return &ContainerEngineProvider{workDir: workDir, brokerImage: brokerImage, coordImage: coordImage, logger: logger}
}

var _ Runtime = (*ContainerEngineProvider)(nil)

func (p *ContainerEngineProvider) instanceDir(instanceID string) string {
	return filepath.Join(p.workDir, instanceID)
}

func (p *ContainerEngineProvider) projectName(instanceID string) string {
	return "kafkaops-" + instanceID
}

// basePort returns a deterministic broker-0 host port so repeated
// provisioning of the same instance id doesn't collide with siblings.
func basePort(instanceID string) int {
	h := 0
	for _, r := range instanceID {
		h = h*31 + int(r)
	}
	if h < 0 {
		h = -h
	}
	return 19092 + (h % 400)
}

func (p *ContainerEngineProvider) buildManifest(instanceID string, cfg model.ClusterConfig) composeFile {
	network := p.projectName(instanceID) + "-net"
	coordVolume := p.projectName(instanceID) + "-coord-data"

	cf := composeFile{
		Services: map[string]composeService{},
		Volumes:  map[string]map[string]any{coordVolume: {}},
		Networks: map[string]map[string]any{network: {}},
	}

	cf.Services["coordinator"] = composeService{
		Image:         p.coordImage,
		ContainerName: p.projectName(instanceID) + "-coordinator",
		Networks:      []string{network},
		Ports:         []string{fmt.Sprintf("%d:%d", CoordinatorPort, CoordinatorPort)},
		Volumes:       []string{coordVolume + ":/bitnami/zookeeper"},
		Environment:   map[string]string{"ALLOW_ANONYMOUS_LOGIN": "yes"},
	}

	base := basePort(instanceID)
	for i := 0; i < cfg.ClusterSize; i++ {
		name := fmt.Sprintf("broker-%d", i)
		volume := fmt.Sprintf("%s-%s-data", p.projectName(instanceID), name)
		cf.Volumes[volume] = map[string]any{}
		hostPort := base + i
		cf.Services[name] = composeService{
			Image:         p.brokerImage,
			ContainerName: p.projectName(instanceID) + "-" + name,
			Networks:      []string{network},
			Ports:         []string{fmt.Sprintf("%d:%d", hostPort, BrokerBasePort)},
			Volumes:       []string{volume + ":/bitnami/kafka"},
			Environment: map[string]string{
				"KAFKA_BROKER_ID":                     strconv.Itoa(i),
				"KAFKA_CFG_ZOOKEEPER_CONNECT":          "coordinator:" + strconv.Itoa(CoordinatorPort),
				"KAFKA_CFG_ADVERTISED_LISTENERS":       fmt.Sprintf("PLAINTEXT://localhost:%d", hostPort),
				"ALLOW_PLAINTEXT_LISTENER":             "yes",
				"KAFKA_CFG_DEFAULT_REPLICATION_FACTOR": strconv.Itoa(cfg.ReplicationFactor),
			},
			DependsOn: []string{"coordinator"},
		}
	}

	return cf
}

func (p *ContainerEngineProvider) writeManifest(instanceID string, cf composeFile) (string, error) {
	dir := p.instanceDir(instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating manifest directory: %w", err)
	}
	data, err := yaml.Marshal(cf)
	if err != nil {
		return "", fmt.Errorf("marshaling compose manifest: %w", err)
	}
	path := filepath.Join(dir, "docker-compose.yml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing compose manifest: %w", err)
	}
	return path, nil
}

func (p *ContainerEngineProvider) compose(ctx context.Context, instanceID string, args ...string) ([]byte, error) {
	manifestPath := filepath.Join(p.instanceDir(instanceID), "docker-compose.yml")
	full := append([]string{"compose", "-f", manifestPath, "-p", p.projectName(instanceID)}, args...)
	cmd := exec.CommandContext(ctx, "docker", full...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return out.Bytes(), nil
}

func (p *ContainerEngineProvider) Provision(ctx context.Context, instanceID string, cfg model.ClusterConfig) (ProvisionResult, error) {
	manifest := p.buildManifest(instanceID, cfg)
	if _, err := p.writeManifest(instanceID, manifest); err != nil {
		return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
	}

	if _, err := p.compose(ctx, instanceID, "up", "-d"); err != nil {
		p.cleanupBestEffort(context.Background(), instanceID)
		return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
	}

	deadline := time.Now().Add(5 * time.Minute)
	for {
		ready, err := p.allRunning(ctx, instanceID, len(manifest.Services))
		if err == nil && ready {
			break
		}
		if time.Now().After(deadline) {
			p.cleanupBestEffort(context.Background(), instanceID)
			msg := "timed out waiting for containers to become ready"
			return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: msg}, fmt.Errorf(msg)
		}
		select {
		case <-ctx.Done():
			return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: ctx.Err().Error()}, ctx.Err()
		case <-time.After(readinessPoll * 5):
		}
	}

	connInfo, err := p.GetConnectionInfo(ctx, instanceID)
	if err != nil {
		p.cleanupBestEffort(context.Background(), instanceID)
		return ProvisionResult{Status: StatusFailed, InstanceID: instanceID, Error: err.Error()}, err
	}

	return ProvisionResult{Status: StatusSucceeded, InstanceID: instanceID, ConnectionInfo: connInfo}, nil
}

// allRunning counts containers reported "running" by `docker compose ps`.
func (p *ContainerEngineProvider) allRunning(ctx context.Context, instanceID string, want int) (bool, error) {
	out, err := p.compose(ctx, instanceID, "ps", "--format", "json", "--status", "running")
	if err != nil {
		return false, err
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	count := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			count++
		}
	}
	return count >= want, nil
}

func (p *ContainerEngineProvider) Deprovision(ctx context.Context, instanceID string) (DeprovisionResult, error) {
	if _, err := os.Stat(p.instanceDir(instanceID)); os.IsNotExist(err) {
		return DeprovisionResult{Status: StatusSucceeded}, nil
	}

	_, err := p.compose(ctx, instanceID, "down", "--volumes", "--timeout", "30")
	if err != nil {
		p.logger.Warn("compose down failed", "instance_id", instanceID, "error", err)
	}
	if err := os.RemoveAll(p.instanceDir(instanceID)); err != nil {
		return DeprovisionResult{Status: StatusFailed, Error: err.Error()}, err
	}
	return DeprovisionResult{Status: StatusSucceeded}, nil
}

func (p *ContainerEngineProvider) cleanupBestEffort(ctx context.Context, instanceID string) {
	if _, err := p.compose(ctx, instanceID, "down", "--volumes", "--timeout", "10"); err != nil {
		p.logger.Warn("best-effort cleanup failed", "instance_id", instanceID, "error", err)
	}
	os.RemoveAll(p.instanceDir(instanceID))
}

func (p *ContainerEngineProvider) GetStatus(ctx context.Context, instanceID string) (ProvisionStatus, error) {
	if _, err := os.Stat(p.instanceDir(instanceID)); os.IsNotExist(err) {
		return StatusFailed, nil
	}
	out, err := p.compose(ctx, instanceID, "ps", "--format", "json")
	if err != nil {
		return StatusFailed, nil
	}
	if strings.TrimSpace(string(out)) == "" {
		return StatusFailed, nil
	}
	return StatusSucceeded, nil
}

func (p *ContainerEngineProvider) GetConnectionInfo(ctx context.Context, instanceID string) (*model.ConnectionInfo, error) {
	manifestPath := filepath.Join(p.instanceDir(instanceID), "docker-compose.yml")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest for connection info: %w", err)
	}
	var cf composeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parsing manifest for connection info: %w", err)
	}

	var endpoints []string
	for name, svc := range cf.Services {
		if name == "coordinator" {
			continue
		}
		out, err := p.compose(ctx, instanceID, "port", name, strconv.Itoa(BrokerBasePort))
		if err == nil && strings.TrimSpace(string(out)) != "" {
			endpoints = append(endpoints, strings.TrimSpace(string(out)))
			continue
		}
		// fall back to the port mapping the manifest itself declared
		if len(svc.Ports) > 0 {
			endpoints = append(endpoints, "localhost:"+strings.Split(svc.Ports[0], ":")[0])
		}
	}

	return &model.ConnectionInfo{
		BootstrapEndpoints: endpoints,
		CoordinatorConn:    fmt.Sprintf("localhost:%d", CoordinatorPort),
	}, nil
}

func (p *ContainerEngineProvider) HealthCheck(ctx context.Context, instanceID string) bool {
	status, err := p.GetStatus(ctx, instanceID)
	return err == nil && status == StatusSucceeded
}
